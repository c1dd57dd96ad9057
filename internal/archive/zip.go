// Package archive packages files and folders into zip archives.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	slogctx "github.com/veqryn/slog-context"
)

// Zipper writes deflate compressed zip archives. A file is stored under its
// base name; a folder keeps its base name as the root of its entries.
type Zipper struct{}

func NewZipper() *Zipper {
	return &Zipper{}
}

// Archive writes the existing paths into archivePath and returns the size of
// the archive. Missing paths are skipped.
func (z *Zipper) Archive(ctx context.Context, paths []string, archivePath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o750); err != nil {
		return 0, fmt.Errorf("creating archive directory: %w", err)
	}

	tmpPath := archivePath + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}

	err = z.write(ctx, f, paths)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing archive: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, archivePath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("moving archive into place: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return 0, fmt.Errorf("reading archive size: %w", err)
	}

	return info.Size(), nil
}

func (z *Zipper) write(ctx context.Context, w io.Writer, paths []string) error {
	zw := zip.NewWriter(w)

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			slogctx.Debug(ctx, "Skipping missing archive input", "path", p)
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}

		if info.IsDir() {
			err = addDir(zw, p)
		} else {
			err = addFile(zw, p, info, filepath.Base(p))
		}
		if err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}

	return nil
}

func addDir(zw *zip.Writer, dir string) error {
	parent := filepath.Dir(dir)

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name, err := filepath.Rel(parent, path)
		if err != nil {
			return fmt.Errorf("relativising %s: %w", path, err)
		}

		return addFile(zw, path, info, filepath.ToSlash(name))
	})
}

func addFile(zw *zip.Writer, path string, info fs.FileInfo, name string) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("building header for %s: %w", path, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying %s: %w", path, err)
	}

	return nil
}
