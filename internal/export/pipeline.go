// Package export converts the credential store of an account into a profile,
// packages it and delivers the archive.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/account"
	"github.com/openkcm/session-exporter/internal/delivery"
	"github.com/openkcm/session-exporter/internal/lockreg"
	"github.com/openkcm/session-exporter/internal/serviceerr"
)

type Converter interface {
	Convert(ctx context.Context, storePath, profileDir string) (string, error)
}

type Archiver interface {
	Archive(ctx context.Context, paths []string, archivePath string) (int64, error)
}

type Delivery interface {
	Deliver(ctx context.Context, archivePath, destination, caption string) (delivery.Receipt, error)
}

// Job describes one pipeline run.
type Job struct {
	Identifier   string
	IncludeStore bool
	Destination  string // Skips delivery when empty
	Caption      string // Defaults to "<identifier> • <archive name>"
}

type Result struct {
	Identifier  string
	ProfileDir  string
	ArchivePath string
	Size        int64
	Delivered   bool
	Receipt     delivery.Receipt
}

// Profile is the outcome of a conversion.
type Profile struct {
	Dir  string
	Size int64
}

type Pipeline struct {
	layout    account.Layout
	locks     *lockreg.Registry
	converter Converter
	archiver  Archiver
	delivery  Delivery
	now       func() time.Time
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func NewPipeline(layout account.Layout, locks *lockreg.Registry, converter Converter, archiver Archiver, delivery Delivery, opts ...Option) *Pipeline {
	p := &Pipeline{
		layout:    layout,
		locks:     locks,
		converter: converter,
		archiver:  archiver,
		delivery:  delivery,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run converts, archives and delivers. Convert and archive hold the resource
// lock of the account; delivery runs without it. An archive is kept on disk
// when its delivery fails.
func (p *Pipeline) Run(ctx context.Context, job Job) (Result, error) {
	identifier, err := validIdentifier(job.Identifier)
	if err != nil {
		return Result{}, err
	}

	ctx = slogctx.With(ctx, "resource_key", p.layout.ResourceKey(identifier))

	res, err := p.archive(ctx, identifier, job.IncludeStore)
	if err != nil {
		return Result{}, err
	}

	if job.Destination == "" {
		slogctx.Info(ctx, "No delivery destination, archive kept", "archive", res.ArchivePath)
		return res, nil
	}

	caption := job.Caption
	if caption == "" {
		caption = identifier + " • " + filepath.Base(res.ArchivePath)
	}

	receipt, err := p.delivery.Deliver(ctx, res.ArchivePath, job.Destination, caption)
	if err != nil {
		slogctx.Error(ctx, "Archive delivery failed", "archive", res.ArchivePath, "error", err)
		return res, serviceerr.Wrap(serviceerr.CodeDeliveryError, err)
	}

	res.Delivered = true
	res.Receipt = receipt
	slogctx.Info(ctx, "Archive delivered", "archive", res.ArchivePath, "message_id", receipt.MessageID)

	return res, nil
}

// Convert only produces the profile folder of the account.
func (p *Pipeline) Convert(ctx context.Context, identifier string) (Profile, error) {
	identifier, err := validIdentifier(identifier)
	if err != nil {
		return Profile{}, err
	}

	unlock := p.locks.Lock(p.layout.ResourceKey(identifier))
	defer unlock()

	dir, err := p.convert(ctx, identifier)
	if err != nil {
		return Profile{}, err
	}

	size, err := dirSize(dir)
	if err != nil {
		return Profile{}, serviceerr.Wrap(serviceerr.CodeConversionError, err)
	}

	return Profile{Dir: dir, Size: size}, nil
}

// Archive converts and packages without delivering.
func (p *Pipeline) Archive(ctx context.Context, identifier string, includeStore bool) (Result, error) {
	identifier, err := validIdentifier(identifier)
	if err != nil {
		return Result{}, err
	}

	return p.archive(ctx, identifier, includeStore)
}

// Download resolves an archive produced earlier.
func (p *Pipeline) Download(identifier string, timestamp int64) (string, error) {
	identifier, err := validIdentifier(identifier)
	if err != nil {
		return "", err
	}
	if timestamp <= 0 {
		return "", serviceerr.New(serviceerr.CodeValidation, "timestamp is required")
	}

	path := p.layout.ArchivePathForTimestamp(identifier, timestamp)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", serviceerr.New(serviceerr.CodeNotFound, "archive not found")
	}

	return path, nil
}

// Discover lists the identifiers having a credential store.
func (p *Pipeline) Discover() ([]string, error) {
	return p.layout.Identifiers()
}

// Prune removes the archives last modified before the cutoff and returns how
// many were removed. Archives still being written are not considered.
func (p *Pipeline) Prune(ctx context.Context, before time.Time) (int, error) {
	archives, err := p.layout.Archives()
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, path := range archives {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(before) {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing archive: %w", err))
			continue
		}
		removed++
		slogctx.Debug(ctx, "Archive pruned", "archive", path, "modified", info.ModTime())
	}

	return removed, errors.Join(errs...)
}

func (p *Pipeline) archive(ctx context.Context, identifier string, includeStore bool) (Result, error) {
	unlock := p.locks.Lock(p.layout.ResourceKey(identifier))
	defer unlock()

	dir, err := p.convert(ctx, identifier)
	if err != nil {
		return Result{}, err
	}

	paths := []string{dir}
	if includeStore {
		paths = append(paths, p.layout.StorePath(identifier))
	}

	archivePath := p.layout.ArchivePath(identifier, p.now())
	size, err := p.archiver.Archive(ctx, paths, archivePath)
	if err != nil {
		slogctx.Error(ctx, "Packaging failed", "error", err)
		return Result{}, serviceerr.Wrap(serviceerr.CodePackagingError, err)
	}

	slogctx.Info(ctx, "Archive created", "archive", archivePath, "size", size)

	return Result{
		Identifier:  identifier,
		ProfileDir:  dir,
		ArchivePath: archivePath,
		Size:        size,
	}, nil
}

// convert must be called with the resource lock held.
func (p *Pipeline) convert(ctx context.Context, identifier string) (string, error) {
	root := p.layout.ProfileRoot(identifier)
	if err := os.RemoveAll(root); err != nil {
		return "", serviceerr.Wrap(serviceerr.CodeConversionError, fmt.Errorf("removing previous profile: %w", err))
	}

	dir, err := p.converter.Convert(ctx, p.layout.StorePath(identifier), p.layout.ProfileDir(identifier))
	if err != nil {
		slogctx.Error(ctx, "Conversion failed", "error", err)
		return "", serviceerr.Wrap(serviceerr.CodeConversionError, err)
	}

	return dir, nil
}

func validIdentifier(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", serviceerr.New(serviceerr.CodeValidation, "phone is required")
	}

	return identifier, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()

		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("measuring profile: %w", err)
	}

	return total, nil
}
