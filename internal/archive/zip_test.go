package archive_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-exporter/internal/archive"
)

func entries(t *testing.T, path string) map[string]string {
	t.Helper()

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string]string, len(r.File))
	for _, f := range r.File {
		assert.Equal(t, zip.Deflate, f.Method, f.Name)

		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		out[f.Name] = string(data)
	}

	return out
}

func names(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)

	return out
}

func setup(t *testing.T) (profileDir, storePath string) {
	t.Helper()

	root := t.TempDir()
	profileDir = filepath.Join(root, "profiles", "+1", "tdata")
	require.NoError(t, os.MkdirAll(filepath.Join(profileDir, "D877F783D5D3EF8C"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(profileDir, "key_datas"), []byte("key"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(profileDir, "D877F783D5D3EF8C", "maps"), []byte("maps"), 0o600))

	storePath = filepath.Join(root, "sessions", "+1.session")
	require.NoError(t, os.MkdirAll(filepath.Dir(storePath), 0o750))
	require.NoError(t, os.WriteFile(storePath, []byte("session"), 0o600))

	return profileDir, storePath
}

func TestZipper_Archive(t *testing.T) {
	profileDir, storePath := setup(t)
	missing := filepath.Join(t.TempDir(), "missing.session")

	tests := []struct {
		name      string
		paths     []string
		wantNames []string
	}{
		{
			name:      "Profile and store",
			paths:     []string{profileDir, storePath},
			wantNames: []string{"+1.session", "tdata/D877F783D5D3EF8C/maps", "tdata/key_datas"},
		},
		{
			name:      "Missing store is skipped",
			paths:     []string{profileDir, missing},
			wantNames: []string{"tdata/D877F783D5D3EF8C/maps", "tdata/key_datas"},
		},
		{
			name:      "Only the store",
			paths:     []string{missing, storePath},
			wantNames: []string{"+1.session"},
		},
		{
			name:      "Nothing exists",
			paths:     []string{missing},
			wantNames: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archivePath := filepath.Join(t.TempDir(), "exports", "+1-1700000000.zip")

			size, err := archive.NewZipper().Archive(t.Context(), tt.paths, archivePath)
			require.NoError(t, err)

			info, err := os.Stat(archivePath)
			require.NoError(t, err)
			assert.Equal(t, info.Size(), size)
			assert.NoFileExists(t, archivePath+".part")

			got := entries(t, archivePath)
			assert.Equal(t, tt.wantNames, names(got))
		})
	}
}

func TestZipper_ArchiveContent(t *testing.T) {
	profileDir, storePath := setup(t)
	archivePath := filepath.Join(t.TempDir(), "out.zip")

	_, err := archive.NewZipper().Archive(t.Context(), []string{profileDir, storePath}, archivePath)
	require.NoError(t, err)

	got := entries(t, archivePath)
	assert.Equal(t, "key", got["tdata/key_datas"])
	assert.Equal(t, "maps", got["tdata/D877F783D5D3EF8C/maps"])
	assert.Equal(t, "session", got["+1.session"])
}

func TestZipper_ArchiveCancelled(t *testing.T) {
	profileDir, _ := setup(t)
	archivePath := filepath.Join(t.TempDir(), "out.zip")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := archive.NewZipper().Archive(ctx, []string{profileDir}, archivePath)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, archivePath)
	assert.NoFileExists(t, archivePath+".part")
}
