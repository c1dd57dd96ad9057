package account_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-exporter/internal/account"
)

func TestSafeKey(t *testing.T) {
	tests := []struct {
		identifier string
		want       string
	}{
		{identifier: "+15551234567", want: "+15551234567"},
		{identifier: " +1 (555) 123-4567 ", want: "+15551234567"},
		{identifier: "../../etc/passwd", want: "unknown"},
		{identifier: "", want: "unknown"},
		{identifier: "+91/79", want: "+9179"},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			assert.Equal(t, tt.want, account.SafeKey(tt.identifier))
		})
	}
}

func TestLayout_Paths(t *testing.T) {
	l := account.NewLayout("/s", "/p", "/e")
	at := time.Unix(1700000000, 0)

	assert.Equal(t, "+15551234567", l.ResourceKey("+1 555 123 4567"))
	assert.Equal(t, filepath.Join("/s", "+15551234567.session"), l.StorePath("+15551234567"))
	assert.Equal(t, filepath.Join("/p", "+15551234567"), l.ProfileRoot("+15551234567"))
	assert.Equal(t, filepath.Join("/p", "+15551234567", "tdata"), l.ProfileDir("+15551234567"))
	assert.Equal(t, filepath.Join("/e", "+15551234567-1700000000.zip"), l.ArchivePath("+15551234567", at))
	assert.Equal(t, l.ArchivePath("+15551234567", at), l.ArchivePathForTimestamp("+15551234567", 1700000000))
}

func TestLayout_CustomKey(t *testing.T) {
	l := account.NewLayout("/s", "/p", "/e")
	l.Key = func(string) string { return "fixed" }

	assert.Equal(t, filepath.Join("/s", "fixed.session"), l.StorePath("anything"))

	var zero account.Layout
	assert.Equal(t, "+1", zero.ResourceKey("+1"), "nil key func falls back to SafeKey")
}

func TestLayout_EnsureAndIdentifiers(t *testing.T) {
	root := t.TempDir()
	l := account.NewLayout(
		filepath.Join(root, "sessions"),
		filepath.Join(root, "profiles"),
		filepath.Join(root, "exports"),
	)

	require.NoError(t, l.Ensure())
	for _, dir := range []string{l.SessionsDir, l.ProfilesDir, l.ExportsDir} {
		assert.DirExists(t, dir)
	}

	require.NoError(t, os.WriteFile(l.StorePath("+2"), []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(l.StorePath("+1"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(l.SessionsDir, "notes.txt"), []byte("x"), 0o600))

	ids, err := l.Identifiers()
	require.NoError(t, err)
	assert.Equal(t, []string{"+1", "+2"}, ids)
}

func TestLayout_Archives(t *testing.T) {
	l := account.NewLayout("", "", t.TempDir())

	for _, name := range []string{"+1-1.zip", "+1-2.zip", "+1-3.zip.part", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(l.ExportsDir, name), nil, 0o600))
	}

	archives, err := l.Archives()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(l.ExportsDir, "+1-1.zip"),
		filepath.Join(l.ExportsDir, "+1-2.zip"),
	}, archives)
}
