// Package account derives resource keys and on-disk locations from an
// account identifier (a phone number). Every component that locks or
// touches a credential store must derive the key through the same Layout.
package account

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	sessionExt     = ".session"
	archiveExt     = ".zip"
	profileDirName = "tdata"
	unknownKey     = "unknown"
)

// KeyFunc maps an account identifier to a filesystem safe resource key.
type KeyFunc func(identifier string) string

// SafeKey keeps the digits and the plus sign of the identifier.
func SafeKey(identifier string) string {
	var b strings.Builder
	for _, r := range identifier {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return unknownKey
	}

	return b.String()
}

type Layout struct {
	SessionsDir string
	ProfilesDir string
	ExportsDir  string
	Key         KeyFunc
}

func NewLayout(sessionsDir, profilesDir, exportsDir string) Layout {
	return Layout{
		SessionsDir: sessionsDir,
		ProfilesDir: profilesDir,
		ExportsDir:  exportsDir,
		Key:         SafeKey,
	}
}

// Ensure creates the three root directories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.SessionsDir, l.ProfilesDir, l.ExportsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}

func (l Layout) ResourceKey(identifier string) string {
	if l.Key == nil {
		return SafeKey(identifier)
	}

	return l.Key(identifier)
}

// StorePath is the credential store of the account.
func (l Layout) StorePath(identifier string) string {
	return filepath.Join(l.SessionsDir, l.ResourceKey(identifier)+sessionExt)
}

// ProfileRoot holds everything produced by a conversion for the account.
func (l Layout) ProfileRoot(identifier string) string {
	return filepath.Join(l.ProfilesDir, l.ResourceKey(identifier))
}

// ProfileDir is the converted profile folder.
func (l Layout) ProfileDir(identifier string) string {
	return filepath.Join(l.ProfileRoot(identifier), profileDirName)
}

// ArchivePath is the export archive created at the given time.
func (l Layout) ArchivePath(identifier string, at time.Time) string {
	return l.ArchivePathForTimestamp(identifier, at.Unix())
}

func (l Layout) ArchivePathForTimestamp(identifier string, ts int64) string {
	return filepath.Join(l.ExportsDir, fmt.Sprintf("%s-%d%s", l.ResourceKey(identifier), ts, archiveExt))
}

// Identifiers lists the accounts having a credential store, sorted by name.
func (l Layout) Identifiers() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.SessionsDir, "*"+sessionExt))
	if err != nil {
		return nil, fmt.Errorf("listing session files: %w", err)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), sessionExt))
	}

	return ids, nil
}

// Archives lists the export archives, sorted by name.
func (l Layout) Archives() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.ExportsDir, "*"+archiveExt))
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}

	return matches, nil
}
