// Package convert turns a credential store into a portable profile folder by
// running an external converter.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	slogctx "github.com/veqryn/slog-context"
)

const (
	PlaceholderSession = "{session}"
	PlaceholderOutput  = "{output}"

	// alternative folder name some converter builds write to
	altProfileDirName = ".tdata"

	maxStderr = 4 << 10
)

var ErrNoCommand = errors.New("no converter command configured")

// Command runs argv after replacing the placeholders with the store path and
// the target profile folder.
type Command struct {
	argv []string
	env  []string
}

func NewCommand(argv []string, env ...string) *Command {
	return &Command{argv: argv, env: env}
}

// Convert writes the profile of storePath into profileDir and returns the
// folder actually produced.
func (c *Command) Convert(ctx context.Context, storePath, profileDir string) (string, error) {
	if len(c.argv) == 0 {
		return "", ErrNoCommand
	}

	if _, err := os.Stat(storePath); err != nil {
		return "", fmt.Errorf("session file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(profileDir), 0o750); err != nil {
		return "", fmt.Errorf("creating profile root: %w", err)
	}

	args := make([]string, len(c.argv))
	for i, a := range c.argv {
		a = strings.ReplaceAll(a, PlaceholderSession, storePath)
		args[i] = strings.ReplaceAll(a, PlaceholderOutput, profileDir)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), c.env...)
	cmd.Stderr = &stderr

	slogctx.Debug(ctx, "Running converter", "command", args[0], "output", profileDir)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		if msg != "" {
			return "", fmt.Errorf("running converter: %w: %s", err, msg)
		}

		return "", fmt.Errorf("running converter: %w", err)
	}

	for _, dir := range []string{profileDir, filepath.Join(filepath.Dir(profileDir), altProfileDirName)} {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			return dir, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("checking profile folder: %w", err)
		}
	}

	return "", fmt.Errorf("converter finished but no profile folder found at %s", profileDir)
}
