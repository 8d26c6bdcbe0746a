// Package workspace models the filesystem an engine operates on. A
// workspace is either a local directory on this host or a remote surface
// reached through a shell-command runner (e.g. a sandbox container).
package workspace

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrTraversal = errors.New("path traversal not allowed")

// CommandResult is the outcome of one remote shell command.
type CommandResult struct {
	Stdout   string
	ExitCode int
}

// Runner is the command surface a remote workspace is reached through.
type Runner interface {
	ExecuteCommand(ctx context.Context, cmd string) (CommandResult, error)
}

// Workspace is the tagged union of the two workspace kinds. Exactly one
// of the two constructors produces each kind; IsLocal discriminates.
type Workspace struct {
	root   string
	runner Runner
}

// NewLocal returns a workspace backed by a directory on this host.
func NewLocal(root string) *Workspace {
	return &Workspace{root: root}
}

// NewRemote returns a workspace reached through a command runner. The
// root is the mount path inside the remote environment.
func NewRemote(runner Runner, root string) *Workspace {
	return &Workspace{root: root, runner: runner}
}

func (w *Workspace) IsLocal() bool { return w.runner == nil }

// Root returns the workspace root path (local directory or remote mount).
func (w *Workspace) Root() string { return w.root }

// Execute runs a shell command on the remote command surface. A local
// workspace has none; callers branch on IsLocal first.
func (w *Workspace) Execute(ctx context.Context, cmd string) (CommandResult, error) {
	if w.IsLocal() {
		return CommandResult{}, errors.New("local workspace has no command surface")
	}
	return w.runner.ExecuteCommand(ctx, cmd)
}

// ReadFile reads a file by workspace-relative path. Traversal sequences
// are rejected outright rather than resolved.
func (w *Workspace) ReadFile(ctx context.Context, path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", ErrTraversal
	}

	if w.IsLocal() {
		full := filepath.Join(w.root, strings.TrimPrefix(path, "/"))
		data, err := os.ReadFile(full)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	safe := strings.ReplaceAll(path, `"`, `\"`)
	res, err := w.runner.ExecuteCommand(ctx, fmt.Sprintf(`cat "%s"`, safe))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("file not found or unreadable: %s", path)
	}
	return res.Stdout, nil
}

// WriteFile writes content to a workspace-relative path, creating parent
// directories as needed. Remote writes go through the command surface
// with base64 framing so the content never meets shell quoting.
func (w *Workspace) WriteFile(ctx context.Context, path, content string) error {
	if strings.Contains(path, "..") {
		return ErrTraversal
	}

	if w.IsLocal() {
		full := filepath.Join(w.root, strings.TrimPrefix(path, "/"))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		return os.WriteFile(full, []byte(content), 0o644)
	}

	safe := strings.ReplaceAll(path, `"`, `\"`)
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	cmd := fmt.Sprintf(`mkdir -p "$(dirname "%s")" && echo %s | base64 -d > "%s"`, safe, encoded, safe)
	res, err := w.runner.ExecuteCommand(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("write failed with exit code %d", res.ExitCode)
	}
	return nil
}
