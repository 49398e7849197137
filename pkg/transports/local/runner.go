// Package local provides a capability runner that executes commands on the
// control machine itself. Intended for converging localhost and for
// end-to-end testing without SSH infrastructure.
package local

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/converge-sh/converge/pkg/capability"
	"github.com/converge-sh/converge/pkg/inventory"
)

// Runner executes commands through the local shell.
type Runner struct {
	// Shell is the shell binary used to interpret commands (default: sh).
	Shell string
}

// NewRunner creates a local runner.
func NewRunner() *Runner {
	return &Runner{Shell: "sh"}
}

// Execute runs a command locally. Elevated commands are prefixed with sudo.
// Non-zero exit codes are returned in the result, not as errors.
func (r *Runner) Execute(ctx context.Context, host *inventory.Host, command string, elevated bool) (*capability.ExecResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	if elevated {
		command = "sudo " + command
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &capability.ExecResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	log.Debug().
		Str("host", host.ID).
		Str("command", command).
		Err(err).
		Msg("local command completed")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// Upload writes content to a local path, creating parent directories.
func (r *Runner) Upload(_ context.Context, host *inventory.Host, content []byte, remotePath string) error {
	if dir := filepath.Dir(remotePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	log.Debug().
		Str("host", host.ID).
		Str("path", remotePath).
		Int("bytes", len(content)).
		Msg("local file written")
	return os.WriteFile(remotePath, content, 0644)
}
