package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"kyc-backup/internal/logging"
)

// maxStderr bounds how much tool stderr is kept for error reporting
const maxStderr = 8 << 10

// Command describes one invocation of an external database tool
type Command struct {
	Name   string
	Args   []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
}

// CommandRunner runs external database tools
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) error
}

// ToolError is returned when a database tool exits unsuccessfully
type ToolError struct {
	Tool     string
	ExitCode int
	stderr   string
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, msg)
}

// Stderr returns the captured standard error of the tool
func (e *ToolError) Stderr() string {
	return e.stderr
}

// NewToolError builds a ToolError, used by runners and tests
func NewToolError(tool string, exitCode int, stderr string) *ToolError {
	return &ToolError{Tool: tool, ExitCode: exitCode, stderr: stderr}
}

// ExecRunner runs tools with os/exec, optionally from a fixed directory
type ExecRunner struct {
	ToolsDir string
	Logger   *logging.Logger
}

// Run executes the command and waits for it. Stderr is captured into the returned error.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	path := c.Name
	if r.ToolsDir != "" {
		path = filepath.Join(r.ToolsDir, c.Name)
	} else if resolved, err := exec.LookPath(c.Name); err == nil {
		path = resolved
	} else {
		return fmt.Errorf("%s not found in PATH: %w", c.Name, err)
	}
	if r.Logger != nil {
		r.Logger.LogCommand(ctx, c.Name, c.Args)
	}

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout

	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return NewToolError(c.Name, exitErr.ExitCode(), stderr.String())
		}
		return fmt.Errorf("failed to run %s: %w", c.Name, err)
	}
	return nil
}

type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
