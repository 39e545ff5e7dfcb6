// Package toolexec runs the external wire-analyzer and audio tools with a
// hard deadline. Arguments are passed directly, never through a shell, so
// Call-IDs and numbers taken from SIP traffic cannot inject commands.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
)

// DefaultTimeout bounds a single tool invocation
const DefaultTimeout = 60 * time.Second

// waitDelay lets Wait return after a kill even if a grandchild holds the output pipe
const waitDelay = time.Second

// ErrTimeout is returned when the tool was killed at its deadline
var ErrTimeout = errors.New("external tool timed out")

// ErrNotFound is returned when the tool binary cannot be located
var ErrNotFound = errors.New("external tool not found")

// Runner executes one external program
type Runner struct {
	Path    string
	Timeout time.Duration
}

// Run executes the tool with args and returns its combined output. The
// process is killed when ctx ends or Timeout elapses.
func (r Runner) Run(ctx context.Context, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	path, err := exec.LookPath(r.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, r.Path)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("Executing tool", "tool", r.Path, "args", strings.Join(args, " "))

	// #nosec G204 -- tool path from config, arguments passed without a shell
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = waitDelay
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Error("Tool timed out", "tool", r.Path, "timeout", timeout)
			return output, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, r.Path)
		}
		return output, fmt.Errorf("%s failed: %w: %s", r.Path, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}
