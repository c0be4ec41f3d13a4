package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// CommandProber runs a command and succeeds when it exits zero.
type CommandProber struct {
	command []string
	output  io.Writer
}

// NewCommand constructs a command prober. Output, when non-nil, receives the
// command's combined stdout and stderr.
func NewCommand(output io.Writer, command ...string) (*CommandProber, error) {
	if len(command) == 0 {
		return nil, errors.New("probe: command requires at least one argument")
	}
	if output == nil {
		output = io.Discard
	}
	return &CommandProber{command: append([]string(nil), command...), output: output}, nil
}

// Probe runs the command. A missing executable surfaces an error matching
// exec.ErrNotFound.
func (p *CommandProber) Probe(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Stdout = p.output
	cmd.Stderr = p.output
	if err := cmd.Run(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("exit %d", exitErr.ExitCode())
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}
