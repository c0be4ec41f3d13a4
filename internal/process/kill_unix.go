//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

// Kill sends SIGKILL to the child's process group and waits for the child to
// be reaped.
func (p *Process) Kill(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	select {
	case <-p.waitDone:
		return nil
	default:
	}

	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
