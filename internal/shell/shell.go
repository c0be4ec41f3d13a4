// Package shell connects the backend supervisor to a host application's
// lifecycle: start at launch, stop at close, and render errors for the UI.
package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Paintersrp/minicars/internal/api"
	"github.com/Paintersrp/minicars/internal/backend"
)

// CodeInternal prefixes errors that did not come from the supervisor.
const CodeInternal = "INTERNAL"

// Supervisor is the part of backend.Supervisor the shell drives.
type Supervisor interface {
	EnsureRunning(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() backend.Status
}

// RenderedError is an error crossing into the UI. Its message is prefixed with
// a machine-readable code.
type RenderedError struct {
	Code string
	Err  error
}

func (e *RenderedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RenderedError) Unwrap() error {
	return e.Err
}

// Render formats err as "CODE: message".
func Render(err error) string {
	if err == nil {
		return ""
	}
	var rendered *RenderedError
	if errors.As(err, &rendered) {
		return rendered.Error()
	}
	return render(err).Error()
}

func render(err error) *RenderedError {
	code := backend.CodeOf(err)
	if code == "" {
		code = CodeInternal
	}
	return &RenderedError{Code: code, Err: err}
}

// Shell owns the supervisor on behalf of the host application.
type Shell struct {
	sup    Supervisor
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps sup.
func New(sup Supervisor, logger *zap.Logger) *Shell {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{
		sup:    sup,
		logger: logger.Named("shell"),
		closed: make(chan struct{}),
	}
}

// Startup starts the backend on a separate goroutine. The returned channel
// receives the rendered outcome, nil on success, and is then closed. A failed
// start is logged; the caller keeps running without a backend.
func (s *Shell) Startup(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		if err := s.sup.EnsureRunning(ctx); err != nil {
			rendered := render(err)
			s.logger.Error("backend unavailable; continuing without it",
				zap.String("code", rendered.Code),
				zap.Error(err))
			out <- rendered
			return
		}
		s.logger.Info("backend started")
		out <- nil
	}()
	return out
}

// EnsureBackendRunning is the command exposed to the UI layer. Errors are
// *RenderedError values.
func (s *Shell) EnsureBackendRunning(ctx context.Context) (string, error) {
	if err := s.sup.EnsureRunning(ctx); err != nil {
		return "", render(err)
	}
	st := s.sup.Status()
	return fmt.Sprintf("backend running at %s (pid %d)", st.URL, st.PID), nil
}

// Close stops the backend on a separate goroutine. The returned channel is
// closed when the stop has finished. Later calls return the same channel.
func (s *Shell) Close(ctx context.Context) <-chan struct{} {
	s.closeOnce.Do(func() {
		go func() {
			defer close(s.closed)
			s.logger.Info("closing; stopping backend")
			if err := s.sup.Stop(ctx); err != nil {
				s.logger.Error("backend stop failed", zap.String("code", backend.CodeOf(err)), zap.Error(err))
			}
		}()
	})
	return s.closed
}

// Status implements api.Controller.
func (s *Shell) Status(ctx context.Context) (*api.StatusReport, error) {
	return api.NewStatusReport(s.sup.Status()), nil
}

// Ensure implements api.Controller.
func (s *Shell) Ensure(ctx context.Context) (*api.StatusReport, error) {
	if _, err := s.EnsureBackendRunning(ctx); err != nil {
		return nil, err
	}
	return api.NewStatusReport(s.sup.Status()), nil
}

// Stop implements api.Controller.
func (s *Shell) Stop(ctx context.Context) (*api.StatusReport, error) {
	if err := s.StopBackend(ctx); err != nil {
		return nil, err
	}
	return api.NewStatusReport(s.sup.Status()), nil
}

// StopBackend stops the backend without closing the shell.
func (s *Shell) StopBackend(ctx context.Context) error {
	if err := s.sup.Stop(ctx); err != nil {
		return render(err)
	}
	return nil
}

// Snapshot returns the supervisor's current status.
func (s *Shell) Snapshot() backend.Status {
	return s.sup.Status()
}
