package backend

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/minicars/internal/config"
	"github.com/Paintersrp/minicars/internal/process"
)

// Environment variables exported to the backend process.
const (
	EnvBackendPort = "MINICARS_BACKEND_PORT"
	EnvBackendHost = "MINICARS_BACKEND_HOST"
	EnvRuntimeMode = "MINICARS_ENV"
)

// LivenessState is the tri-state outcome of a non-blocking liveness check.
type LivenessState int

const (
	LivenessAlive LivenessState = iota
	LivenessExited
	// LivenessExitedUnknown means the process is gone but left no exit code,
	// typically because it was killed by a signal.
	LivenessExitedUnknown
)

func (s LivenessState) String() string {
	switch s {
	case LivenessAlive:
		return "alive"
	case LivenessExited:
		return "exited"
	case LivenessExitedUnknown:
		return "exited (unknown status)"
	default:
		return "unknown"
	}
}

// Liveness reports whether a backend process is still running.
type Liveness struct {
	State    LivenessState
	ExitCode int
	// Err is the wait error when the exit status could not be read.
	Err error
}

// Handle owns a running backend process.
type Handle struct {
	proc      *process.Process
	command   string
	startedAt time.Time
}

func newHandle(proc *process.Process, command string) *Handle {
	return &Handle{proc: proc, command: command, startedAt: time.Now()}
}

// PID returns the backend's process id.
func (h *Handle) PID() int {
	return h.proc.PID()
}

// Command returns the command line the process was started with.
func (h *Handle) Command() string {
	return h.command
}

// StartedAt reports when the process was spawned.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.proc.Done()
}

// PollLiveness checks, without blocking, whether the process is still running.
func (h *Handle) PollLiveness() Liveness {
	exited, code, known := h.proc.Exited()
	switch {
	case !exited:
		return Liveness{State: LivenessAlive}
	case known:
		return Liveness{State: LivenessExited, ExitCode: code}
	default:
		return Liveness{State: LivenessExitedUnknown, Err: h.proc.Err()}
	}
}

// kill terminates the process group and waits until the process is reaped.
func (h *Handle) kill(ctx context.Context) error {
	return h.proc.Kill(ctx)
}

// Launcher starts the backend as an interpreter running uvicorn.
type Launcher struct {
	Mode config.Mode
	Host string
	Port int
	App  string
	// Env is added to the parent environment before the MINICARS_* variables.
	Env    map[string]string
	Logger *zap.Logger

	start func(process.Spec) (*process.Process, error)
}

// NewLauncher builds a launcher from cfg.
func NewLauncher(cfg *config.Config) *Launcher {
	env := make(map[string]string, len(cfg.Backend.ResolvedEnv))
	for k, v := range cfg.Backend.ResolvedEnv {
		env[k] = v
	}
	return &Launcher{
		Mode:   cfg.Mode,
		Host:   cfg.Backend.Host,
		Port:   cfg.Backend.Port,
		App:    cfg.Backend.App,
		Env:    env,
		Logger: zap.NewNop(),
		start:  process.Start,
	}
}

// Spec returns the process description used to start the backend at loc.
func (l *Launcher) Spec(loc Location) process.Spec {
	interpreter := loc.Interpreter
	if interpreter == "" {
		interpreter = "python"
	}
	env := make(map[string]string, len(l.Env)+3)
	for k, v := range l.Env {
		env[k] = v
	}
	env[EnvBackendPort] = strconv.Itoa(l.Port)
	env[EnvBackendHost] = l.Host
	env[EnvRuntimeMode] = l.Mode.EnvMarker()

	return process.Spec{
		Name: "backend",
		Command: []string{
			interpreter, "-m", "uvicorn", l.App,
			"--host", l.Host,
			"--port", strconv.Itoa(l.Port),
		},
		Dir: loc.Dir,
		Env: env,
	}
}

// Launch starts the backend and returns as soon as the process exists. It does
// not wait for readiness.
func (l *Launcher) Launch(ctx context.Context, loc Location) (*Handle, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	spec := l.Spec(loc)
	command := spec.CommandLine()
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindSpawnFailed, Command: command, Cause: err}
	}

	out := logger.With(zap.String("source", "backend"))
	spec.OnLine = func(line process.Line) {
		out.Log(outputLevel(line), redactSecrets(line.Message), zap.String("stream", line.Source))
	}

	start := l.start
	if start == nil {
		start = process.Start
	}
	proc, err := start(spec)
	if err != nil {
		return nil, &Error{Kind: KindSpawnFailed, Command: command, Cause: err}
	}
	logger.Info("backend spawned",
		zap.Int("pid", proc.PID()),
		zap.String("dir", spec.Dir),
		zap.String("command", command))
	return newHandle(proc, command), nil
}
