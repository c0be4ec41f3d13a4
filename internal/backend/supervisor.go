package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/minicars/internal/config"
	"github.com/Paintersrp/minicars/internal/metrics"
	"github.com/Paintersrp/minicars/internal/probe"
)

const killTimeout = 5 * time.Second

// State is the supervisor's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Resolver finds the backend directory.
type Resolver interface {
	Resolve() (Location, error)
}

// Locator finds a Python interpreter.
type Locator interface {
	Locate(ctx context.Context) (string, error)
}

// Spawner starts the backend process.
type Spawner interface {
	Launch(ctx context.Context, loc Location) (*Handle, error)
}

// ReadinessChecker waits for the backend to answer health checks.
type ReadinessChecker interface {
	WaitUntilReady(ctx context.Context, port int) bool
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State       State     `json:"state"`
	PID         int       `json:"pid,omitempty"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	URL         string    `json:"url"`
	Dir         string    `json:"dir,omitempty"`
	Source      Source    `json:"source,omitempty"`
	Interpreter string    `json:"interpreter,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Supervisor owns at most one backend process and serialises every operation
// on it.
type Supervisor struct {
	host            string
	port            int
	baseURL         string
	shutdownTimeout time.Duration
	gracePeriod     time.Duration

	resolver Resolver
	locator  Locator
	spawner  Spawner
	checker  ReadinessChecker
	client   *http.Client
	sleep    func(context.Context, time.Duration) error
	logger   *zap.Logger

	// lock is a one-slot semaphore so acquisition can honour a context.
	lock   chan struct{}
	handle *Handle

	status atomic.Pointer[Status]
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithResolver replaces the path resolver.
func WithResolver(r Resolver) Option {
	return func(s *Supervisor) { s.resolver = r }
}

// WithLocator replaces the interpreter locator.
func WithLocator(l Locator) Option {
	return func(s *Supervisor) { s.locator = l }
}

// WithSpawner replaces the launcher.
func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) { s.spawner = sp }
}

// WithReadinessChecker replaces the health checker.
func WithReadinessChecker(c ReadinessChecker) Option {
	return func(s *Supervisor) { s.checker = c }
}

// WithShutdownClient sets the HTTP client used for the shutdown request.
func WithShutdownClient(c *http.Client) Option {
	return func(s *Supervisor) { s.client = c }
}

// WithBaseURL overrides the URL the shutdown request is sent to.
func WithBaseURL(url string) Option {
	return func(s *Supervisor) { s.baseURL = strings.TrimRight(url, "/") }
}

// WithSleep replaces the function used to wait out the grace period.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// WithLogger sets the logger. Components built by New inherit named children
// of it.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// New builds a supervisor for cfg. Components not supplied through options are
// constructed from cfg.
func New(cfg *config.Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		host:            cfg.Backend.Host,
		port:            cfg.Backend.Port,
		baseURL:         cfg.BaseURL(),
		shutdownTimeout: cfg.Shutdown.RequestTimeout.Duration,
		gracePeriod:     cfg.Shutdown.GracePeriod.Duration,
		client:          &http.Client{},
		sleep:           probe.SleepWithContext,
		logger:          zap.NewNop(),
		lock:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	if s.resolver == nil {
		r := NewPathResolver(cfg)
		r.Logger = s.logger.Named("resolver")
		s.resolver = r
	}
	if s.locator == nil {
		l := NewInterpreterLocator(cfg)
		l.Logger = s.logger.Named("interpreter")
		s.locator = l
	}
	if s.spawner == nil {
		l := NewLauncher(cfg)
		l.Logger = s.logger.Named("launcher")
		s.spawner = l
	}
	if s.checker == nil {
		h := NewHealthChecker(cfg)
		h.Logger = s.logger.Named("health")
		s.checker = h
	}
	s.logger = s.logger.Named("supervisor")

	s.publish(func(st *Status) { st.State = StateIdle })
	metrics.SetBackendReady(false)
	return s
}

// State returns the current lifecycle state without taking the lock.
func (s *Supervisor) State() State {
	return s.status.Load().State
}

// Status returns a snapshot without taking the lock.
func (s *Supervisor) Status() Status {
	return *s.status.Load()
}

// EnsureRunning makes sure a healthy backend is running. It is a no-op when
// the current process is alive. Concurrent callers are serialised, so at most
// one process is ever spawned.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.handle != nil {
		live := s.handle.PollLiveness()
		if live.State == LivenessAlive {
			return nil
		}
		fields := []zap.Field{zap.Int("pid", s.handle.PID()), zap.Stringer("liveness", live.State), zap.Error(live.Err)}
		if live.State == LivenessExited {
			fields = append(fields, zap.Int("exit_code", live.ExitCode))
		}
		s.logger.Warn("backend exited unexpectedly; starting a new one", fields...)
		s.handle = nil
		metrics.SetBackendReady(false)
	}

	s.publish(func(st *Status) {
		*st = Status{State: StateStarting}
	})

	loc, err := s.resolver.Resolve()
	if err != nil {
		return s.failStart(err)
	}
	s.publish(func(st *Status) {
		st.Dir = loc.Dir
		st.Source = loc.Source
	})

	interpreter, err := s.locator.Locate(ctx)
	if err != nil {
		return s.failStart(err)
	}
	loc.Interpreter = interpreter
	s.publish(func(st *Status) { st.Interpreter = interpreter })

	handle, err := s.spawner.Launch(ctx, loc)
	if err != nil {
		return s.failStart(err)
	}
	s.handle = handle
	metrics.IncrementSpawns()
	s.publish(func(st *Status) {
		st.PID = handle.PID()
		st.StartedAt = handle.StartedAt()
	})

	if !s.checker.WaitUntilReady(ctx, s.port) {
		var cause error
		switch live := handle.PollLiveness(); live.State {
		case LivenessExited:
			cause = fmt.Errorf("process exited with code %d", live.ExitCode)
		case LivenessExitedUnknown:
			cause = errors.New("process exited")
			if live.Err != nil {
				cause = fmt.Errorf("process exited: %w", live.Err)
			}
		default:
			cause = ctx.Err()
		}
		s.stopLocked(ctx)
		return s.failStart(&Error{Kind: KindHealthTimeout, Cause: cause})
	}

	s.publish(func(st *Status) { st.State = StateRunning })
	metrics.SetBackendReady(true)
	s.logger.Info("backend ready",
		zap.Int("pid", handle.PID()),
		zap.String("dir", loc.Dir),
		zap.String("source", string(loc.Source)),
		zap.String("url", s.baseURL))
	return nil
}

// Stop shuts the backend down: a best-effort shutdown request, a grace period,
// then a forced kill of the process group. It returns once the process has
// been reaped. Stopping an idle supervisor is a no-op. ctx bounds only the
// wait for the lock; once held, the stop sequence runs to completion.
func (s *Supervisor) Stop(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.handle == nil {
		return nil
	}
	s.stopLocked(ctx)
	s.publish(func(st *Status) { *st = Status{State: StateIdle} })
	return nil
}

func (s *Supervisor) stopLocked(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	handle := s.handle
	s.publish(func(st *Status) { st.State = StateStopping })
	s.logger.Info("stopping backend", zap.Int("pid", handle.PID()))

	// The shutdown request never decides what happens next; the process is
	// killed whatever its outcome.
	accepted := s.requestShutdown(ctx)

	_ = s.sleep(ctx, s.gracePeriod)

	killCtx, cancelKill := context.WithTimeout(ctx, killTimeout)
	defer cancelKill()
	if err := handle.kill(killCtx); err != nil {
		s.logger.Error("backend kill failed", zap.Int("pid", handle.PID()), zap.Error(err))
	}

	s.handle = nil
	metrics.SetBackendReady(false)
	metrics.IncrementStops(accepted)
	s.logger.Info("backend stopped", zap.Int("pid", handle.PID()), zap.Bool("graceful", accepted))
}

// requestShutdown posts to the backend's /shutdown endpoint and reports
// whether it answered 2xx. Every failure is swallowed.
func (s *Supervisor) requestShutdown(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.baseURL+"/shutdown", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("shutdown request failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s *Supervisor) failStart(err error) error {
	code := CodeOf(err)
	metrics.IncrementStartFailure(code)
	s.logger.Error("backend start failed", zap.String("code", code), zap.Error(err))
	s.publish(func(st *Status) {
		*st = Status{State: StateIdle, ErrorCode: code, Error: err.Error()}
	})
	return err
}

func (s *Supervisor) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	default:
	}
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &Error{Kind: KindLockFailed, Cause: ctx.Err()}
	}
}

func (s *Supervisor) release() {
	<-s.lock
}

// publish applies fn to a copy of the current status and stores it. Only
// lock holders and New call it.
func (s *Supervisor) publish(fn func(*Status)) {
	next := Status{}
	if cur := s.status.Load(); cur != nil {
		next = *cur
	}
	fn(&next)
	next.Host = s.host
	next.Port = s.port
	next.URL = s.baseURL
	s.status.Store(&next)
}
