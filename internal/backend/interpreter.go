package backend

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/minicars/internal/config"
	"github.com/Paintersrp/minicars/internal/probe"
)

const versionQueryTimeout = 5 * time.Second

// InterpreterLocator picks the first usable Python command from an ordered
// candidate list.
type InterpreterLocator struct {
	Candidates []string
	Timeout    time.Duration
	// Run invokes name with a version query. Defaults to executing
	// "<name> --version".
	Run    func(ctx context.Context, name string) error
	Logger *zap.Logger
}

// NewInterpreterLocator builds a locator from cfg.
func NewInterpreterLocator(cfg *config.Config) *InterpreterLocator {
	candidates := cfg.Backend.Interpreters
	if len(candidates) == 0 {
		candidates = config.DefaultInterpreters()
	}
	return &InterpreterLocator{
		Candidates: append([]string(nil), candidates...),
		Timeout:    versionQueryTimeout,
		Run:        runVersionQuery,
		Logger:     zap.NewNop(),
	}
}

func runVersionQuery(ctx context.Context, name string) error {
	prober, err := probe.NewCommand(nil, name, "--version")
	if err != nil {
		return err
	}
	return prober.Probe(ctx)
}

// Locate returns the first candidate whose version query does not fail with a
// "not found" error. Other failures are logged and the candidate is accepted.
func (l *InterpreterLocator) Locate(ctx context.Context) (string, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	run := l.Run
	if run == nil {
		run = runVersionQuery
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = versionQueryTimeout
	}

	for _, name := range l.Candidates {
		if err := ctx.Err(); err != nil {
			return "", &Error{Kind: KindInterpreterNotFound, TriedPaths: append([]string(nil), l.Candidates...), Cause: err}
		}

		queryCtx, cancel := context.WithTimeout(ctx, timeout)
		err := run(queryCtx, name)
		cancel()

		switch {
		case err == nil:
			logger.Debug("python interpreter located", zap.String("command", name))
			return name, nil
		case isNotFound(err):
			logger.Debug("python candidate not found", zap.String("command", name), zap.Error(err))
		default:
			logger.Warn("python version query failed; using candidate anyway",
				zap.String("command", name), zap.Error(err))
			return name, nil
		}
	}
	return "", &Error{Kind: KindInterpreterNotFound, TriedPaths: append([]string(nil), l.Candidates...)}
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
