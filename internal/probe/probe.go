package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Prober defines the behaviour required by the polling loop.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// Policy bounds a readiness poll. The loop sleeps Interval before every
// attempt, gives each attempt at most Timeout, and gives up after Attempts.
type Policy struct {
	Attempts int
	Interval time.Duration
	Timeout  time.Duration
}

// Attempt describes the outcome of a single probe execution.
type Attempt struct {
	Number  int
	Err     error
	Latency time.Duration
}

// Result summarises a finished poll.
type Result struct {
	Ready    bool
	Attempts int
	LastErr  error
	Elapsed  time.Duration
}

// Options carries optional hooks for Poll.
type Options struct {
	// Sleep waits between attempts. Defaults to a timer honouring ctx.
	Sleep func(context.Context, time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
	// OnAttempt observes every attempt after it completes.
	OnAttempt func(Attempt)
}

// Poll runs prober until it succeeds or the policy is exhausted. Cancelling ctx
// ends the loop early with Ready=false.
func Poll(ctx context.Context, prober Prober, policy Policy, opts Options) Result {
	if opts.Sleep == nil {
		opts.Sleep = SleepWithContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	start := opts.Now()
	result := Result{}
	if prober == nil {
		result.LastErr = errors.New("probe: missing prober")
		return result
	}

	for i := 1; i <= attempts; i++ {
		if err := opts.Sleep(ctx, policy.Interval); err != nil {
			result.LastErr = err
			break
		}

		attemptCtx := ctx
		cancel := func() {}
		if policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}
		began := opts.Now()
		err := prober.Probe(attemptCtx)
		latency := opts.Now().Sub(began)
		if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("timeout after %s", policy.Timeout)
		}
		cancel()

		result.Attempts = i
		result.LastErr = err
		if opts.OnAttempt != nil {
			opts.OnAttempt(Attempt{Number: i, Err: err, Latency: latency})
		}
		if err == nil {
			result.Ready = true
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	result.Elapsed = opts.Now().Sub(start)
	return result
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
