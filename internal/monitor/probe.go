package monitor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"pipelinewatch/internal/logging"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2000 * time.Millisecond
)

// errNoHandle aborts a probe when the provider has no usable handle.
var errNoHandle = errors.New("service handle unavailable")

// Handle is a usable client for the remote deployment.
type Handle interface {
	// Health is the liveness call. Any non-nil error counts as a failed attempt.
	Health(ctx context.Context) error
}

// HandleFunc adapts a function to Handle.
type HandleFunc func(ctx context.Context) error

func (f HandleFunc) Health(ctx context.Context) error { return f(ctx) }

// HandleProvider yields a handle, or nil when none is available yet
// (for example before the session has authenticated).
type HandleProvider func(ctx context.Context) (Handle, error)

// Policy bounds the retries of a single probe cycle.
type Policy struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// AttemptTimeout caps one liveness call. Zero leaves it to the handle.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 3 attempts spaced 2s apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, RetryDelay: DefaultRetryDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	if p.AttemptTimeout < 0 {
		p.AttemptTimeout = 0
	}
	return p
}

// ProbeOutcome is the result of one bounded-retry probe.
type ProbeOutcome struct {
	Connected bool
	Attempts  int
	Delays    int
	Latency   time.Duration
	Err       error
}

// Prober runs the bounded-retry health probe against a deployment.
type Prober struct {
	Provider HandleProvider
	Policy   Policy
	Logger   logging.Logger
	Recorder Recorder
}

// Probe checks the deployment at ref. It never returns an error to the caller:
// every failure ends in a disconnected outcome.
func (p *Prober) Probe(ctx context.Context, ref string) ProbeOutcome {
	var out ProbeOutcome
	if strings.TrimSpace(ref) == "" || p.Provider == nil {
		return out
	}

	policy := p.Policy.normalized()
	rec := recorderOrNop(p.Recorder)
	log := p.logger().WithField("deployment", ref)

	retry := retrypolicy.NewBuilder[any]().
		WithMaxAttempts(policy.MaxAttempts).
		WithDelay(policy.RetryDelay).
		AbortOnErrors(errNoHandle).
		OnRetry(func(failsafe.ExecutionEvent[any]) {
			out.Delays++
			rec.ProbeRetry()
		}).
		Build()

	err := failsafe.With[any](retry).WithContext(ctx).Run(func() error {
		out.Attempts++
		rec.ProbeAttempt()
		attempt := out.Attempts

		handle, err := p.Provider(ctx)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warnf("health check attempt %d failed", attempt)
			return err
		}
		if handle == nil {
			return errNoHandle
		}

		started := time.Now()
		if err := callHealth(ctx, handle, policy.AttemptTimeout); err != nil {
			log.WithError(err).WithField("attempt", attempt).Warnf("health check attempt %d failed", attempt)
			return err
		}
		out.Latency = time.Since(started)
		return nil
	})

	switch {
	case err == nil:
		out.Connected = true
	case errors.Is(err, errNoHandle):
	case ctx.Err() != nil:
		out.Err = ctx.Err()
	default:
		out.Err = err
		log.WithError(err).WithField("attempts", out.Attempts).Error("health check failed after multiple attempts")
	}
	return out
}

func callHealth(ctx context.Context, handle Handle, timeout time.Duration) error {
	if timeout <= 0 {
		return handle.Health(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return handle.Health(callCtx)
}

func (p *Prober) logger() logging.Logger {
	if p.Logger == nil {
		return logging.Discard()
	}
	return p.Logger
}
