// Package retry implements the backoff policy shared by every remote call.
//
// A Policy describes an exponential schedule bounded by a total elapsed-time
// budget. Do runs an operation under that policy: retryable failures are
// retried with jittered, growing delays, non-retryable failures return
// immediately, and an exhausted budget wraps the last failure in a
// RetryExhaustedError. Retry state lives on the stack of a single Do call and
// is never shared between calls.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Iron-Ham/warren/internal/config"
	"github.com/Iron-Ham/warren/internal/errors"
)

// Policy configures exponential backoff for an operation. A non-positive
// MaxElapsedTime means no elapsed budget; the config validator rejects it, so
// only programmatic callers (usually combined with WithMaxTries) get there.
type Policy struct {
	InitialInterval     time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxElapsedTime      time.Duration
}

// DefaultPolicy returns the policy used for remote calls when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     15 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.05,
		MaxElapsedTime:      120 * time.Second,
	}
}

// PolicyFromConfig converts the backoff section of the configuration.
func PolicyFromConfig(cfg config.BackoffConfig) Policy {
	return Policy{
		InitialInterval:     cfg.InitialInterval,
		Multiplier:          cfg.Multiplier,
		RandomizationFactor: cfg.RandomizationFactor,
		MaxElapsedTime:      cfg.MaxElapsedTime,
	}
}

// Delay returns the nominal (un-jittered) delay before retry attempt n, where
// n counts from 1 for the first retry.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(n-1))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	// The elapsed budget is the only ceiling.
	b.MaxInterval = p.MaxElapsedTime
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	return b
}

// State describes a retry that is about to wait.
type State struct {
	// Attempts is the number of attempts made so far.
	Attempts int
	// Delay is the wait before the next attempt.
	Delay time.Duration
	// Start is when the first attempt began.
	Start time.Time
	// Deadline is when the elapsed budget runs out. Zero without a budget.
	Deadline time.Time
	// Err is the failure that triggered the retry.
	Err error
}

// Classifier decides whether an error is worth retrying.
type Classifier func(error) bool

type options struct {
	classify Classifier
	notify   func(State)
	maxTries uint
}

// Option customizes a single Do call.
type Option func(*options)

// WithClassifier replaces errors.IsRetryable as the retry predicate.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classify = c
		}
	}
}

// WithNotify registers a callback invoked before each wait.
func WithNotify(fn func(State)) Option {
	return func(o *options) {
		o.notify = fn
	}
}

// WithMaxTries caps the number of attempts in addition to the elapsed budget.
func WithMaxTries(n uint) Option {
	return func(o *options) {
		o.maxTries = n
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, the elapsed
// budget of p is spent, or ctx is cancelled. Cancellation interrupts a pending
// wait immediately and returns the context's error.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{classify: errors.IsRetryable}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	attempts := 0
	var lastErr error

	wrapped := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !o.classify(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	var deadline time.Time
	if p.MaxElapsedTime > 0 {
		deadline = start.Add(p.MaxElapsedTime)
	}
	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		// Always set: backoff falls back to a 15 minute budget otherwise.
		backoff.WithMaxElapsedTime(max(p.MaxElapsedTime, 0)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if o.notify == nil {
				return
			}
			o.notify(State{
				Attempts: attempts,
				Delay:    next,
				Start:    start,
				Deadline: deadline,
				Err:      err,
			})
		}),
	}
	if o.maxTries > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(o.maxTries))
	}

	res, err := backoff.Retry(ctx, wrapped, retryOpts...)
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if lastErr != nil && errors.Is(lastErr, ctxErr) {
			return res, lastErr
		}
		return res, ctxErr
	}

	if lastErr != nil && o.classify(lastErr) {
		return res, errors.NewRetryExhaustedError(attempts, time.Since(start), lastErr)
	}
	if lastErr != nil {
		return res, lastErr
	}
	return res, err
}
