// Package retry runs an operation under a bounded, randomized exponential
// backoff, retrying only the failures a predicate accepts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

// Defaults used when a Policy field is unset.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 50 * time.Millisecond
	DefaultMaxDelay    = time.Second

	randomizationFactor = 0.5
	multiplier          = 2.0
)

// ErrExhausted is wrapped together with the last cause when every attempt failed
// with a retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns 5 attempts with 50ms..1s randomized backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Retrier executes operations under a Policy.
type Retrier struct {
	policy Policy
	log    logger.Logger
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger used for retry notices.
func WithLogger(l logger.Logger) Option {
	return func(r *Retrier) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a Retrier.
func New(p Policy, opts ...Option) *Retrier {
	r := &Retrier{policy: p.normalized(), log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy { return r.policy }

func (r *Retrier) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.BaseDelay
	eb.MaxInterval = r.policy.MaxDelay
	eb.RandomizationFactor = randomizationFactor
	eb.Multiplier = multiplier
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.policy.MaxAttempts-1)), ctx)
}

// Do calls fn until it succeeds, returns an error retryable rejects, the
// context ends or the attempt ceiling is reached. It returns the number of
// attempts made. fn receives the 1-based attempt number.
func (r *Retrier) Do(ctx context.Context, op string, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := 0
	var last error

	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn(ctx, attempts)
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.backOff(ctx), func(err error, wait time.Duration) {
		metrics.RecordRetry(op)
		r.log.Debug(ctx, "retrying",
			logger.String("operation", op),
			logger.Int("attempt", attempts),
			logger.Duration("wait", wait),
			logger.Error(err))
	})

	switch {
	case err == nil:
		return attempts, nil
	case ctx.Err() != nil:
		if last == nil {
			return attempts, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return attempts, fmt.Errorf("%s: %w after %d attempts: %w", op, ctx.Err(), attempts, last)
	case last != nil && retryable(last):
		metrics.RecordRetriesExhausted(op)
		return attempts, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, last)
	default:
		return attempts, err
	}
}
