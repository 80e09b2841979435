package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// ExhaustedError is returned when the budgeted retries are used up. It wraps
// the final underlying failure together with the attempt count.
type ExhaustedError struct {
	// Attempts is the total number of executions performed (initial + retries).
	Attempts int

	// Err is the error from the last attempt.
	Err error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying failure.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Settings parameterizes a Policy. Delay is the base backoff; a nil Jitter
// disables perturbation, otherwise the computed wait is perturbed by up to
// ±Delay×Jitter and clamped to zero.
type Settings struct {
	MaxRetries int
	Delay      time.Duration
	Jitter     *float64
	Matchers   []Matcher

	// OnRetry, when non-nil, is called before each backoff wait with the
	// 1-based attempt number just failed and the wait about to be taken.
	OnRetry func(attempt int, wait time.Duration)
}

// Policy applies capped, jittered retries around a unit of work. Attempts
// within one Execute call are strictly sequential, and a Policy carries no
// mutable state, so distinct runs never share retry state.
type Policy struct {
	settings Settings

	// rand and sleep are injectable for tests.
	rand  func() float64
	sleep func(context.Context, time.Duration) error
}

// NewPolicy builds a Policy from resolved settings. Matchers must already be
// resolved (see ResolveNames); an empty matcher list behaves as catch-all.
func NewPolicy(s Settings) *Policy {
	return &Policy{
		settings: s,
		rand:     rand.Float64,
		sleep:    sleepCtx,
	}
}

// Execute runs work, retrying per the policy. An error whose kind is not
// matched is returned immediately. A matched error is retried up to
// MaxRetries additional times; when the budget is spent the last error is
// wrapped in an ExhaustedError. Cancellation is observed at attempt
// boundaries: a context cancelled mid-wait aborts with ctx.Err().
func (p *Policy) Execute(ctx context.Context, work func() error) error {
	_, err := Do(ctx, p, func() (struct{}, error) {
		return struct{}{}, work()
	})
	return err
}

// Do is the generic form of Execute for work that yields a value.
func Do[T any](ctx context.Context, p *Policy, work func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := work()
		if err == nil {
			return v, nil
		}
		if !p.matches(err) {
			return zero, err
		}
		if attempt >= p.settings.MaxRetries {
			return zero, &ExhaustedError{Attempts: attempt + 1, Err: err}
		}
		wait := p.wait(attempt + 1)
		if p.settings.OnRetry != nil {
			p.settings.OnRetry(attempt+1, wait)
		}
		if serr := p.sleep(ctx, wait); serr != nil {
			return zero, serr
		}
	}
}

// matches reports whether err belongs to any configured kind. No matchers
// means catch-all.
func (p *Policy) matches(err error) bool {
	if len(p.settings.Matchers) == 0 {
		return true
	}
	for _, m := range p.settings.Matchers {
		if m.Match(err) {
			return true
		}
	}
	return false
}

// wait computes the backoff before the given attempt number (1-based): the
// base delay scaled by the attempt count, perturbed by up to ±Delay×Jitter,
// never negative.
func (p *Policy) wait(attempt int) time.Duration {
	d := time.Duration(attempt) * p.settings.Delay
	if p.settings.Jitter != nil && *p.settings.Jitter > 0 {
		span := float64(p.settings.Delay) * *p.settings.Jitter
		d += time.Duration((p.rand()*2 - 1) * span)
	}
	if d < 0 {
		return 0
	}
	return d
}

// sleepCtx suspends only the calling task; concurrent runs are unaffected.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor an already-cancelled context.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
