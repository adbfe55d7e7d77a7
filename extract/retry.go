package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeffrom/editcorpus/vcs"
)

// State is a step of the retry state machine.
type State int

const (
	StateAttempting State = iota
	StateBackingOff
	StateExhausted
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackingOff:
		return "backing-off"
	case StateExhausted:
		return "exhausted"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Transition is reported on every state change.
type Transition struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
}

// ExhaustedError is returned when every attempt failed with a transient
// error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// Retrier runs an operation through attempting, backing-off and exhausted
// states. Only transient errors and per-attempt timeouts are retried.
type Retrier struct {
	policy  RetryPolicy
	sleep   func(ctx context.Context, d time.Duration) error
	observe func(Transition)
}

func NewRetrier(policy RetryPolicy) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrier{
		policy: policy,
		sleep:  sleepCtx,
	}
}

// Observe sets a callback invoked on each transition.
func (r *Retrier) Observe(fn func(Transition)) *Retrier {
	r.observe = fn
	return r
}

func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	state := StateAttempting
	attempt := 0
	var lastErr error

	for {
		switch state {
		case StateAttempting:
			attempt++
			err := r.attempt(ctx, op)
			if err == nil {
				r.transition(Transition{From: state, To: StateDone, Attempt: attempt})
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !retryable(err) {
				return err
			}
			lastErr = err
			next := StateBackingOff
			if attempt >= r.policy.MaxAttempts {
				next = StateExhausted
			}
			r.transition(Transition{From: state, To: next, Attempt: attempt, Err: err})
			state = next

		case StateBackingOff:
			delay := r.delay(attempt, lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
			r.transition(Transition{From: state, To: StateAttempting, Attempt: attempt, Delay: delay})
			state = StateAttempting

		case StateExhausted:
			return &ExhaustedError{Attempts: attempt, Err: lastErr}

		default:
			return fmt.Errorf("extract: invalid retry state %s", state)
		}
	}
}

func (r *Retrier) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if r.policy.Timeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	err := op(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return &vcs.TransientError{Err: err}
	}
	return err
}

// delay doubles BaseDelay per attempt, raised to the host's retry hint and
// capped at MaxDelay.
func (r *Retrier) delay(attempt int, err error) time.Duration {
	d := r.policy.BaseDelay
	for i := 1; i < attempt && d < r.policy.MaxDelay; i++ {
		d *= 2
	}
	if hint := vcs.RetryAfter(err); hint > d {
		d = hint
	}
	if r.policy.MaxDelay > 0 && d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	return d
}

func (r *Retrier) transition(t Transition) {
	if r.observe != nil {
		r.observe(t)
	}
}

func retryable(err error) bool {
	return vcs.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
