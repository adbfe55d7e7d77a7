package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jeffrom/editcorpus/vcs"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestRetrierStates(t *testing.T) {
	transient := &vcs.TransientError{Err: errors.New("502")}
	permanent := errors.New("bad credentials")

	tcs := []struct {
		name        string
		errs        []error
		maxAttempts int
		expectCalls int
		expectErr   error
		expectTrans []State
	}{
		{
			name:        "first-try",
			errs:        []error{nil},
			maxAttempts: 3,
			expectCalls: 1,
			expectTrans: []State{StateDone},
		},
		{
			name:        "recovers",
			errs:        []error{transient, transient, nil},
			maxAttempts: 3,
			expectCalls: 3,
			expectTrans: []State{StateBackingOff, StateAttempting, StateBackingOff, StateAttempting, StateDone},
		},
		{
			name:        "exhausted",
			errs:        []error{transient, transient, transient, nil},
			maxAttempts: 3,
			expectCalls: 3,
			expectErr:   &ExhaustedError{},
			expectTrans: []State{StateBackingOff, StateAttempting, StateBackingOff, StateAttempting, StateExhausted},
		},
		{
			name:        "permanent",
			errs:        []error{permanent},
			maxAttempts: 3,
			expectCalls: 1,
			expectErr:   permanent,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var trans []State
			r := NewRetrier(RetryPolicy{MaxAttempts: tc.maxAttempts, BaseDelay: time.Second, MaxDelay: time.Minute})
			r.sleep = noSleep
			r.Observe(func(tr Transition) { trans = append(trans, tr.To) })

			calls := 0
			err := r.Do(context.Background(), func(ctx context.Context) error {
				err := tc.errs[calls]
				calls++
				return err
			})

			if calls != tc.expectCalls {
				t.Fatalf("expected %d calls, got %d", tc.expectCalls, calls)
			}
			switch expect := tc.expectErr.(type) {
			case nil:
				if err != nil {
					t.Fatal("expected no error, got", err)
				}
			case *ExhaustedError:
				var ex *ExhaustedError
				if !errors.As(err, &ex) {
					t.Fatal("expected ExhaustedError, got", err)
				}
				if ex.Attempts != tc.maxAttempts {
					t.Fatal("expected", tc.maxAttempts, "attempts, got", ex.Attempts)
				}
				if !vcs.IsTransient(err) {
					t.Fatal("expected the last transient error to be wrapped")
				}
			default:
				if !errors.Is(err, expect) {
					t.Fatal("expected", expect, "got", err)
				}
			}

			if len(trans) != len(tc.expectTrans) {
				t.Fatalf("expected transitions %v, got %v", tc.expectTrans, trans)
			}
			for i := range trans {
				if trans[i] != tc.expectTrans[i] {
					t.Fatalf("expected transitions %v, got %v", tc.expectTrans, trans)
				}
			}
		})
	}
}

func TestRetrierDelay(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 10 * time.Second})
	tcs := []struct {
		attempt int
		err     error
		expect  time.Duration
	}{
		{attempt: 1, expect: time.Second},
		{attempt: 2, expect: 2 * time.Second},
		{attempt: 3, expect: 4 * time.Second},
		{attempt: 5, expect: 10 * time.Second},
		{attempt: 1, err: &vcs.TransientError{RetryAfter: 5 * time.Second}, expect: 5 * time.Second},
		{attempt: 1, err: &vcs.TransientError{RetryAfter: time.Hour}, expect: 10 * time.Second},
	}
	for _, tc := range tcs {
		if got := r.delay(tc.attempt, tc.err); got != tc.expect {
			t.Fatalf("attempt %d: expected %s, got %s", tc.attempt, tc.expect, got)
		}
	}
}

func TestRetrierTimeout(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 2, Timeout: 10 * time.Millisecond})
	r.sleep = noSleep
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatal("expected timeouts to exhaust the retrier, got", err)
	}
	if calls != 2 {
		t.Fatal("expected 2 calls, got", calls)
	}
}

func TestRetrierCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})
	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return &vcs.TransientError{Err: errors.New("503")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected context.Canceled, got", err)
	}
	if calls != 1 {
		t.Fatal("expected 1 call, got", calls)
	}
}
