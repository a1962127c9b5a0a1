package flood_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/telegrab/telegrab/internal/flood"
	"github.com/telegrab/telegrab/internal/telegram"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	policy := flood.Policy{
		Margin:      2 * time.Second,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
	transient := context.DeadlineExceeded
	permanent := errors.New("bad request")

	testCases := []struct {
		name       string
		err        error
		attempt    int
		wantAction flood.Action
		wantWait   time.Duration
	}{
		// Flood waits: always honored, server duration plus margin.
		{
			name:       "flood wait adds margin",
			err:        &telegram.FloodWaitError{RetryAfter: 10 * time.Second},
			attempt:    1,
			wantAction: flood.RetryAfter,
			wantWait:   12 * time.Second,
		},
		{
			name:       "flood wait ignores attempt ceiling",
			err:        &telegram.FloodWaitError{RetryAfter: 3 * time.Second},
			attempt:    100,
			wantAction: flood.RetryAfter,
			wantWait:   5 * time.Second,
		},
		{
			name:       "zero-duration flood wait still waits the margin",
			err:        &telegram.FloodWaitError{},
			attempt:    1,
			wantAction: flood.RetryAfter,
			wantWait:   2 * time.Second,
		},

		// Transient errors: exponential backoff up to the ceiling.
		{
			name:       "first transient failure backs off base delay",
			err:        transient,
			attempt:    1,
			wantAction: flood.RetryAfter,
			wantWait:   500 * time.Millisecond,
		},
		{
			name:       "backoff doubles per attempt",
			err:        transient,
			attempt:    3,
			wantAction: flood.RetryAfter,
			wantWait:   2 * time.Second,
		},
		{
			name:       "final attempt aborts",
			err:        transient,
			attempt:    5,
			wantAction: flood.Abort,
		},

		// Everything else aborts immediately.
		{
			name:       "permanent error aborts on first attempt",
			err:        permanent,
			attempt:    1,
			wantAction: flood.Abort,
		},
		{
			name:       "context cancellation aborts",
			err:        context.Canceled,
			attempt:    1,
			wantAction: flood.Abort,
		},
		{
			name:       "nil error retries immediately",
			err:        nil,
			attempt:    1,
			wantAction: flood.RetryImmediately,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := policy.Decide(tc.err, tc.attempt)
			if d.Action != tc.wantAction {
				t.Errorf("action = %s, want %s", d.Action, tc.wantAction)
			}
			if d.Action == flood.RetryAfter && d.Wait != tc.wantWait {
				t.Errorf("wait = %s, want %s", d.Wait, tc.wantWait)
			}
			if tc.err != nil && d.Action != flood.RetryImmediately && !errors.Is(d.Reason, tc.err) {
				t.Errorf("reason = %v, want %v", d.Reason, tc.err)
			}
		})
	}
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()

	policy := flood.DefaultPolicy()
	policy.MaxAttempts = 50

	var prev time.Duration
	for attempt := 1; attempt < policy.MaxAttempts; attempt++ {
		d := policy.Decide(context.DeadlineExceeded, attempt)
		if d.Action != flood.RetryAfter {
			t.Fatalf("attempt %d: action = %s, want retry_after", attempt, d.Action)
		}
		if d.Wait > policy.MaxDelay {
			t.Fatalf("attempt %d: wait %s exceeds cap %s", attempt, d.Wait, policy.MaxDelay)
		}
		if d.Wait < prev {
			t.Fatalf("attempt %d: wait %s shrank from %s", attempt, d.Wait, prev)
		}
		prev = d.Wait
	}
}

func TestWrappedFloodWaitIsRecognized(t *testing.T) {
	t.Parallel()

	err := &telegram.FloodWaitError{RetryAfter: time.Second}
	wrapped := errors.Join(errors.New("fetch page 3"), err)

	d := flood.DefaultPolicy().Decide(wrapped, 1)
	if d.Action != flood.RetryAfter {
		t.Fatalf("action = %s, want retry_after", d.Action)
	}
	if d.Wait != time.Second+flood.DefaultPolicy().Margin {
		t.Fatalf("wait = %s, want %s", d.Wait, time.Second+flood.DefaultPolicy().Margin)
	}
}
