// Package flood computes retry decisions for remote fetch failures. It is
// a pure function of the error signal and the attempt number; waiting
// itself is the caller's job, which keeps the policy testable without real
// time or I/O.
package flood

import (
	"errors"
	"time"

	"github.com/telegrab/telegrab/internal/telegram"
)

// Action tells the caller what to do with a failed fetch.
type Action int

const (
	// RetryImmediately: try again without waiting.
	RetryImmediately Action = iota
	// RetryAfter: wait Decision.Wait, then try again.
	RetryAfter
	// Abort: give up and surface Decision.Reason.
	Abort
)

func (a Action) String() string {
	switch a {
	case RetryImmediately:
		return "retry"
	case RetryAfter:
		return "retry_after"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Decision is the policy's verdict for one failed attempt.
type Decision struct {
	Action Action
	Wait   time.Duration
	Reason error
}

// Policy holds the backoff parameters. The zero value is unusable; use
// DefaultPolicy or fill every field.
type Policy struct {
	// Margin is added on top of a server-suggested flood wait.
	Margin time.Duration
	// BaseDelay is the first transient-error backoff interval.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// MaxAttempts is the transient-error retry ceiling. Flood waits do not
	// count against it; the server explicitly asked us to come back.
	MaxAttempts int
}

// DefaultPolicy mirrors the retry parameters used for message fetches and
// media transfers alike: 2s safety margin on flood waits, 500ms..30s
// doubling backoff, 5 attempts before giving up.
func DefaultPolicy() Policy {
	return Policy{
		Margin:      2 * time.Second,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// Decide maps a fetch error and the 1-based attempt number onto an action.
//
// A flood-wait signal is always honored: wait exactly the server-suggested
// duration plus the margin. Ordinary transient errors back off
// exponentially from BaseDelay, capped at MaxDelay, until MaxAttempts is
// exhausted. Anything else aborts at once.
func (p Policy) Decide(err error, attempt int) Decision {
	if err == nil {
		return Decision{Action: RetryImmediately}
	}

	var fw *telegram.FloodWaitError
	if errors.As(err, &fw) {
		wait := fw.RetryAfter + p.Margin
		if wait < p.Margin {
			wait = p.Margin
		}
		return Decision{Action: RetryAfter, Wait: wait, Reason: err}
	}

	if telegram.IsTransient(err) {
		if attempt >= p.MaxAttempts {
			return Decision{Action: Abort, Reason: err}
		}
		return Decision{Action: RetryAfter, Wait: p.backoff(attempt), Reason: err}
	}

	return Decision{Action: Abort, Reason: err}
}

func (p Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
