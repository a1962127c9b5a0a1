package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors a Client implementation reports at the fetch boundary.
var (
	// ErrEndOfHistory signals that no older messages exist. It may be
	// returned together with the final non-empty batch.
	ErrEndOfHistory = errors.New("telegram: end of history")

	// ErrEntityInaccessible means the entity was deleted or permission to
	// read it was lost. Terminates the sync for that entity only.
	ErrEntityInaccessible = errors.New("telegram: entity not accessible")

	// ErrHistoryUnavailable is returned by clients that cannot page chat
	// history at all (the Bot API adapter); an MTProto-backed Client is
	// required for history fetches.
	ErrHistoryUnavailable = errors.New("telegram: history fetch not supported by this client")
)

// FloodWaitError is the platform's rate-limit signal. RetryAfter carries
// the server-suggested wait duration.
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("telegram: flood wait %s", e.RetryAfter)
}

// IsTransient reports whether err is an ordinary transient failure worth
// retrying with backoff: network timeouts and per-call deadline expiries.
// Flood waits are not transient in this sense; they carry their own wait.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
