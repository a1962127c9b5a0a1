package engine

import (
	"context"
	"fmt"

	"github.com/telegrab/telegrab/internal/database"
)

// checkpointTracker reads and validates the per-entity watermark. The
// store enforces monotonic advancement; the tracker checks the stored
// value against the committed rows on load.
type checkpointTracker struct {
	store    database.Store
	entityID int64
}

// load returns the stored checkpoint after verifying it does not exceed
// the highest committed message id. A checkpoint ahead of the data means
// the archive is corrupt and needs a full re-sync.
func (t checkpointTracker) load(ctx context.Context) (int64, error) {
	cp, err := t.store.GetCheckpoint(ctx, t.entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if cp == 0 {
		return 0, nil
	}
	maxID, err := t.store.MaxMessageID(ctx, t.entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to verify checkpoint: %w", err)
	}
	if cp > maxID {
		return 0, fmt.Errorf("%w: checkpoint %d, max committed id %d",
			database.ErrCheckpointInconsistent, cp, maxID)
	}
	return cp, nil
}
