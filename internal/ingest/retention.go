package ingest

import (
	"context"
	"time"

	"github.com/bowerhall/contextbank/internal/bank"
	"github.com/bowerhall/contextbank/internal/logger"
)

// RetentionStats reports one retention pass.
type RetentionStats struct {
	DeletedEvents int
	DeletedChunks int64
}

// Retention deletes expired events, cascades the deletion to their chunks,
// and sweeps orphaned event chunks whose owner is already gone.
type Retention struct {
	store *bank.Store
	now   func() time.Time
}

func NewRetention(store *bank.Store) *Retention {
	return &Retention{store: store, now: time.Now}
}

func (r *Retention) Run(ctx context.Context, userID string) (RetentionStats, error) {
	var stats RetentionStats
	now := r.now().UTC()

	expired, err := r.store.ExpiredEvents(userID, now)
	if err != nil {
		return stats, err
	}

	for _, event := range expired {
		deleted, err := r.store.DeleteByObject(userID, bank.ObjectEvent, event.ID)
		if err != nil {
			return stats, err
		}
		stats.DeletedChunks += deleted

		if err := r.store.DeleteEvent(userID, event.ID); err != nil {
			return stats, err
		}
		stats.DeletedEvents++
	}

	// orphan sweep, independent of the cascade above
	swept, err := r.store.DeleteByOwnerBefore(userID, now)
	if err != nil {
		return stats, err
	}
	stats.DeletedChunks += swept

	logger.Info("retention completed", "user", userID,
		"deleted_events", stats.DeletedEvents, "deleted_chunks", stats.DeletedChunks)

	return stats, nil
}
