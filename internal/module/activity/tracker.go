// Package activity accumulates a user's active editing time. While a
// session is open, the user's stored total is incremented on a fixed
// interval; a failed increment drops at most one interval's worth and is
// never retried, so the counter is a floor, not an exact figure.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/module/identity"
	"github.com/collabide/workspace/internal/store"
)

const defaultInterval = 5 * time.Second

// Tracker periodically increments the user's active_time_seconds.
type Tracker struct {
	store    store.Client
	logger   *zap.Logger
	userID   uuid.UUID
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTracker(client store.Client, userID uuid.UUID, interval time.Duration, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Tracker{
		store:    client,
		logger:   logger,
		userID:   userID,
		interval: interval,
	}
}

// Start begins the increment loop. It returns immediately; the loop
// stops on Stop or when ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.tick(ctx)
			}
		}
	}()
}

// Stop halts the loop. Already-elapsed partial intervals are discarded.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) tick(ctx context.Context) {
	seconds := int64(t.interval / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	err := t.store.Increment(ctx, identity.Collection,
		store.Filter{"id": t.userID.String()},
		"active_time_seconds", seconds,
	)
	if err != nil {
		t.logger.Warn("record active time failed",
			zap.String("user_id", t.userID.String()),
			zap.Error(err),
		)
	}
}
