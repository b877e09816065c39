package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/module/project"
	"github.com/collabide/workspace/internal/shared/metrics"
)

// Cursor is an editor position shared with other session members.
type Cursor struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// PresenceEntry pairs one roster member with their live presence state.
type PresenceEntry struct {
	CollaboratorID uuid.UUID
	Email          string
	Name           string
	IsOnline       bool
	Cursor         *Cursor
}

// heartbeatRecord is the value stored under each presence key.
type heartbeatRecord struct {
	UserID    string    `json:"user_id"`
	Cursor    *Cursor   `json:"cursor,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func presenceKey(projectID, userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s:%s", projectID, userID)
}

// Presence advertises one user's liveness in a project through a redis
// key refreshed on a heartbeat and expiring on its own. A crashed client
// goes offline when the TTL lapses; no tombstone write is needed.
type Presence struct {
	redis     redis.UniversalClient
	logger    *zap.Logger
	projectID uuid.UUID
	userID    uuid.UUID
	ttl       time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics

	mu     sync.Mutex
	cursor *Cursor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPresence creates a presence heartbeat for one user in one project.
// ttl must exceed interval or the key flickers between beats.
func NewPresence(client redis.UniversalClient, projectID, userID uuid.UUID, ttl, interval time.Duration, logger *zap.Logger) *Presence {
	return &Presence{
		redis:     client,
		logger:    logger,
		projectID: projectID,
		userID:    userID,
		ttl:       ttl,
		interval:  interval,
	}
}

// WithMetrics attaches heartbeat metrics.
func (p *Presence) WithMetrics(m *metrics.Metrics) *Presence {
	p.metrics = m
	return p
}

// Start writes the presence key immediately and keeps refreshing it
// until Stop or ctx cancellation.
func (p *Presence) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.beat(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.beat(ctx)
			}
		}
	}()
}

// Stop halts the heartbeat and removes the presence key so the user
// goes offline immediately instead of waiting out the TTL.
func (p *Presence) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.redis.Del(ctx, presenceKey(p.projectID, p.userID)).Err(); err != nil {
		p.logger.Warn("delete presence key failed", zap.Error(err))
	}
}

// SetCursor updates the shared cursor position and writes it through
// immediately rather than waiting for the next beat.
func (p *Presence) SetCursor(ctx context.Context, line, col int) {
	p.mu.Lock()
	p.cursor = &Cursor{Line: line, Col: col}
	p.mu.Unlock()
	p.beat(ctx)
}

func (p *Presence) beat(ctx context.Context) {
	p.mu.Lock()
	cursor := p.cursor
	p.mu.Unlock()

	payload, err := json.Marshal(heartbeatRecord{
		UserID:    p.userID.String(),
		Cursor:    cursor,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("encode presence heartbeat failed", zap.Error(err))
		return
	}
	if err := p.redis.Set(ctx, presenceKey(p.projectID, p.userID), payload, p.ttl).Err(); err != nil {
		p.logger.Warn("presence heartbeat failed", zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.PresenceBeatsTotal.Inc()
	}
}

// Snapshot merges the project roster with the live presence keys. Every
// roster member (owner included) appears exactly once; members without a
// presence key are offline with no cursor.
func Snapshot(ctx context.Context, client redis.UniversalClient, proj project.Project) ([]PresenceEntry, error) {
	members := make([]PresenceEntry, 0, len(proj.Collaborators)+1)
	members = append(members, PresenceEntry{
		CollaboratorID: proj.OwnerID,
		Email:          proj.OwnerEmail,
		Name:           proj.OwnerEmail,
	})
	for _, c := range proj.Collaborators {
		members = append(members, PresenceEntry{
			CollaboratorID: c.ID,
			Email:          c.Email,
			Name:           c.Name,
		})
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = presenceKey(proj.ID, m.CollaboratorID)
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok || raw == "" {
			continue
		}
		var rec heartbeatRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		members[i].IsOnline = true
		members[i].Cursor = rec.Cursor
	}
	return members, nil
}
