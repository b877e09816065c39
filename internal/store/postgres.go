package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/shared/metrics"
)

const changeChannelPrefix = "workspace:changes:"

// ChangeChannel returns the pub/sub channel carrying change notifications
// for a collection.
func ChangeChannel(collection string) string {
	return changeChannelPrefix + collection
}

// Postgres is the production Client: row state lives in Postgres and
// change notifications travel over a Redis pub/sub channel per
// collection. Every successful mutation publishes a notification, so all
// connected sessions (including the mutating one) observe it.
type Postgres struct {
	db      *gorm.DB
	redis   redis.UniversalClient
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	nextID  int64
	subs    map[string]map[int64]*feedSub
	pubsubs map[string]*redis.PubSub
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type feedSub struct {
	filter Filter
	fn     func(Change)
}

// NewPostgres creates a Postgres-backed store client.
func NewPostgres(db *gorm.DB, rdb redis.UniversalClient, logger *zap.Logger) *Postgres {
	ctx, cancel := context.WithCancel(context.Background())
	return &Postgres{
		db:      db,
		redis:   rdb,
		logger:  logger,
		subs:    make(map[string]map[int64]*feedSub),
		pubsubs: make(map[string]*redis.PubSub),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// WithMetrics attaches operation and feed metrics. Call before use.
func (p *Postgres) WithMetrics(m *metrics.Metrics) *Postgres {
	p.metrics = m
	return p
}

func (p *Postgres) observe(collection, operation string, start time.Time, err error) {
	if p.metrics != nil {
		p.metrics.RecordStoreOp(collection, operation, err, time.Since(start))
	}
}

// Read returns the rows of collection matching filter.
func (p *Postgres) Read(ctx context.Context, collection string, filter Filter, order *Order) ([]Row, error) {
	start := time.Now()
	q := p.db.WithContext(ctx).Table(collection)
	if len(filter) > 0 {
		q = q.Where(map[string]any(filter))
	}
	if order != nil {
		q = q.Order(clause.OrderByColumn{
			Column: clause.Column{Name: order.Column},
			Desc:   !order.Ascending,
		})
	}
	var rows []map[string]any
	err := q.Find(&rows).Error
	p.observe(collection, "read", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", apperrors.ErrStoreUnavailable, collection, err)
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row(r)
	}
	return out, nil
}

// Insert stores a new row, assigning id and created_at when absent.
func (p *Postgres) Insert(ctx context.Context, collection string, row Row) (Row, error) {
	start := time.Now()
	stored := cloneRow(row)
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.NewString()
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = time.Now().UTC()
	}
	err := p.db.WithContext(ctx).Table(collection).Create(map[string]any(stored)).Error
	p.observe(collection, "insert", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: insert %s: %v", apperrors.ErrStoreUnavailable, collection, err)
	}
	p.publish(collection, ChangeInsert, stored)
	return stored, nil
}

// Update applies values to the rows matching filter.
func (p *Postgres) Update(ctx context.Context, collection string, filter Filter, values Row) (int64, error) {
	start := time.Now()
	res := p.db.WithContext(ctx).Table(collection).
		Where(map[string]any(filter)).
		Updates(map[string]any(values))
	p.observe(collection, "update", start, res.Error)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: update %s: %v", apperrors.ErrStoreUnavailable, collection, res.Error)
	}
	if res.RowsAffected > 0 {
		p.publish(collection, ChangeUpdate, mergeRows(filter, values))
	}
	return res.RowsAffected, nil
}

// Delete removes the rows matching filter.
func (p *Postgres) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	start := time.Now()
	where, args := buildWhere(filter)
	res := p.db.WithContext(ctx).Exec(
		fmt.Sprintf("DELETE FROM %q WHERE %s", collection, where), args...,
	)
	p.observe(collection, "delete", start, res.Error)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: delete %s: %v", apperrors.ErrStoreUnavailable, collection, res.Error)
	}
	if res.RowsAffected > 0 {
		p.publish(collection, ChangeDelete, Row(filter))
	}
	return res.RowsAffected, nil
}

// Increment atomically adds delta to column on the rows matching filter.
func (p *Postgres) Increment(ctx context.Context, collection string, filter Filter, column string, delta int64) error {
	start := time.Now()
	where, args := buildWhere(filter)
	sql := fmt.Sprintf(
		"UPDATE %q SET %q = COALESCE(%q, 0) + ? WHERE %s",
		collection, column, column, where,
	)
	res := p.db.WithContext(ctx).Exec(sql, append([]any{delta}, args...)...)
	p.observe(collection, "increment", start, res.Error)
	if res.Error != nil {
		return fmt.Errorf("%w: increment %s.%s: %v", apperrors.ErrStoreUnavailable, collection, column, res.Error)
	}
	return nil
}

// Subscribe registers fn for changes on collection restricted to rows
// matching filter. The first subscriber per collection opens the Redis
// subscription; the last Unsubscribe closes it.
func (p *Postgres) Subscribe(collection string, filter Filter, fn func(Change)) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: client closed", apperrors.ErrStoreUnavailable)
	}
	if _, ok := p.pubsubs[collection]; !ok {
		ps := p.redis.Subscribe(p.ctx, ChangeChannel(collection))
		p.pubsubs[collection] = ps
		p.subs[collection] = make(map[int64]*feedSub)
		p.wg.Add(1)
		go p.receive(collection, ps)
	}
	p.nextID++
	id := p.nextID
	p.subs[collection][id] = &feedSub{filter: filter, fn: fn}
	return &pgSubscription{client: p, collection: collection, id: id}, nil
}

// Close tears down every feed subscription and stops the receivers.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pubsubs := p.pubsubs
	p.pubsubs = make(map[string]*redis.PubSub)
	p.subs = make(map[string]map[int64]*feedSub)
	p.mu.Unlock()

	p.cancel()
	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	p.wg.Wait()
	return nil
}

func (p *Postgres) receive(collection string, ps *redis.PubSub) {
	defer p.wg.Done()
	for msg := range ps.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			p.logger.Warn("malformed change notification",
				zap.String("collection", collection),
				zap.Error(err),
			)
			continue
		}
		p.mu.Lock()
		targets := make([]*feedSub, 0, len(p.subs[collection]))
		for _, sub := range p.subs[collection] {
			if sub.filter.Matches(change.Row) {
				targets = append(targets, sub)
			}
		}
		p.mu.Unlock()
		for _, sub := range targets {
			sub.fn(change)
		}
	}
}

// publish is best-effort: the feed only signals that a refetch is due,
// so a lost notification degrades freshness, not correctness.
func (p *Postgres) publish(collection string, typ ChangeType, row Row) {
	change := Change{Collection: collection, Type: typ, Row: row}
	payload, err := json.Marshal(change)
	if err != nil {
		p.logger.Warn("marshal change notification", zap.Error(err))
		return
	}
	if err := p.redis.Publish(p.ctx, ChangeChannel(collection), payload).Err(); err != nil {
		p.logger.Warn("publish change notification",
			zap.String("collection", collection),
			zap.Error(err),
		)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordChangePublished(collection, string(typ))
	}
}

type pgSubscription struct {
	client     *Postgres
	collection string
	id         int64
	once       sync.Once
}

func (s *pgSubscription) Unsubscribe() {
	s.once.Do(func() {
		p := s.client
		p.mu.Lock()
		if subs, ok := p.subs[s.collection]; ok {
			delete(subs, s.id)
			if len(subs) == 0 {
				if ps, ok := p.pubsubs[s.collection]; ok {
					_ = ps.Close()
					delete(p.pubsubs, s.collection)
				}
				delete(p.subs, s.collection)
			}
		}
		p.mu.Unlock()
	})
}

func buildWhere(filter Filter) (string, []any) {
	if len(filter) == 0 {
		return "1 = 1", nil
	}
	columns := make([]string, 0, len(filter))
	for column := range filter {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	conds := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for _, column := range columns {
		conds = append(conds, fmt.Sprintf("%q = ?", column))
		args = append(args, filter[column])
	}
	return strings.Join(conds, " AND "), args
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func mergeRows(a Filter, b Row) Row {
	out := make(Row, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
