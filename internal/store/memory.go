package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/collabide/workspace/internal/shared/errors"
)

// Memory is an in-process Client used by tests and local development.
// Change notifications are dispatched synchronously to subscribers, which
// makes feed-driven behavior deterministic under test. Callbacks run
// outside the store lock so they may re-enter the client to refetch.
type Memory struct {
	mu          sync.Mutex
	collections map[string][]Row
	subs        map[string]map[int64]*feedSub
	nextID      int64
	failure     error
}

// NewMemory creates an empty in-memory store client.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string][]Row),
		subs:        make(map[string]map[int64]*feedSub),
	}
}

// SetFailure makes every subsequent operation fail with err until called
// again with nil. Used to exercise StoreUnavailable paths.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Read returns the rows of collection matching filter.
func (m *Memory) Read(ctx context.Context, collection string, filter Filter, order *Order) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, m.failure)
	}
	var out []Row
	for _, row := range m.collections[collection] {
		if filter.Matches(row) {
			out = append(out, cloneRow(row))
		}
	}
	if order != nil {
		sortRows(out, order)
	}
	return out, nil
}

// Insert stores a new row, assigning id and created_at when absent.
func (m *Memory) Insert(ctx context.Context, collection string, row Row) (Row, error) {
	m.mu.Lock()
	if m.failure != nil {
		err := m.failure
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	stored := cloneRow(row)
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.NewString()
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = time.Now().UTC()
	}
	m.collections[collection] = append(m.collections[collection], stored)
	targets := m.matchingSubs(collection, stored)
	m.mu.Unlock()

	dispatch(targets, Change{Collection: collection, Type: ChangeInsert, Row: cloneRow(stored)})
	return cloneRow(stored), nil
}

// Update applies values to the rows matching filter.
func (m *Memory) Update(ctx context.Context, collection string, filter Filter, values Row) (int64, error) {
	m.mu.Lock()
	if m.failure != nil {
		err := m.failure
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	var affected int64
	var changed []Row
	for _, row := range m.collections[collection] {
		if !filter.Matches(row) {
			continue
		}
		for k, v := range values {
			row[k] = v
		}
		affected++
		changed = append(changed, cloneRow(row))
	}
	type target struct {
		subs []*feedSub
		row  Row
	}
	var targets []target
	for _, row := range changed {
		targets = append(targets, target{subs: m.matchingSubs(collection, row), row: row})
	}
	m.mu.Unlock()

	for _, t := range targets {
		dispatch(t.subs, Change{Collection: collection, Type: ChangeUpdate, Row: t.row})
	}
	return affected, nil
}

// Delete removes the rows matching filter.
func (m *Memory) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	if m.failure != nil {
		err := m.failure
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	var kept []Row
	var removed []Row
	for _, row := range m.collections[collection] {
		if filter.Matches(row) {
			removed = append(removed, cloneRow(row))
		} else {
			kept = append(kept, row)
		}
	}
	m.collections[collection] = kept
	type target struct {
		subs []*feedSub
		row  Row
	}
	var targets []target
	for _, row := range removed {
		targets = append(targets, target{subs: m.matchingSubs(collection, row), row: row})
	}
	m.mu.Unlock()

	for _, t := range targets {
		dispatch(t.subs, Change{Collection: collection, Type: ChangeDelete, Row: t.row})
	}
	return int64(len(removed)), nil
}

// Increment atomically adds delta to column on the rows matching filter.
func (m *Memory) Increment(ctx context.Context, collection string, filter Filter, column string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, m.failure)
	}
	for _, row := range m.collections[collection] {
		if !filter.Matches(row) {
			continue
		}
		current, _ := asFloat(row[column])
		row[column] = int64(current) + delta
	}
	return nil
}

// Subscribe registers fn for changes on collection restricted to rows
// matching filter.
func (m *Memory) Subscribe(collection string, filter Filter, fn func(Change)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[int64]*feedSub)
	}
	m.nextID++
	id := m.nextID
	m.subs[collection][id] = &feedSub{filter: filter, fn: fn}
	return &memSubscription{store: m, collection: collection, id: id}, nil
}

// SubscriberCount reports live subscriptions on a collection; tests use
// it to verify feed handles are released.
func (m *Memory) SubscriberCount(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[collection])
}

func (m *Memory) matchingSubs(collection string, row Row) []*feedSub {
	var out []*feedSub
	for _, sub := range m.subs[collection] {
		if sub.filter.Matches(row) {
			out = append(out, sub)
		}
	}
	return out
}

func dispatch(subs []*feedSub, change Change) {
	for _, sub := range subs {
		sub.fn(change)
	}
}

type memSubscription struct {
	store      *Memory
	collection string
	id         int64
	once       sync.Once
}

func (s *memSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		delete(s.store.subs[s.collection], s.id)
	})
}

// sortRows orders rows by the given column. Ties keep their existing
// (arrival) order.
func sortRows(rows []Row, order *Order) {
	less := func(a, b Row) bool {
		av, bv := a[order.Column], b[order.Column]
		if ta, ok := asTime(av); ok {
			if tb, ok := asTime(bv); ok {
				return ta.Before(tb)
			}
		}
		if na, ok := asFloat(av); ok {
			if nb, ok := asFloat(bv); ok {
				return na < nb
			}
		}
		return fmt.Sprint(av) < fmt.Sprint(bv)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if order.Ascending {
			return less(rows[i], rows[j])
		}
		return less(rows[j], rows[i])
	})
}
