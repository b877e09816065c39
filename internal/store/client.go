package store

import (
	"context"
	"fmt"
	"time"
)

// Row is a dynamically-shaped record as the remote store returns it.
// Modules decode rows into typed records at the boundary; see decode.go.
type Row = map[string]any

// Filter selects rows by exact equality on the given columns. A compound
// filter (several columns) must match on every column, which is how
// per-author authorization is enforced at the store for chat mutations.
type Filter map[string]any

// Order describes the ordering of a read.
type Order struct {
	Column    string
	Ascending bool
}

// Asc returns an ascending order on the given column.
func Asc(column string) *Order {
	return &Order{Column: column, Ascending: true}
}

// ChangeType classifies a change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is a notification that rows in a collection changed. Delivery is
// at-least-once and unordered; consumers must treat a change purely as a
// signal to re-fetch authoritative state, never as a trusted delta.
type Change struct {
	Collection string     `json:"collection"`
	Type       ChangeType `json:"type"`
	Row        Row        `json:"row"`
}

// Subscription is a live change-feed handle. Unsubscribe releases it;
// forgetting to do so leaks one feed per project visit.
type Subscription interface {
	Unsubscribe()
}

// Client is the contract over the remote tabular store. A single client
// instance is constructed at startup and injected into every component.
type Client interface {
	// Read returns the rows of collection matching filter, ordered by
	// order when non-nil.
	Read(ctx context.Context, collection string, filter Filter, order *Order) ([]Row, error)

	// Insert stores a new row and returns it with server-assigned fields
	// (id, created_at) populated.
	Insert(ctx context.Context, collection string, row Row) (Row, error)

	// Update applies values to every row matching filter and reports how
	// many rows matched.
	Update(ctx context.Context, collection string, filter Filter, values Row) (int64, error)

	// Delete removes every row matching filter and reports how many rows
	// matched.
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)

	// Increment atomically adds delta to a numeric column of the rows
	// matching filter. This is the remote counter operation used by the
	// activity tracker.
	Increment(ctx context.Context, collection string, filter Filter, column string, delta int64) error

	// Subscribe registers fn for change notifications on collection,
	// restricted to rows matching filter. fn may be invoked from an
	// internal goroutine; it must not block for long.
	Subscribe(collection string, filter Filter, fn func(Change)) (Subscription, error)
}

// Matches reports whether row satisfies every equality condition of f.
func (f Filter) Matches(row Row) bool {
	for column, want := range f {
		got, ok := row[column]
		if !ok {
			return false
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares two row values loosely: rows round-trip through
// JSON and database drivers, so the same logical value can arrive as a
// different Go type (uuid vs string, int vs float64, time vs RFC 3339).
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Equal(tb)
		}
		return false
	}
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
