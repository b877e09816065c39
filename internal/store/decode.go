package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/collabide/workspace/internal/shared/errors"
)

// Row decoding helpers. The remote store returns loosely-typed rows;
// every persisted entity is rebuilt as a typed record through these, and
// a shape mismatch fails loudly instead of propagating zero values.

// StringField returns the string value of key.
func StringField(row Row, key string) (string, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return "", decodeErr(key, "missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", decodeErr(key, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

// UUIDField returns the uuid value of key, accepting either a uuid or
// its string form.
func UUIDField(row Row, key string) (uuid.UUID, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return uuid.Nil, decodeErr(key, "missing")
	}
	switch id := v.(type) {
	case uuid.UUID:
		return id, nil
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return uuid.Nil, decodeErr(key, "not a uuid")
		}
		return parsed, nil
	case [16]byte:
		return uuid.UUID(id), nil
	default:
		return uuid.Nil, decodeErr(key, fmt.Sprintf("expected uuid, got %T", v))
	}
}

// IntField returns the integer value of key, accepting any numeric form
// the driver or JSON layer produced.
func IntField(row Row, key string) (int, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return 0, decodeErr(key, "missing")
	}
	n, ok := asFloat(v)
	if !ok {
		return 0, decodeErr(key, fmt.Sprintf("expected number, got %T", v))
	}
	return int(n), nil
}

// Int64Field returns the 64-bit integer value of key.
func Int64Field(row Row, key string) (int64, error) {
	n, err := IntField(row, key)
	return int64(n), err
}

// TimeField returns the timestamp value of key, accepting time.Time or
// an RFC 3339 string.
func TimeField(row Row, key string) (time.Time, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return time.Time{}, decodeErr(key, "missing")
	}
	t, ok := asTime(v)
	if !ok {
		return time.Time{}, decodeErr(key, fmt.Sprintf("expected timestamp, got %T", v))
	}
	return t, nil
}

func decodeErr(key, reason string) error {
	return fmt.Errorf("%w: field %q: %s", apperrors.ErrValidation, key, reason)
}
