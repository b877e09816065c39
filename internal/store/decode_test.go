package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/collabide/workspace/internal/shared/errors"
)

func TestStringField(t *testing.T) {
	row := Row{"filename": "main.go", "order": 3}

	s, err := StringField(row, "filename")
	require.NoError(t, err)
	assert.Equal(t, "main.go", s)

	_, err = StringField(row, "order")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = StringField(row, "missing")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUUIDField(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"uuid value", id, false},
		{"string form", id.String(), false},
		{"garbage string", "not-a-uuid", true},
		{"wrong type", 42, true},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UUIDField(Row{"id": tt.value}, "id")
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}
}

func TestIntField(t *testing.T) {
	for name, v := range map[string]any{
		"int": 7, "int64": int64(7), "float64": float64(7),
	} {
		t.Run(name, func(t *testing.T) {
			n, err := IntField(Row{"order": v}, "order")
			require.NoError(t, err)
			assert.Equal(t, 7, n)
		})
	}

	_, err := IntField(Row{"order": "7"}, "order")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestTimeField(t *testing.T) {
	now := time.Now().UTC()

	got, err := TimeField(Row{"created_at": now}, "created_at")
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	got, err = TimeField(Row{"created_at": now.Format(time.RFC3339Nano)}, "created_at")
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	_, err = TimeField(Row{"created_at": "yesterday"}, "created_at")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
