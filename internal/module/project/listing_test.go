package project

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/shared/config"
	apperrors "github.com/collabide/workspace/internal/shared/errors"
)

func newListingServer(t *testing.T, payload string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/projects", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newListingClient(baseURL string) *ListingClient {
	return NewListingClient(&config.ListingConfig{BaseURL: baseURL}, zap.NewNop())
}

func TestListingClientProjects(t *testing.T) {
	ownerID := uuid.New()
	adaID := uuid.New()
	payload := `{
		"success": true,
		"message": "projects fetched",
		"data": [
			{
				"id": "` + uuid.NewString() + `",
				"name": "alpha",
				"description": "first",
				"owner_id": "` + ownerID.String() + `",
				"owner_email": "owner@example.com",
				"collaborators": "[{\"id\":\"` + adaID.String() + `\",\"email\":\"ada@example.com\",\"name\":\"Ada\"}]",
				"created_at": "2024-03-01 10:30:00"
			},
			{
				"id": "` + uuid.NewString() + `",
				"name": "beta",
				"owner_id": "` + uuid.NewString() + `",
				"owner_email": "other@example.com",
				"collaborators": null,
				"created_at": "2024-03-02T08:00:00Z"
			}
		]
	}`
	srv := newListingServer(t, payload, http.StatusOK)
	c := newListingClient(srv.URL)

	all, err := c.Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	require.Len(t, all[0].Collaborators, 1)
	assert.Equal(t, "Ada", all[0].Collaborators[0].Name)
	assert.Equal(t, 2024, all[0].CreatedAt.Year())
	assert.Empty(t, all[1].Collaborators)

	t.Run("filters to visible projects", func(t *testing.T) {
		visible, err := c.ProjectsFor(context.Background(), adaID, "ada@example.com")
		require.NoError(t, err)
		require.Len(t, visible, 1)
		assert.Equal(t, "alpha", visible[0].Name)
	})
}

func TestListingClientFailureEnvelope(t *testing.T) {
	srv := newListingServer(t, `{"success": false, "message": "database down", "data": []}`, http.StatusOK)
	c := newListingClient(srv.URL)

	_, err := c.Projects(context.Background())
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "database down")
}

func TestListingClientMalformedRow(t *testing.T) {
	payload := `{"success": true, "message": "ok", "data": [
		{"id": "not-a-uuid", "name": "broken", "owner_id": "also-bad", "owner_email": "x@example.com"}
	]}`
	srv := newListingServer(t, payload, http.StatusOK)
	c := newListingClient(srv.URL)

	_, err := c.Projects(context.Background())
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestListingClientCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := newListingServer(t, "oops", http.StatusInternalServerError)
	c := newListingClient(srv.URL)

	for i := 0; i < 5; i++ {
		_, err := c.Projects(context.Background())
		require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	}

	// breaker now open: fails fast without hitting the endpoint
	_, err := c.Projects(context.Background())
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
}
