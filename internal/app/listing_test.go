package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/module/project"
	"github.com/collabide/workspace/internal/shared/config"
	"github.com/collabide/workspace/internal/shared/metrics"
	"github.com/collabide/workspace/internal/store"
)

func newTestApp(t *testing.T, mem *store.Memory) *Application {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	m := metrics.New("app_test_"+uuid.NewString()[:8], prometheus.NewRegistry())
	return New(cfg, mem, m, zap.NewNop())
}

func seedProject(t *testing.T, mem *store.Memory, name string, ownerID uuid.UUID, ownerEmail string, collaborators []project.CollaboratorRef) uuid.UUID {
	t.Helper()
	encoded, err := project.EncodeCollaborators(collaborators)
	require.NoError(t, err)
	id := uuid.New()
	_, err = mem.Insert(context.Background(), project.Collection, store.Row{
		"id":            id.String(),
		"name":          name,
		"owner_id":      ownerID.String(),
		"owner_email":   ownerEmail,
		"collaborators": encoded,
		"created_at":    time.Now().UTC(),
		"updated_at":    time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func TestListProjects(t *testing.T) {
	mem := store.NewMemory()
	ownerID := uuid.New()
	adaID := uuid.New()
	seedProject(t, mem, "alpha", ownerID, "owner@example.com",
		[]project.CollaboratorRef{{ID: adaID, Email: "ada@example.com", Name: "Ada"}})
	seedProject(t, mem, "beta", uuid.New(), "other@example.com", nil)

	a := newTestApp(t, mem)

	t.Run("returns envelope with encoded collaborators", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		a.Router().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var env listingEnvelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		assert.True(t, env.Success)
		require.Len(t, env.Data, 2)

		// collaborators arrive as a JSON string, not a nested array
		var refs []project.CollaboratorRef
		require.NoError(t, json.Unmarshal([]byte(env.Data[0].Collaborators), &refs))
		require.Len(t, refs, 1)
		assert.Equal(t, "ada@example.com", refs[0].Email)
	})

	t.Run("filters by user when identity given", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet,
			"/api/projects?user_id="+adaID.String()+"&email=ada@example.com", nil)
		a.Router().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var env listingEnvelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		require.Len(t, env.Data, 1)
		assert.Equal(t, "alpha", env.Data[0].Name)
	})

	t.Run("rejects malformed user_id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/projects?user_id=not-a-uuid", nil)
		a.Router().ServeHTTP(w, req)

		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListProjectsStoreDown(t *testing.T) {
	mem := store.NewMemory()
	mem.SetFailure(assert.AnError)
	a := newTestApp(t, mem)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	a.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadGateway, w.Code)
	var env listingEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
}

func TestGetProject(t *testing.T) {
	mem := store.NewMemory()
	ownerID := uuid.New()
	projID := seedProject(t, mem, "alpha", ownerID, "owner@example.com",
		[]project.CollaboratorRef{{ID: uuid.New(), Email: "ada@example.com", Name: "Ada"}})
	a := newTestApp(t, mem)

	t.Run("returns the project row", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/projects/"+projID.String(), nil)
		a.Router().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var row listingRow
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
		assert.Equal(t, "alpha", row.Name)
		assert.Equal(t, ownerID.String(), row.OwnerID)

		var refs []project.CollaboratorRef
		require.NoError(t, json.Unmarshal([]byte(row.Collaborators), &refs))
		require.Len(t, refs, 1)
	})

	t.Run("unknown id is 404 with code", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/projects/"+uuid.NewString(), nil)
		a.Router().ServeHTTP(w, req)

		require.Equal(t, http.StatusNotFound, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("malformed id is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/projects/not-a-uuid", nil)
		a.Router().ServeHTTP(w, req)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestGetProjectStoreDown(t *testing.T) {
	mem := store.NewMemory()
	mem.SetFailure(assert.AnError)
	a := newTestApp(t, mem)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+uuid.NewString(), nil)
	a.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "STORE_UNAVAILABLE", body["code"])
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t, store.NewMemory())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	a.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
