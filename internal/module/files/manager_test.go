package files

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/store"
)

func seedFile(t *testing.T, mem *store.Memory, projectID uuid.UUID, filename, content string, order int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := mem.Insert(context.Background(), Collection, store.Row{
		"id":         id.String(),
		"project_id": projectID.String(),
		"filename":   filename,
		"content":    content,
		"order":      order,
		"updated_at": time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func storedContent(t *testing.T, mem *store.Memory, fileID uuid.UUID) string {
	t.Helper()
	rows, err := mem.Read(context.Background(), Collection, store.Filter{"id": fileID.String()}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	content, err := store.StringField(rows[0], "content")
	require.NoError(t, err)
	return content
}

func TestManagerLoad(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	seedFile(t, mem, projectID, "style.css", "body {}", 2)
	seedFile(t, mem, projectID, "index.js", "console.log(1)", 1)
	seedFile(t, mem, uuid.New(), "other.js", "", 1)

	m := NewManager(mem, Options{ProjectID: projectID}, zap.NewNop())
	defer m.Close()

	got, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "index.js", got[0].Filename)
	assert.Equal(t, "style.css", got[1].Filename)
}

func TestManagerLoadStoreUnavailable(t *testing.T) {
	mem := store.NewMemory()
	mem.SetFailure(assert.AnError)

	m := NewManager(mem, Options{ProjectID: uuid.New()}, zap.NewNop())
	defer m.Close()

	_, err := m.Load(context.Background())
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Empty(t, m.Files())
}

func TestManagerCreate(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	seedFile(t, mem, projectID, "index.js", "", 3)

	m := NewManager(mem, Options{ProjectID: projectID}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	created, err := m.Create(context.Background(), "style.css")
	require.NoError(t, err)
	assert.Equal(t, "style.css", created.Filename)
	assert.Equal(t, "", created.Content)
	assert.Equal(t, 4, created.Order)

	reloaded, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
	assert.Equal(t, "style.css", reloaded[1].Filename)
}

func TestManagerCreateWithWatchActive(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	seedFile(t, mem, projectID, "index.js", "", 1)

	m := NewManager(mem, Options{ProjectID: projectID}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Watch())

	// the insert's own change notification refetches before Create
	// returns; the created file must still appear exactly once
	created, err := m.Create(context.Background(), "style.css")
	require.NoError(t, err)

	files := m.Files()
	require.Len(t, files, 2)
	count := 0
	for _, f := range files {
		if f.ID == created.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestManagerCreateDuplicate(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	seedFile(t, mem, projectID, "index.js", "", 1)

	m := NewManager(mem, Options{ProjectID: projectID}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "index.js")
	require.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	rows, err := mem.Read(context.Background(), Collection, store.Filter{"project_id": projectID.String()}, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestManagerRename(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	fileID := seedFile(t, mem, projectID, "index.js", "", 1)
	seedFile(t, mem, projectID, "style.css", "", 2)

	var seen []File
	m := NewManager(mem, Options{
		ProjectID: projectID,
		OnChange:  func(fs []File) { seen = fs },
	}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	t.Run("duplicate target rejected", func(t *testing.T) {
		err := m.Rename(context.Background(), fileID, "style.css")
		require.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	})

	t.Run("rename visible before return", func(t *testing.T) {
		require.NoError(t, m.Rename(context.Background(), fileID, "main.js"))
		require.Len(t, seen, 2)
		assert.Equal(t, "main.js", seen[0].Filename)

		rows, err := mem.Read(context.Background(), Collection, store.Filter{"id": fileID.String()}, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		name, err := store.StringField(rows[0], "filename")
		require.NoError(t, err)
		assert.Equal(t, "main.js", name)
	})
}

func TestManagerDelete(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	fileID := seedFile(t, mem, projectID, "index.js", "", 1)
	seedFile(t, mem, projectID, "style.css", "", 2)

	m := NewManager(mem, Options{ProjectID: projectID}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), fileID))

	files := m.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "style.css", files[0].Filename)

	rows, err := mem.Read(context.Background(), Collection, store.Filter{"project_id": projectID.String()}, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestManagerDeleteKeepsLocalStateOnStoreFailure(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	fileID := seedFile(t, mem, projectID, "index.js", "", 1)

	var reported error
	m := NewManager(mem, Options{
		ProjectID: projectID,
		OnError:   func(err error) { reported = err },
	}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	mem.SetFailure(assert.AnError)
	err = m.Delete(context.Background(), fileID)
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	require.ErrorIs(t, reported, apperrors.ErrStoreUnavailable)

	// locally gone even though the remote delete failed
	assert.Empty(t, m.Files())
}

func TestManagerReorder(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	jsID := seedFile(t, mem, projectID, "index.js", "", 1)
	cssID := seedFile(t, mem, projectID, "style.css", "", 2)

	m := NewManager(mem, Options{ProjectID: projectID}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Reorder(context.Background(), []string{"style.css", "index.js"}))

	files := m.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "style.css", files[0].Filename)
	assert.Equal(t, 1, files[0].Order)
	assert.Equal(t, "index.js", files[1].Filename)
	assert.Equal(t, 2, files[1].Order)

	for id, want := range map[uuid.UUID]int{cssID: 1, jsID: 2} {
		rows, err := mem.Read(context.Background(), Collection, store.Filter{"id": id.String()}, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		order, err := store.IntField(rows[0], "order")
		require.NoError(t, err)
		assert.Equal(t, want, order)
	}
}

func TestManagerUpdateContentLastWriteWins(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	fileID := seedFile(t, mem, projectID, "index.js", "", 1)

	m := NewManager(mem, Options{ProjectID: projectID, SaveDebounce: 10 * time.Millisecond}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.UpdateContent(fileID, "v1"))
	require.NoError(t, m.UpdateContent(fileID, "v2"))

	f, ok := m.LookupID(fileID)
	require.True(t, ok)
	assert.Equal(t, "v2", f.Content)

	assert.Eventually(t, func() bool {
		return storedContent(t, mem, fileID) == "v2"
	}, time.Second, 5*time.Millisecond)
}

func TestManagerFlushBypassesDebounce(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	fileID := seedFile(t, mem, projectID, "index.js", "", 1)

	m := NewManager(mem, Options{ProjectID: projectID, SaveDebounce: time.Hour}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.UpdateContent(fileID, "saved"))
	m.Flush()

	assert.Equal(t, "saved", storedContent(t, mem, fileID))
}

func TestManagerRefreshPreservesPendingContent(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	fileID := seedFile(t, mem, projectID, "index.js", "remote", 1)
	otherID := seedFile(t, mem, projectID, "style.css", "old", 2)

	m := NewManager(mem, Options{ProjectID: projectID, SaveDebounce: time.Hour}, zap.NewNop())
	defer m.Close()
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.UpdateContent(fileID, "local edit"))
	_, err = mem.Update(context.Background(), Collection,
		store.Filter{"id": otherID.String()}, store.Row{"content": "new"})
	require.NoError(t, err)

	require.NoError(t, m.Refresh(context.Background()))

	edited, ok := m.LookupID(fileID)
	require.True(t, ok)
	assert.Equal(t, "local edit", edited.Content)
	other, ok := m.LookupID(otherID)
	require.True(t, ok)
	assert.Equal(t, "new", other.Content)
}

func TestManagerCloseWaitsForInFlightWrites(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	fileID := seedFile(t, mem, projectID, "index.js", "", 1)

	for i := 0; i < 50; i++ {
		var mu sync.Mutex
		closed := false
		late := false
		m := NewManager(mem, Options{
			ProjectID:    projectID,
			SaveDebounce: time.Millisecond,
			OnError: func(error) {
				mu.Lock()
				if closed {
					late = true
				}
				mu.Unlock()
			},
		}, zap.NewNop())
		_, err := m.Load(context.Background())
		require.NoError(t, err)

		mem.SetFailure(assert.AnError)
		require.NoError(t, m.UpdateContent(fileID, "edit"))
		time.Sleep(time.Millisecond) // let the debounce timer race Close
		m.Close()
		mu.Lock()
		closed = true
		failedLate := late
		mu.Unlock()
		mem.SetFailure(nil)

		require.False(t, failedLate, "error callback fired after Close returned")
	}
}

func TestManagerWatchRefetchesOnChange(t *testing.T) {
	projectID := uuid.New()
	mem := store.NewMemory()
	seedFile(t, mem, projectID, "index.js", "", 1)

	m := NewManager(mem, Options{ProjectID: projectID}, zap.NewNop())
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Watch())

	seedFile(t, mem, projectID, "style.css", "", 2)
	assert.Eventually(t, func() bool {
		return len(m.Files()) == 2
	}, time.Second, 5*time.Millisecond)

	m.Close()
	assert.Equal(t, 0, mem.SubscriberCount(Collection))
}
