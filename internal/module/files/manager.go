package files

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/shared/metrics"
	"github.com/collabide/workspace/internal/store"
)

const defaultSaveDebounce = 750 * time.Millisecond

// Options configures a Manager.
type Options struct {
	ProjectID uuid.UUID

	// SaveDebounce is the trailing debounce applied to content persists.
	// Rapid edits to the same file coalesce into one write carrying the
	// latest content.
	SaveDebounce time.Duration

	// OnChange receives a snapshot of the ordered file list after every
	// local or remote-origin mutation. The session wires this to tab
	// reconciliation, so by the time a mutating call returns, tabs and
	// file list agree.
	OnChange func([]File)

	// OnError receives asynchronous persistence failures. Local state is
	// not rolled back; the caller decides whether to retry or surface
	// the discrepancy.
	OnError func(error)

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Manager owns the authoritative ordered file list of one project and
// mediates between the remote store and the open-tab working set.
// Local mutations are optimistic: the list reflects them immediately,
// persistence happens in the background, and a failed write never
// reverts local state on its own.
type Manager struct {
	store     store.Client
	logger    *zap.Logger
	projectID uuid.UUID
	debounce  time.Duration
	onChange  func([]File)
	onError   func(error)
	metrics   *metrics.Metrics

	mu      sync.Mutex
	files   []File
	pending map[uuid.UUID]*pendingWrite
	sub     store.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pendingWrite holds the latest unflushed content for one file. dirty is
// set by every edit and cleared when a flush picks the content up; a
// flush completing with dirty set schedules another one, which keeps
// writes to the same file observably ordered.
type pendingWrite struct {
	content  string
	timer    *time.Timer
	flushing bool
	dirty    bool
}

// NewManager creates a file set manager for one project.
func NewManager(client store.Client, opts Options, logger *zap.Logger) *Manager {
	debounce := opts.SaveDebounce
	if debounce <= 0 {
		debounce = defaultSaveDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     client,
		logger:    logger,
		projectID: opts.ProjectID,
		debounce:  debounce,
		onChange:  opts.OnChange,
		onError:   opts.OnError,
		metrics:   opts.Metrics,
		pending:   make(map[uuid.UUID]*pendingWrite),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Load fetches the project's files ordered by their order column. A
// store failure is returned as-is; the manager keeps no stale fallback.
func (m *Manager) Load(ctx context.Context) ([]File, error) {
	rows, err := m.store.Read(ctx, Collection,
		store.Filter{"project_id": m.projectID.String()}, store.Asc("order"))
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(rows))
	for _, row := range rows {
		f, err := Decode(row)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	m.mu.Lock()
	m.files = files
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snapshot)
	return snapshot, nil
}

// Watch subscribes to the change feed for this project's files. Every
// notification triggers a full refetch; the payload itself is never
// trusted as a delta.
func (m *Manager) Watch() error {
	sub, err := m.store.Subscribe(Collection,
		store.Filter{"project_id": m.projectID.String()},
		func(store.Change) {
			if m.ctx.Err() != nil {
				return
			}
			if m.metrics != nil {
				m.metrics.FeedRefetchesTotal.WithLabelValues(Collection).Inc()
			}
			if err := m.Refresh(m.ctx); err != nil {
				m.logger.Warn("refresh after change notification failed",
					zap.String("project_id", m.projectID.String()),
					zap.Error(err),
				)
			}
		})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	return nil
}

// Files returns a snapshot of the ordered file list.
func (m *Manager) Files() []File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Lookup finds a file by exact filename.
func (m *Manager) Lookup(filename string) (File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.Filename == filename {
			return f, true
		}
	}
	return File{}, false
}

// LookupID finds a file by id.
func (m *Manager) LookupID(id uuid.UUID) (File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.ID == id {
			return f, true
		}
	}
	return File{}, false
}

// Create inserts a new empty file. A duplicate filename (case-sensitive
// exact match) is rejected without touching the store. The new file's
// order is greater than every existing one.
func (m *Manager) Create(ctx context.Context, filename string) (File, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return File{}, fmt.Errorf("%w: filename is empty", apperrors.ErrValidation)
	}

	m.mu.Lock()
	for _, f := range m.files {
		if f.Filename == filename {
			m.mu.Unlock()
			return File{}, fmt.Errorf("%w: file %q", apperrors.ErrAlreadyExists, filename)
		}
	}
	nextOrder := 0
	for _, f := range m.files {
		if f.Order > nextOrder {
			nextOrder = f.Order
		}
	}
	nextOrder++
	m.mu.Unlock()

	row, err := m.store.Insert(ctx, Collection, store.Row{
		"id":         uuid.NewString(),
		"project_id": m.projectID.String(),
		"filename":   filename,
		"content":    "",
		"order":      nextOrder,
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		return File{}, err
	}
	created, err := Decode(row)
	if err != nil {
		return File{}, err
	}

	// A change notification can beat us here and install the new file
	// through Refresh; appending again would duplicate it.
	m.mu.Lock()
	present := false
	for _, f := range m.files {
		if f.ID == created.ID {
			present = true
			break
		}
	}
	if !present {
		m.files = append(m.files, created)
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snapshot)
	return created, nil
}

// UpdateContent records new content for a file and schedules a debounced
// persist. The call never blocks on the store: the local list is updated
// synchronously and the write happens in the background. Overlapping
// updates to the same file coalesce; the last call's content is the one
// that eventually persists.
func (m *Manager) UpdateContent(fileID uuid.UUID, content string) error {
	m.mu.Lock()
	found := false
	for i := range m.files {
		if m.files[i].ID == fileID {
			m.files[i].Content = content
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("%w: file %s", apperrors.ErrNotFound, fileID)
	}
	pw, ok := m.pending[fileID]
	if !ok {
		pw = &pendingWrite{}
		m.pending[fileID] = pw
	}
	pw.content = content
	pw.dirty = true
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.timer = time.AfterFunc(m.debounce, func() { m.flush(fileID) })
	m.mu.Unlock()
	return nil
}

// Flush persists every pending content write immediately, bypassing the
// debounce. Used by explicit save and teardown.
func (m *Manager) Flush() {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.pending))
	for id, pw := range m.pending {
		if pw.timer != nil {
			pw.timer.Stop()
		}
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.flush(id)
	}
}

func (m *Manager) flush(fileID uuid.UUID) {
	m.mu.Lock()
	pw, ok := m.pending[fileID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if pw.flushing {
		// the in-flight write's completion will pick the new content up
		m.mu.Unlock()
		return
	}
	pw.flushing = true
	pw.dirty = false
	content := pw.content
	// register before releasing the lock so Close's Wait cannot miss an
	// in-flight write
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()
	_, err := m.store.Update(m.ctx, Collection,
		store.Filter{"id": fileID.String(), "project_id": m.projectID.String()},
		store.Row{"content": content, "updated_at": time.Now().UTC()},
	)
	if m.metrics != nil {
		m.metrics.RecordFileSave(err)
	}

	again := false
	m.mu.Lock()
	if pw, ok := m.pending[fileID]; ok {
		pw.flushing = false
		if pw.dirty {
			again = true
		} else {
			delete(m.pending, fileID)
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("persist file content failed",
			zap.String("file_id", fileID.String()),
			zap.Error(err),
		)
		m.reportError(err)
	}
	if again {
		m.flush(fileID)
	}
}

// Rename changes a file's name and propagates it into every structure
// referencing the old name in the same step (OnChange fires before the
// call returns). The remote write failing does not revert the local
// rename; the error is returned for the caller to surface.
func (m *Manager) Rename(ctx context.Context, fileID uuid.UUID, newFilename string) error {
	newFilename = strings.TrimSpace(newFilename)
	if newFilename == "" {
		return fmt.Errorf("%w: filename is empty", apperrors.ErrValidation)
	}

	m.mu.Lock()
	idx := -1
	for i := range m.files {
		if m.files[i].ID == fileID {
			idx = i
		} else if m.files[i].Filename == newFilename {
			m.mu.Unlock()
			return fmt.Errorf("%w: file %q", apperrors.ErrAlreadyExists, newFilename)
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: file %s", apperrors.ErrNotFound, fileID)
	}
	if m.files[idx].Filename == newFilename {
		m.mu.Unlock()
		return nil
	}
	m.files[idx].Filename = newFilename
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snapshot)

	_, err := m.store.Update(ctx, Collection,
		store.Filter{"id": fileID.String(), "project_id": m.projectID.String()},
		store.Row{"filename": newFilename, "updated_at": time.Now().UTC()},
	)
	if err != nil {
		m.reportError(err)
	}
	return err
}

// Delete removes a file remotely and from the local list. Tab fallout
// (closing the matching tab, re-activating another) happens through
// OnChange in the same step.
func (m *Manager) Delete(ctx context.Context, fileID uuid.UUID) error {
	m.mu.Lock()
	idx := -1
	for i := range m.files {
		if m.files[i].ID == fileID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: file %s", apperrors.ErrNotFound, fileID)
	}
	m.files = append(m.files[:idx], m.files[idx+1:]...)
	if pw, ok := m.pending[fileID]; ok {
		if pw.timer != nil {
			pw.timer.Stop()
		}
		delete(m.pending, fileID)
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snapshot)

	_, err := m.store.Delete(ctx, Collection,
		store.Filter{"id": fileID.String(), "project_id": m.projectID.String()})
	if err != nil {
		m.reportError(err)
	}
	return err
}

// Reorder reassigns the order column as a dense 1-based sequence
// matching orderedFilenames. Files not mentioned keep their relative
// order after the mentioned ones. The local list reflects the new order
// immediately; each changed order value is persisted in the background
// of the call.
func (m *Manager) Reorder(ctx context.Context, orderedFilenames []string) error {
	m.mu.Lock()
	byName := make(map[string]int, len(m.files))
	for i, f := range m.files {
		byName[f.Filename] = i
	}
	reordered := make([]File, 0, len(m.files))
	taken := make(map[string]bool, len(orderedFilenames))
	for _, name := range orderedFilenames {
		if idx, ok := byName[name]; ok && !taken[name] {
			reordered = append(reordered, m.files[idx])
			taken[name] = true
		}
	}
	for _, f := range m.files {
		if !taken[f.Filename] {
			reordered = append(reordered, f)
		}
	}
	type orderChange struct {
		id    uuid.UUID
		order int
	}
	var changes []orderChange
	for i := range reordered {
		want := i + 1
		if reordered[i].Order != want {
			reordered[i].Order = want
			changes = append(changes, orderChange{id: reordered[i].ID, order: want})
		}
	}
	m.files = reordered
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snapshot)

	var firstErr error
	for _, change := range changes {
		_, err := m.store.Update(ctx, Collection,
			store.Filter{"id": change.id.String(), "project_id": m.projectID.String()},
			store.Row{"order": change.order, "updated_at": time.Now().UTC()},
		)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		m.reportError(firstErr)
	}
	return firstErr
}

// Refresh re-fetches the authoritative file list and replaces the local
// one. Content for files with an unflushed local edit is preserved, so a
// remote change to one file never discards unsaved work on another.
func (m *Manager) Refresh(ctx context.Context) error {
	rows, err := m.store.Read(ctx, Collection,
		store.Filter{"project_id": m.projectID.String()}, store.Asc("order"))
	if err != nil {
		return err
	}
	fresh := make([]File, 0, len(rows))
	for _, row := range rows {
		f, err := Decode(row)
		if err != nil {
			return err
		}
		fresh = append(fresh, f)
	}

	m.mu.Lock()
	for i := range fresh {
		if pw, ok := m.pending[fresh[i].ID]; ok {
			fresh[i].Content = pw.content
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Order < fresh[j].Order })
	m.files = fresh
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snapshot)
	return nil
}

// Close flushes pending writes, releases the feed subscription and stops
// background work. No callback fires after Close returns.
func (m *Manager) Close() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	m.Flush()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) snapshotLocked() []File {
	out := make([]File, len(m.files))
	copy(out, m.files)
	return out
}

func (m *Manager) notify(snapshot []File) {
	if m.onChange != nil {
		m.onChange(snapshot)
	}
}

func (m *Manager) reportError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}
