// Package session composes the per-project editing surface: the file
// set, the open-tab working set, the collaborator roster, the chat
// thread, presence and active-time tracking, all wired to one remote
// store and torn down together.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/module/activity"
	"github.com/collabide/workspace/internal/module/chat"
	"github.com/collabide/workspace/internal/module/files"
	"github.com/collabide/workspace/internal/module/identity"
	"github.com/collabide/workspace/internal/module/project"
	"github.com/collabide/workspace/internal/module/roster"
	"github.com/collabide/workspace/internal/module/tabs"
	"github.com/collabide/workspace/internal/shared/config"
	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/shared/metrics"
	"github.com/collabide/workspace/internal/store"
)

// Options identifies who is opening which project and carries the
// callbacks the caller renders from. All callbacks are optional.
type Options struct {
	ProjectID uuid.UUID
	User      identity.User

	// OnFiles fires with the ordered file list after any change.
	OnFiles func([]files.File)
	// OnChat fires with the full message thread after any change.
	OnChat func([]chat.Message)
	// OnRoster fires with the fresh project after a roster change.
	OnRoster func(project.Project)
	// OnError receives background persistence failures.
	OnError func(error)

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Session is one user's live view of one project.
type Session struct {
	store  store.Client
	redis  redis.UniversalClient
	logger *zap.Logger
	cfg    config.SyncConfig
	opts   Options

	filesMgr *files.Manager
	tabs     *tabs.Session
	chat     *chat.Synchronizer
	roster   *roster.Synchronizer
	tracker  *activity.Tracker
	presence *roster.Presence

	mu        sync.Mutex
	project   project.Project
	rosterSub store.Subscription
	opened    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an unopened session. redisClient may be nil, in which case
// presence is disabled; everything else still works.
func New(client store.Client, redisClient redis.UniversalClient, cfg config.SyncConfig, opts Options, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:  client,
		redis:  redisClient,
		logger: logger,
		cfg:    cfg,
		opts:   opts,
		tabs:   tabs.NewSession(),
		roster: roster.NewSynchronizer(client, identity.NewStoreDirectory(client), logger).WithMetrics(opts.Metrics),
		ctx:    ctx,
		cancel: cancel,
	}
	s.filesMgr = files.NewManager(client, files.Options{
		ProjectID:    opts.ProjectID,
		SaveDebounce: cfg.SaveDebounce,
		OnChange:     s.handleFiles,
		OnError:      s.reportError,
		Metrics:      opts.Metrics,
	}, logger)
	s.chat = chat.NewSynchronizer(client, chat.Options{
		ProjectID: opts.ProjectID,
		UserID:    opts.User.ID,
		UserName:  opts.User.Name,
		OnChange:  s.handleChat,
		Metrics:   opts.Metrics,
	}, logger)
	s.tracker = activity.NewTracker(client, opts.User.ID, cfg.ActivityInterval, logger)
	if redisClient != nil {
		s.presence = roster.NewPresence(redisClient, opts.ProjectID, opts.User.ID,
			cfg.PresenceTTL, cfg.PresenceHeartbeat, logger).WithMetrics(opts.Metrics)
	}
	return s
}

// Open loads all project state and starts the live machinery: change
// feeds, the activity loop and the presence heartbeat. The first file
// in order opens as the active tab. Opening a project the user cannot
// see fails with ErrUnauthorized before any subscription is made.
func (s *Session) Open(ctx context.Context) error {
	proj, err := s.roster.Get(ctx, s.opts.ProjectID)
	if err != nil {
		return err
	}
	if !proj.VisibleTo(s.opts.User.ID, s.opts.User.Email) {
		return fmt.Errorf("%w: user %s has no access to project %s",
			apperrors.ErrUnauthorized, s.opts.User.ID, s.opts.ProjectID)
	}
	s.mu.Lock()
	s.project = proj
	s.mu.Unlock()

	fileList, err := s.filesMgr.Load(ctx)
	if err != nil {
		return err
	}
	if len(fileList) > 0 {
		s.tabs.Open(fileList[0])
	}

	if _, err := s.chat.Load(ctx); err != nil {
		return err
	}

	if err := s.filesMgr.Watch(); err != nil {
		return err
	}
	if err := s.chat.Watch(s.ctx); err != nil {
		return err
	}
	rosterSub, err := s.roster.Watch(s.ctx, s.opts.ProjectID, s.handleRoster)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rosterSub = rosterSub
	s.mu.Unlock()

	s.tracker.Start(s.ctx)
	if s.presence != nil {
		s.presence.Start(s.ctx)
	}

	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	if s.opts.Metrics != nil {
		s.opts.Metrics.SessionsActive.Inc()
	}
	return nil
}

// Close stops all live machinery and flushes pending file writes. Safe
// to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	rosterSub := s.rosterSub
	s.rosterSub = nil
	wasOpen := s.opened
	s.opened = false
	s.mu.Unlock()
	if wasOpen && s.opts.Metrics != nil {
		s.opts.Metrics.SessionsActive.Dec()
	}
	if rosterSub != nil {
		rosterSub.Unsubscribe()
	}
	s.chat.Close()
	s.tracker.Stop()
	if s.presence != nil {
		s.presence.Stop()
	}
	s.filesMgr.Close()
	s.cancel()
}

// Project returns the current project snapshot.
func (s *Session) Project() project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// Files returns the ordered file list.
func (s *Session) Files() []files.File {
	return s.filesMgr.Files()
}

// Tabs returns the open-tab strip.
func (s *Session) Tabs() []tabs.Tab {
	return s.tabs.Tabs()
}

// ActiveTab returns the active tab, if any.
func (s *Session) ActiveTab() (tabs.Tab, bool) {
	return s.tabs.Active()
}

// OpenFile opens (or re-activates) the tab for filename.
func (s *Session) OpenFile(filename string) (tabs.Tab, error) {
	f, ok := s.filesMgr.Lookup(filename)
	if !ok {
		return tabs.Tab{}, fmt.Errorf("%w: file %q", apperrors.ErrNotFound, filename)
	}
	return s.tabs.Open(f), nil
}

// CloseTab closes the tab for fileID, returning the newly active tab.
func (s *Session) CloseTab(fileID uuid.UUID) (tabs.Tab, bool) {
	return s.tabs.Close(fileID)
}

// EditActiveTab applies content to the active tab and schedules the
// debounced persist of its file.
func (s *Session) EditActiveTab(content string) error {
	fileID, err := s.tabs.Edit(content)
	if err != nil {
		return err
	}
	return s.filesMgr.UpdateContent(fileID, content)
}

// CreateFile adds a new empty file and opens a tab for it.
func (s *Session) CreateFile(ctx context.Context, filename string) (files.File, error) {
	f, err := s.filesMgr.Create(ctx, filename)
	if err != nil {
		return files.File{}, err
	}
	s.tabs.Open(f)
	return f, nil
}

// RenameFile renames a file; the open tab follows through reconciliation.
func (s *Session) RenameFile(ctx context.Context, fileID uuid.UUID, newFilename string) error {
	return s.filesMgr.Rename(ctx, fileID, newFilename)
}

// DeleteFile removes a file; its tab closes through reconciliation.
func (s *Session) DeleteFile(ctx context.Context, fileID uuid.UUID) error {
	return s.filesMgr.Delete(ctx, fileID)
}

// ReorderFiles persists a new file ordering.
func (s *Session) ReorderFiles(ctx context.Context, orderedFilenames []string) error {
	return s.filesMgr.Reorder(ctx, orderedFilenames)
}

// ReorderTabs rearranges the tab strip locally.
func (s *Session) ReorderTabs(orderedFilenames []string) {
	s.tabs.Reorder(orderedFilenames)
}

// SaveNow flushes all pending file content writes immediately.
func (s *Session) SaveNow() {
	s.filesMgr.Flush()
}

// Messages returns the chat thread, oldest first.
func (s *Session) Messages() []chat.Message {
	return s.chat.Messages()
}

// SendMessage posts to the project thread.
func (s *Session) SendMessage(ctx context.Context, text string) (chat.Message, error) {
	return s.chat.Send(ctx, text)
}

// EditMessage edits one of the user's own messages.
func (s *Session) EditMessage(ctx context.Context, messageID uuid.UUID, text string) error {
	return s.chat.Edit(ctx, messageID, text)
}

// DeleteMessage deletes one of the user's own messages.
func (s *Session) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	return s.chat.Delete(ctx, messageID)
}

// Invite adds the user behind email to the project roster.
func (s *Session) Invite(ctx context.Context, email string) (project.CollaboratorRef, error) {
	return s.roster.Invite(ctx, s.opts.ProjectID, email)
}

// SetCursor publishes the user's cursor position to presence.
func (s *Session) SetCursor(ctx context.Context, line, col int) {
	if s.presence != nil {
		s.presence.SetCursor(ctx, line, col)
	}
}

// PresenceSnapshot merges the roster with live presence state. With
// presence disabled every member reports offline.
func (s *Session) PresenceSnapshot(ctx context.Context) ([]roster.PresenceEntry, error) {
	proj := s.Project()
	if s.redis == nil {
		entries := make([]roster.PresenceEntry, 0, len(proj.Collaborators)+1)
		entries = append(entries, roster.PresenceEntry{
			CollaboratorID: proj.OwnerID, Email: proj.OwnerEmail, Name: proj.OwnerEmail,
		})
		for _, c := range proj.Collaborators {
			entries = append(entries, roster.PresenceEntry{CollaboratorID: c.ID, Email: c.Email, Name: c.Name})
		}
		return entries, nil
	}
	return roster.Snapshot(ctx, s.redis, proj)
}

// handleFiles runs after every file-list change, local or remote. Tab
// reconciliation happens here, so by the time any mutating call returns
// the tab strip and the file list agree.
func (s *Session) handleFiles(snapshot []files.File) {
	s.tabs.Reconcile(snapshot)
	if len(s.tabs.Tabs()) == 0 && len(snapshot) > 0 {
		s.tabs.Open(snapshot[0])
	}
	if s.opts.OnFiles != nil {
		s.opts.OnFiles(snapshot)
	}
}

func (s *Session) handleChat(thread []chat.Message) {
	if s.opts.OnChat != nil {
		s.opts.OnChat(thread)
	}
}

func (s *Session) handleRoster(proj project.Project) {
	s.mu.Lock()
	s.project = proj
	s.mu.Unlock()
	if s.opts.OnRoster != nil {
		s.opts.OnRoster(proj)
	}
}

func (s *Session) reportError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}
