// Package chat syncs a project's message thread. Messages belong to a
// project, authorship is enforced at the store through compound filters
// rather than checked client-side, and ordering is always ascending by
// creation time.
package chat

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

const Collection = "project_chat"

// Message is one chat entry in a project thread.
type Message struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	UserID    uuid.UUID
	UserName  string
	Text      string
	CreatedAt time.Time
}

func decode(row store.Row) (Message, error) {
	var m Message
	var err error
	if m.ID, err = store.UUIDField(row, "id"); err != nil {
		return Message{}, err
	}
	if m.ProjectID, err = store.UUIDField(row, "project_id"); err != nil {
		return Message{}, err
	}
	if m.UserID, err = store.UUIDField(row, "user_id"); err != nil {
		return Message{}, err
	}
	if m.Text, err = store.StringField(row, "text"); err != nil {
		return Message{}, err
	}
	if m.CreatedAt, err = store.TimeField(row, "created_at"); err != nil {
		return Message{}, err
	}
	if v, ok := row["user_name"].(string); ok {
		m.UserName = v
	}
	return m, nil
}

// Synchronizer maintains the message history of one project for one
// user. Writes carry the user's identity; edits and deletes of other
// users' messages match zero rows at the store and come back as
// ErrUnauthorized.
type Synchronizer struct {
	store     store.Client
	logger    *zap.Logger
	projectID uuid.UUID
	userID    uuid.UUID
	userName  string

	metrics *metrics.Metrics

	mu       sync.Mutex
	messages []Message
	sub      store.Subscription
	onChange func([]Message)
}

// Options configures a chat synchronizer.
type Options struct {
	ProjectID uuid.UUID
	UserID    uuid.UUID
	UserName  string

	// OnChange receives the full ordered history after every local or
	// remote-origin change.
	OnChange func([]Message)

	// Metrics is optional.
	Metrics *metrics.Metrics
}

func NewSynchronizer(client store.Client, opts Options, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		store:     client,
		logger:    logger,
		projectID: opts.ProjectID,
		userID:    opts.UserID,
		userName:  opts.UserName,
		onChange:  opts.OnChange,
		metrics:   opts.Metrics,
	}
}

// Load fetches the full thread, oldest first.
func (s *Synchronizer) Load(ctx context.Context) ([]Message, error) {
	rows, err := s.store.Read(ctx, Collection,
		store.Filter{"project_id": s.projectID.String()}, store.Asc("created_at"))
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		m, err := decode(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	s.mu.Lock()
	s.messages = messages
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snapshot)
	return snapshot, nil
}

// Watch subscribes to the project's chat feed. Every notification
// triggers a full refetch of the thread.
func (s *Synchronizer) Watch(ctx context.Context) error {
	sub, err := s.store.Subscribe(Collection,
		store.Filter{"project_id": s.projectID.String()},
		func(store.Change) {
			if ctx.Err() != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.FeedRefetchesTotal.WithLabelValues(Collection).Inc()
			}
			if _, err := s.Load(ctx); err != nil {
				s.logger.Warn("refetch chat after change notification failed",
					zap.String("project_id", s.projectID.String()),
					zap.Error(err),
				)
			}
		})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Messages returns the current thread snapshot, oldest first.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Send posts a message to the thread. Text is trimmed; a message that is
// empty after trimming is rejected before any remote call.
func (s *Synchronizer) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, fmt.Errorf("%w: message is empty", apperrors.ErrValidation)
	}

	row, err := s.store.Insert(ctx, Collection, store.Row{
		"id":         uuid.NewString(),
		"project_id": s.projectID.String(),
		"user_id":    s.userID.String(),
		"user_name":  s.userName,
		"text":       text,
	})
	if err != nil {
		return Message{}, err
	}
	sent, err := decode(row)
	if err != nil {
		return Message{}, err
	}
	if s.metrics != nil {
		s.metrics.ChatMessagesTotal.Inc()
	}

	// The feed refetch triggered by the insert may already hold the
	// message; only append when it does not.
	s.mu.Lock()
	present := false
	for _, m := range s.messages {
		if m.ID == sent.ID {
			present = true
			break
		}
	}
	if !present {
		s.messages = append(s.messages, sent)
		sort.SliceStable(s.messages, func(i, j int) bool {
			return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
		})
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snapshot)
	return sent, nil
}

// Edit replaces the text of one of the user's own messages. The store
// matches on message, project and author together, so editing someone
// else's message affects nothing and returns ErrUnauthorized.
func (s *Synchronizer) Edit(ctx context.Context, messageID uuid.UUID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message is empty", apperrors.ErrValidation)
	}

	affected, err := s.store.Update(ctx, Collection,
		s.ownMessageFilter(messageID),
		store.Row{"text": text},
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: message %s is not editable by this user", apperrors.ErrUnauthorized, messageID)
	}

	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Text = text
			break
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snapshot)
	return nil
}

// Delete removes one of the user's own messages. Same authorization
// shape as Edit: zero rows matched means it was not this user's message.
func (s *Synchronizer) Delete(ctx context.Context, messageID uuid.UUID) error {
	affected, err := s.store.Delete(ctx, Collection, s.ownMessageFilter(messageID))
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: message %s is not deletable by this user", apperrors.ErrUnauthorized, messageID)
	}

	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snapshot)
	return nil
}

// Close releases the feed subscription.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (s *Synchronizer) ownMessageFilter(messageID uuid.UUID) store.Filter {
	return store.Filter{
		"id":         messageID.String(),
		"project_id": s.projectID.String(),
		"user_id":    s.userID.String(),
	}
}

func (s *Synchronizer) snapshotLocked() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Synchronizer) notify(snapshot []Message) {
	if s.onChange != nil {
		s.onChange(snapshot)
	}
}
