// Package roster keeps a project's collaborator list in sync: invites
// resolve an email to a user and append to the stored collaborator
// array, remote roster changes arrive through the change feed, and
// presence is tracked separately in redis.
package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/module/identity"
	"github.com/collabide/workspace/internal/module/project"
	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/shared/metrics"
	"github.com/collabide/workspace/internal/store"
)

// Synchronizer manages the collaborator roster of projects.
type Synchronizer struct {
	store     store.Client
	directory identity.Directory
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewSynchronizer(client store.Client, directory identity.Directory, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{store: client, directory: directory, logger: logger}
}

// WithMetrics attaches feed metrics.
func (s *Synchronizer) WithMetrics(m *metrics.Metrics) *Synchronizer {
	s.metrics = m
	return s
}

// Get fetches one project by id.
func (s *Synchronizer) Get(ctx context.Context, projectID uuid.UUID) (project.Project, error) {
	rows, err := s.store.Read(ctx, project.Collection, store.Filter{"id": projectID.String()}, nil)
	if err != nil {
		return project.Project{}, err
	}
	if len(rows) == 0 {
		return project.Project{}, fmt.Errorf("%w: project %s", apperrors.ErrNotFound, projectID)
	}
	return project.Decode(rows[0])
}

// Invite adds the user registered under email to the project's
// collaborator roster. The email must belong to a registered user, and
// inviting the owner or an existing collaborator is rejected without a
// write. The roster is replaced as a whole array, guarded by the
// project's updated_at: a concurrent roster change makes the write
// match nothing and surfaces as ErrConflict, so the caller re-reads and
// retries instead of silently overwriting the other invite.
func (s *Synchronizer) Invite(ctx context.Context, projectID uuid.UUID, email string) (project.CollaboratorRef, error) {
	proj, err := s.Get(ctx, projectID)
	if err != nil {
		return project.CollaboratorRef{}, err
	}

	user, err := s.directory.FindUserByEmail(ctx, email)
	if err != nil {
		return project.CollaboratorRef{}, err
	}

	if proj.HasCollaborator(user.ID) || user.Email == proj.OwnerEmail {
		return project.CollaboratorRef{}, fmt.Errorf("%w: %s is already a collaborator", apperrors.ErrAlreadyExists, email)
	}

	ref := project.CollaboratorRef{ID: user.ID, Email: user.Email, Name: user.Name}
	encoded, err := project.EncodeCollaborators(append(proj.Collaborators, ref))
	if err != nil {
		return project.CollaboratorRef{}, err
	}

	affected, err := s.store.Update(ctx, project.Collection,
		store.Filter{"id": projectID.String(), "updated_at": proj.UpdatedAt},
		store.Row{"collaborators": encoded, "updated_at": time.Now().UTC()},
	)
	if err != nil {
		return project.CollaboratorRef{}, err
	}
	if affected == 0 {
		return project.CollaboratorRef{}, fmt.Errorf("%w: project roster changed during invite", apperrors.ErrConflict)
	}

	s.logger.Info("collaborator invited",
		zap.String("project_id", projectID.String()),
		zap.String("user_id", user.ID.String()),
	)
	return ref, nil
}

// Watch subscribes to changes of one project row. Every notification
// triggers a full refetch; onChange receives the fresh project. The
// returned subscription must be released when the session ends.
func (s *Synchronizer) Watch(ctx context.Context, projectID uuid.UUID, onChange func(project.Project)) (store.Subscription, error) {
	return s.store.Subscribe(project.Collection,
		store.Filter{"id": projectID.String()},
		func(store.Change) {
			if ctx.Err() != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.FeedRefetchesTotal.WithLabelValues(project.Collection).Inc()
			}
			proj, err := s.Get(ctx, projectID)
			if err != nil {
				s.logger.Warn("refetch project after change notification failed",
					zap.String("project_id", projectID.String()),
					zap.Error(err),
				)
				return
			}
			onChange(proj)
		})
}
