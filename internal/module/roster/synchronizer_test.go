package roster

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/module/identity"
	"github.com/collabide/workspace/internal/module/project"
	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/store"
)

type fixture struct {
	mem       *store.Memory
	sync      *Synchronizer
	projectID uuid.UUID
	ownerID   uuid.UUID
}

func newFixture(t *testing.T, collaborators []project.CollaboratorRef) *fixture {
	t.Helper()
	mem := store.NewMemory()
	projectID := uuid.New()
	ownerID := uuid.New()

	encoded, err := project.EncodeCollaborators(collaborators)
	require.NoError(t, err)
	_, err = mem.Insert(context.Background(), project.Collection, store.Row{
		"id":            projectID.String(),
		"name":          "demo",
		"owner_id":      ownerID.String(),
		"owner_email":   "owner@example.com",
		"collaborators": encoded,
		"created_at":    time.Now().UTC(),
		"updated_at":    time.Now().UTC(),
	})
	require.NoError(t, err)

	return &fixture{
		mem:       mem,
		sync:      NewSynchronizer(mem, identity.NewStoreDirectory(mem), zap.NewNop()),
		projectID: projectID,
		ownerID:   ownerID,
	}
}

func (f *fixture) registerUser(t *testing.T, email, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.mem.Insert(context.Background(), identity.Collection, store.Row{
		"id":    id.String(),
		"email": email,
		"name":  name,
	})
	require.NoError(t, err)
	return id
}

func TestInvite(t *testing.T) {
	f := newFixture(t, nil)
	userID := f.registerUser(t, "ada@example.com", "Ada")

	ref, err := f.sync.Invite(context.Background(), f.projectID, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, ref.ID)
	assert.Equal(t, "Ada", ref.Name)

	proj, err := f.sync.Get(context.Background(), f.projectID)
	require.NoError(t, err)
	require.Len(t, proj.Collaborators, 1)
	assert.Equal(t, "ada@example.com", proj.Collaborators[0].Email)
}

func TestInviteUnknownEmail(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.sync.Invite(context.Background(), f.projectID, "ghost@example.com")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	proj, err := f.sync.Get(context.Background(), f.projectID)
	require.NoError(t, err)
	assert.Empty(t, proj.Collaborators)
}

func TestInviteDuplicate(t *testing.T) {
	adaID := uuid.New()
	f := newFixture(t, []project.CollaboratorRef{{ID: adaID, Email: "ada@example.com", Name: "Ada"}})
	_, err := f.mem.Insert(context.Background(), identity.Collection, store.Row{
		"id":    adaID.String(),
		"email": "ada@example.com",
		"name":  "Ada",
	})
	require.NoError(t, err)

	_, err = f.sync.Invite(context.Background(), f.projectID, "ada@example.com")
	require.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	proj, err := f.sync.Get(context.Background(), f.projectID)
	require.NoError(t, err)
	assert.Len(t, proj.Collaborators, 1)
}

func TestInviteOwnerRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.registerUser(t, "owner@example.com", "Owner")

	_, err := f.sync.Invite(context.Background(), f.projectID, "owner@example.com")
	require.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

// racingDirectory bumps the project's updated_at while the invite is in
// flight, after the roster read but before the guarded write.
type racingDirectory struct {
	inner identity.Directory
	race  func()
}

func (d *racingDirectory) FindUserByEmail(ctx context.Context, email string) (identity.User, error) {
	d.race()
	return d.inner.FindUserByEmail(ctx, email)
}

func TestInviteConflictOnConcurrentRosterChange(t *testing.T) {
	f := newFixture(t, nil)
	f.registerUser(t, "ada@example.com", "Ada")

	racing := &racingDirectory{
		inner: identity.NewStoreDirectory(f.mem),
		race: func() {
			_, err := f.mem.Update(context.Background(), project.Collection,
				store.Filter{"id": f.projectID.String()},
				store.Row{"updated_at": time.Now().UTC().Add(time.Minute)})
			require.NoError(t, err)
		},
	}
	sync := NewSynchronizer(f.mem, racing, zap.NewNop())

	_, err := sync.Invite(context.Background(), f.projectID, "ada@example.com")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	proj, err := sync.Get(context.Background(), f.projectID)
	require.NoError(t, err)
	assert.Empty(t, proj.Collaborators)
}

func TestWatchRefetchesProject(t *testing.T) {
	f := newFixture(t, nil)

	var got []project.Project
	sub, err := f.sync.Watch(context.Background(), f.projectID, func(p project.Project) {
		got = append(got, p)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = f.mem.Update(context.Background(), project.Collection,
		store.Filter{"id": f.projectID.String()},
		store.Row{"name": "renamed"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "renamed", got[0].Name)
}
