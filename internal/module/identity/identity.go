package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/store"
)

// Collection is the remote collection holding user rows.
const Collection = "users"

// User is the identity record resolved during an invite.
type User struct {
	ID    uuid.UUID
	Email string
	Name  string
}

// Directory resolves users. The identity store itself is external; this
// is the lookup interface the roster consumes.
type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
}

// StoreDirectory resolves users from the shared remote store.
type StoreDirectory struct {
	store store.Client
}

// NewStoreDirectory creates a store-backed directory.
func NewStoreDirectory(client store.Client) *StoreDirectory {
	return &StoreDirectory{store: client}
}

// FindUserByEmail looks a user up by exact email match.
func (d *StoreDirectory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	rows, err := d.store.Read(ctx, Collection, store.Filter{"email": email}, nil)
	if err != nil {
		return User{}, err
	}
	if len(rows) == 0 {
		return User{}, fmt.Errorf("%w: user %s", apperrors.ErrNotFound, email)
	}
	return decode(rows[0])
}

func decode(row store.Row) (User, error) {
	var u User
	var err error
	if u.ID, err = store.UUIDField(row, "id"); err != nil {
		return User{}, err
	}
	if u.Email, err = store.StringField(row, "email"); err != nil {
		return User{}, err
	}
	// name falls back to the email local part, as the original did
	if name, ok := row["name"].(string); ok && name != "" {
		u.Name = name
	} else {
		u.Name = localPart(u.Email)
	}
	return u, nil
}

func localPart(email string) string {
	for i := 0; i < len(email); i++ {
		if email[i] == '@' {
			return email[:i]
		}
	}
	return email
}
