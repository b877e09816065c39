package project

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/store"
)

// Collection is the remote collection holding project rows.
const Collection = "projects"

// CollaboratorRef is a denormalized snapshot of a user taken at invite
// time. It is owned by the project's collaborators array and is only
// refreshed by a re-invite, never silently.
type CollaboratorRef struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

// Project is a named collaborative workspace.
type Project struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	OwnerID       uuid.UUID         `json:"owner_id"`
	OwnerEmail    string            `json:"owner_email"`
	Collaborators []CollaboratorRef `json:"collaborators"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// HasCollaborator reports whether userID is the owner or appears in the
// collaborators array.
func (p *Project) HasCollaborator(userID uuid.UUID) bool {
	if p.OwnerID == userID {
		return true
	}
	for _, c := range p.Collaborators {
		if c.ID == userID {
			return true
		}
	}
	return false
}

// VisibleTo reports whether the project shows up in a user's listing:
// the user owns it (by id or email) or is referenced in collaborators
// by id or email.
func (p *Project) VisibleTo(userID uuid.UUID, email string) bool {
	if p.HasCollaborator(userID) {
		return true
	}
	if email == "" {
		return false
	}
	if p.OwnerEmail == email {
		return true
	}
	for _, c := range p.Collaborators {
		if c.Email == email {
			return true
		}
	}
	return false
}

// Decode rebuilds a Project from a store row.
func Decode(row store.Row) (Project, error) {
	var p Project
	var err error
	if p.ID, err = store.UUIDField(row, "id"); err != nil {
		return Project{}, err
	}
	if p.Name, err = store.StringField(row, "name"); err != nil {
		return Project{}, err
	}
	if p.OwnerID, err = store.UUIDField(row, "owner_id"); err != nil {
		return Project{}, err
	}
	if p.OwnerEmail, err = store.StringField(row, "owner_email"); err != nil {
		return Project{}, err
	}
	if p.CreatedAt, err = store.TimeField(row, "created_at"); err != nil {
		return Project{}, err
	}
	// optional fields
	if v, ok := row["description"].(string); ok {
		p.Description = v
	}
	if v, ok := row["updated_at"]; ok && v != nil {
		if p.UpdatedAt, err = store.TimeField(row, "updated_at"); err != nil {
			return Project{}, err
		}
	}
	if p.Collaborators, err = DecodeCollaborators(row["collaborators"]); err != nil {
		return Project{}, err
	}
	return p, nil
}

// DecodeCollaborators parses the collaborators column, which arrives
// either as a JSON-encoded string (legacy rows) or as an already-decoded
// array. A nil column means no collaborators.
func DecodeCollaborators(v any) ([]CollaboratorRef, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch value := v.(type) {
	case string:
		if value == "" {
			return nil, nil
		}
		raw = []byte(value)
	case []byte:
		raw = value
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: collaborators: %v", apperrors.ErrValidation, err)
		}
		raw = encoded
	}
	var refs []CollaboratorRef
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, fmt.Errorf("%w: collaborators: %v", apperrors.ErrValidation, err)
	}
	return refs, nil
}

// EncodeCollaborators serializes the collaborators array for the
// whole-array replace write the store requires.
func EncodeCollaborators(refs []CollaboratorRef) (string, error) {
	if refs == nil {
		refs = []CollaboratorRef{}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("encode collaborators: %w", err)
	}
	return string(raw), nil
}
