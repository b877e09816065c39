package files

import (
	"time"

	"github.com/google/uuid"

	"github.com/collabide/workspace/internal/store"
)

// Collection is the remote collection holding project file rows.
const Collection = "project_files"

// File is a named unit of text content belonging to exactly one project.
// (project_id, filename) is unique; filename matching is case-sensitive.
type File struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	Order     int       `json:"order"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decode rebuilds a File from a store row.
func Decode(row store.Row) (File, error) {
	var f File
	var err error
	if f.ID, err = store.UUIDField(row, "id"); err != nil {
		return File{}, err
	}
	if f.ProjectID, err = store.UUIDField(row, "project_id"); err != nil {
		return File{}, err
	}
	if f.Filename, err = store.StringField(row, "filename"); err != nil {
		return File{}, err
	}
	if f.Order, err = store.IntField(row, "order"); err != nil {
		return File{}, err
	}
	// content may be absent on freshly-created rows
	if v, ok := row["content"].(string); ok {
		f.Content = v
	}
	if v, ok := row["updated_at"]; ok && v != nil {
		if f.UpdatedAt, err = store.TimeField(row, "updated_at"); err != nil {
			return File{}, err
		}
	}
	return f, nil
}
