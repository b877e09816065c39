package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/module/project"
	apperrors "github.com/collabide/workspace/internal/shared/errors"
	"github.com/collabide/workspace/internal/shared/response"
	"github.com/collabide/workspace/internal/store"
)

// listingRow is one project in the legacy listing payload. Collaborators
// stay a JSON-encoded string because that is the shape existing clients
// decode.
type listingRow struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	OwnerID       string `json:"owner_id"`
	OwnerEmail    string `json:"owner_email"`
	Collaborators string `json:"collaborators"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type listingEnvelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    []listingRow `json:"data"`
}

// listProjects serves the legacy listing envelope. With user_id and
// email query parameters present, only projects visible to that user
// are returned; otherwise the full listing.
func (a *Application) listProjects(c *gin.Context) {
	rows, err := a.store.Read(c.Request.Context(), project.Collection, nil, store.Asc("created_at"))
	if err != nil {
		a.logger.Error("read project listing failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, listingEnvelope{
			Success: false,
			Message: "project listing unavailable",
			Data:    []listingRow{},
		})
		return
	}

	var userID uuid.UUID
	if raw := c.Query("user_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, listingEnvelope{
				Success: false,
				Message: "invalid user_id",
				Data:    []listingRow{},
			})
			return
		}
		userID = parsed
	}
	email := c.Query("email")

	out := make([]listingRow, 0, len(rows))
	for _, row := range rows {
		p, err := project.Decode(row)
		if err != nil {
			a.logger.Error("malformed project row in listing", zap.Error(err))
			c.JSON(http.StatusInternalServerError, listingEnvelope{
				Success: false,
				Message: "malformed project row",
				Data:    []listingRow{},
			})
			return
		}
		if (userID != uuid.Nil || email != "") && !p.VisibleTo(userID, email) {
			continue
		}
		entry, err := toListingRow(p)
		if err != nil {
			a.logger.Error("encode collaborators failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, listingEnvelope{
				Success: false,
				Message: "malformed project row",
				Data:    []listingRow{},
			})
			return
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, listingEnvelope{
		Success: true,
		Message: "projects fetched",
		Data:    out,
	})
}

// getProject serves one project row. Unlike the listing this endpoint
// speaks the shared error shape, not the legacy envelope.
func (a *Application) getProject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.FromError(c, apperrors.ValidationError("invalid project id"))
		return
	}

	rows, err := a.store.Read(c.Request.Context(), project.Collection,
		store.Filter{"id": id.String()}, nil)
	if err != nil {
		a.logger.Error("read project failed", zap.String("project_id", id.String()), zap.Error(err))
		response.FromError(c, apperrors.StoreUnavailable(err))
		return
	}
	if len(rows) == 0 {
		response.FromError(c, apperrors.NotFound("project"))
		return
	}

	p, err := project.Decode(rows[0])
	if err != nil {
		a.logger.Error("malformed project row", zap.String("project_id", id.String()), zap.Error(err))
		response.InternalError(c, "")
		return
	}
	entry, err := toListingRow(p)
	if err != nil {
		a.logger.Error("encode collaborators failed", zap.Error(err))
		response.InternalError(c, "")
		return
	}
	c.JSON(http.StatusOK, entry)
}

func toListingRow(p project.Project) (listingRow, error) {
	encoded, err := project.EncodeCollaborators(p.Collaborators)
	if err != nil {
		return listingRow{}, err
	}
	entry := listingRow{
		ID:            p.ID.String(),
		Name:          p.Name,
		Description:   p.Description,
		OwnerID:       p.OwnerID.String(),
		OwnerEmail:    p.OwnerEmail,
		Collaborators: encoded,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !p.UpdatedAt.IsZero() {
		entry.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return entry, nil
}
