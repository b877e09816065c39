package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/shared/config"
	apperrors "github.com/collabide/workspace/internal/shared/errors"
)

// ListingResponse is the wire shape of the legacy project-listing
// endpoint: an envelope with a success flag rather than HTTP status
// semantics, and collaborators JSON-encoded inside each row.
type ListingResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    []listingProject `json:"data"`
}

type listingProject struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	OwnerID       string             `json:"owner_id"`
	OwnerEmail    string             `json:"owner_email"`
	Collaborators collaboratorsField `json:"collaborators"`
	CreatedAt     string             `json:"created_at"`
}

// collaboratorsField tolerates both encodings the endpoint has shipped:
// a JSON array, or that same array serialized into a string.
type collaboratorsField []CollaboratorRef

func (f *collaboratorsField) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var embedded string
		if err := json.Unmarshal(data, &embedded); err != nil {
			return err
		}
		if strings.TrimSpace(embedded) == "" {
			*f = nil
			return nil
		}
		var refs []CollaboratorRef
		if err := json.Unmarshal([]byte(embedded), &refs); err != nil {
			return err
		}
		*f = refs
		return nil
	}
	var refs []CollaboratorRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return err
	}
	*f = refs
	return nil
}

// ListingClient consumes the legacy listing endpoint. Calls go through a
// circuit breaker so a failing endpoint is not hammered; a failure is
// always surfaced to the caller, never turned into an empty list.
type ListingClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]Project]
	logger     *zap.Logger
}

// NewListingClient creates a listing client for the configured endpoint.
func NewListingClient(cfg *config.ListingConfig, logger *zap.Logger) *ListingClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[[]Project](gobreaker.Settings{
		Name:        "project-listing",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &ListingClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

// Projects fetches every project the endpoint returns.
func (c *ListingClient) Projects(ctx context.Context) ([]Project, error) {
	projects, err := c.breaker.Execute(func() ([]Project, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: listing endpoint circuit open", apperrors.ErrStoreUnavailable)
		}
		return nil, err
	}
	return projects, nil
}

// ProjectsFor fetches the projects visible to a user: owned, or
// referenced in collaborators by id or email.
func (c *ListingClient) ProjectsFor(ctx context.Context, userID uuid.UUID, email string) ([]Project, error) {
	all, err := c.Projects(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]Project, 0, len(all))
	for _, p := range all {
		if p.VisibleTo(userID, email) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

func (c *ListingClient) fetch(ctx context.Context) ([]Project, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/projects", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: listing returned status %d", apperrors.ErrStoreUnavailable, resp.StatusCode)
	}

	var envelope ListingResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: listing payload: %v", apperrors.ErrValidation, err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrStoreUnavailable, envelope.Message)
	}

	projects := make([]Project, 0, len(envelope.Data))
	for _, item := range envelope.Data {
		p, err := item.toProject()
		if err != nil {
			c.logger.Warn("malformed project row in listing",
				zap.String("project_id", item.ID),
				zap.Error(err),
			)
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (item listingProject) toProject() (Project, error) {
	id, err := uuid.Parse(item.ID)
	if err != nil {
		return Project{}, fmt.Errorf("%w: project id: %v", apperrors.ErrValidation, err)
	}
	ownerID, err := uuid.Parse(item.OwnerID)
	if err != nil {
		return Project{}, fmt.Errorf("%w: owner id: %v", apperrors.ErrValidation, err)
	}
	p := Project{
		ID:            id,
		Name:          item.Name,
		Description:   item.Description,
		OwnerID:       ownerID,
		OwnerEmail:    item.OwnerEmail,
		Collaborators: item.Collaborators,
	}
	if item.CreatedAt != "" {
		createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
		if err != nil {
			// legacy rows use MySQL datetime format
			createdAt, err = time.Parse("2006-01-02 15:04:05", item.CreatedAt)
			if err != nil {
				return Project{}, fmt.Errorf("%w: created_at: %v", apperrors.ErrValidation, err)
			}
		}
		p.CreatedAt = createdAt
	}
	return p, nil
}
