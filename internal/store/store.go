// Package store persists the facilitator's entities behind one repository
// interface per entity. Two backends implement the interfaces: a SQL
// backend on gorm and a REST pass-through to a PostgREST compatible service.
package store

import (
	"context"
	"errors"
	"time"

	"facilitator-backend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is reported when a stored record can no longer be decoded.
	ErrCorrupt = errors.New("stored record is corrupt")
)

// RequestQuery selects the requests a user may list. The visibility rule
// is applied by the backend; TeamID is the user's active team.
type RequestQuery struct {
	UserID string
	TeamID string
}

type RequestRepository interface {
	Save(ctx context.Context, r *models.FeedbackRequest) error
	Get(ctx context.Context, id string) (*models.FeedbackRequest, error)
	// List returns the visible requests, newest first.
	List(ctx context.Context, q RequestQuery) ([]models.FeedbackRequest, error)
	// ListAll returns every request, newest first. Used by exports.
	ListAll(ctx context.Context) ([]models.FeedbackRequest, error)
	// Delete removes the request together with its responses and synthesis.
	Delete(ctx context.Context, id string) error
}

type ResponseRepository interface {
	// Insert appends a response. Inserting an id that already exists is a no-op.
	Insert(ctx context.Context, r *models.Response) error
	// ListByRequest returns responses in submission order.
	ListByRequest(ctx context.Context, requestID string) ([]models.Response, error)
	CountByRequest(ctx context.Context, requestIDs []string) (map[string]int, error)
}

type SynthesisRepository interface {
	Get(ctx context.Context, requestID string) (*models.Synthesis, error)
	Save(ctx context.Context, s *models.Synthesis) error
}

type SeenCountRepository interface {
	// Get returns 0 when nothing was recorded.
	Get(ctx context.Context, userID, requestID string) (int, error)
	Set(ctx context.Context, userID, requestID string, count int) error
	GetMany(ctx context.Context, userID string, requestIDs []string) (map[string]int, error)
}

type SettingsRepository interface {
	// Get returns empty settings when the user has none.
	Get(ctx context.Context, userID string) (*models.IntegrationSettings, error)
	Save(ctx context.Context, s *models.IntegrationSettings) error
}

type TeamRepository interface {
	Save(ctx context.Context, t *models.Team) error
	Get(ctx context.Context, id string) (*models.Team, error)
	GetByInviteCode(ctx context.Context, code string) (*models.Team, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Team, error)
	ListPublic(ctx context.Context) ([]models.Team, error)
}

type FolderRepository interface {
	Save(ctx context.Context, f *models.Folder) error
	Get(ctx context.Context, id string) (*models.Folder, error)
	Delete(ctx context.Context, id string) error
	// ListForTeam returns the team's folders plus unscoped folders owned by ownerID.
	ListForTeam(ctx context.Context, teamID, ownerID string) ([]models.Folder, error)
}

type UserRepository interface {
	Save(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type InvitationRepository interface {
	Record(ctx context.Context, inv *models.EmailInvitation) error
	CountSentSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// Repositories is built once at startup and handed to every component.
type Repositories struct {
	Requests    RequestRepository
	Responses   ResponseRepository
	Syntheses   SynthesisRepository
	SeenCounts  SeenCountRepository
	Settings    SettingsRepository
	Teams       TeamRepository
	Folders     FolderRepository
	Users       UserRepository
	Invitations InvitationRepository

	upgrade func(ctx context.Context) (int, error)
}

// UpgradeLegacy rewrites rows stored before the team list and the pre-bias
// list existed and returns how many changed. SQL databases get this from the
// versioned migrations, so only the REST backend has work to do. Running it
// again is a no-op.
func (r *Repositories) UpgradeLegacy(ctx context.Context) (int, error) {
	if r.upgrade == nil {
		return 0, nil
	}
	return r.upgrade(ctx)
}

func emptySettings(userID string) *models.IntegrationSettings {
	return &models.IntegrationSettings{UserID: userID}
}
