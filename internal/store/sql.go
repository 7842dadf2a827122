package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"facilitator-backend/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// OpenDatabase picks the driver from the DSN. SQLite DSNs start with "file:".
func OpenDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_DSN environment variable is required")
	}

	cfg := &gorm.Config{TranslateError: true, Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(dsn, "file:") {
		return gorm.Open(sqlite.Open(dsn), cfg)
	}
	return gorm.Open(postgres.Open(dsn), cfg)
}

// NewSQLRepositories wires every repository to the same database.
func NewSQLRepositories(db *gorm.DB, logger echo.Logger) *Repositories {
	if logger == nil {
		logger = log.New("store")
	}
	return &Repositories{
		Requests:    &sqlRequests{db: db, logger: logger},
		Responses:   &sqlResponses{db: db, logger: logger},
		Syntheses:   &sqlSyntheses{db: db},
		SeenCounts:  &sqlSeenCounts{db: db},
		Settings:    &sqlSettings{db: db},
		Teams:       &sqlTeams{db: db, logger: logger},
		Folders:     &sqlFolders{db: db},
		Users:       &sqlUsers{db: db},
		Invitations: &sqlInvitations{db: db},
	}
}

func isCorrupt(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "failed to unmarshal JSONB value") ||
		strings.Contains(msg, "invalid character") ||
		strings.Contains(msg, "unexpected end of JSON input")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isCorrupt(err) {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return err
}

// scanEach decodes rows one at a time so a single corrupt row is dropped
// instead of failing the whole listing.
func scanEach[T any](db *gorm.DB, query *gorm.DB, logger echo.Logger, table string) ([]T, error) {
	rows, err := query.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var item T
		if err := db.ScanRows(rows, &item); err != nil {
			if isCorrupt(err) {
				logger.Warnf("Discarding corrupt %s row: %v", table, err)
				continue
			}
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type sqlRequests struct {
	db     *gorm.DB
	logger echo.Logger
}

func (s *sqlRequests) Save(ctx context.Context, r *models.FeedbackRequest) error {
	r.ApplyDefaults()
	return s.db.WithContext(ctx).Save(r).Error
}

func (s *sqlRequests) Get(ctx context.Context, id string) (*models.FeedbackRequest, error) {
	var r models.FeedbackRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	r.ApplyDefaults()
	return &r, nil
}

func (s *sqlRequests) List(ctx context.Context, q RequestQuery) ([]models.FeedbackRequest, error) {
	db := s.db.WithContext(ctx)
	// Candidates are narrowed in SQL; membership in shared_with is checked in Go
	// because the JSON column is not portable between drivers.
	query := db.Model(&models.FeedbackRequest{}).
		Where("owner_id = ? OR (visibility = ? AND team_id = ?) OR visibility = ?",
			q.UserID, models.VisibilityTeam, q.TeamID, models.VisibilityMembers).
		Order("created_at DESC")

	candidates, err := scanEach[models.FeedbackRequest](db, query, s.logger, "requests")
	if err != nil {
		return nil, err
	}

	visible := make([]models.FeedbackRequest, 0, len(candidates))
	for i := range candidates {
		candidates[i].ApplyDefaults()
		if candidates[i].VisibleTo(q.UserID, q.TeamID) {
			visible = append(visible, candidates[i])
		}
	}
	return visible, nil
}

func (s *sqlRequests) ListAll(ctx context.Context) ([]models.FeedbackRequest, error) {
	db := s.db.WithContext(ctx)
	all, err := scanEach[models.FeedbackRequest](db, db.Model(&models.FeedbackRequest{}).Order("created_at DESC"), s.logger, "requests")
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i].ApplyDefaults()
	}
	return all, nil
}

func (s *sqlRequests) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", id).Delete(&models.Response{}).Error; err != nil {
			return err
		}
		if err := tx.Where("request_id = ?", id).Delete(&models.Synthesis{}).Error; err != nil {
			return err
		}
		if err := tx.Where("request_id = ?", id).Delete(&models.SeenCount{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.FeedbackRequest{}).Error
	})
}

type sqlResponses struct {
	db     *gorm.DB
	logger echo.Logger
}

func (s *sqlResponses) Insert(ctx context.Context, r *models.Response) error {
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(r).Error
}

func (s *sqlResponses) ListByRequest(ctx context.Context, requestID string) ([]models.Response, error) {
	db := s.db.WithContext(ctx)
	query := db.Model(&models.Response{}).Where("request_id = ?", requestID).Order("submitted_at ASC")
	return scanEach[models.Response](db, query, s.logger, "responses")
}

func (s *sqlResponses) CountByRequest(ctx context.Context, requestIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(requestIDs))
	if len(requestIDs) == 0 {
		return counts, nil
	}

	type row struct {
		RequestID string
		Total     int
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Response{}).
		Select("request_id, COUNT(*) AS total").
		Where("request_id IN ?", requestIDs).
		Group("request_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.RequestID] = r.Total
	}
	return counts, nil
}

type sqlSyntheses struct {
	db *gorm.DB
}

func (s *sqlSyntheses) Get(ctx context.Context, requestID string) (*models.Synthesis, error) {
	var syn models.Synthesis
	if err := s.db.WithContext(ctx).Where("request_id = ?", requestID).First(&syn).Error; err != nil {
		return nil, notFound(err)
	}
	return &syn, nil
}

func (s *sqlSyntheses) Save(ctx context.Context, syn *models.Synthesis) error {
	syn.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(syn).Error
}

type sqlSeenCounts struct {
	db *gorm.DB
}

func (s *sqlSeenCounts) Get(ctx context.Context, userID, requestID string) (int, error) {
	var seen models.SeenCount
	err := s.db.WithContext(ctx).Where("user_id = ? AND request_id = ?", userID, requestID).First(&seen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seen.Count, nil
}

func (s *sqlSeenCounts) Set(ctx context.Context, userID, requestID string, count int) error {
	return s.db.WithContext(ctx).Save(&models.SeenCount{
		UserID:    userID,
		RequestID: requestID,
		Count:     count,
		UpdatedAt: time.Now(),
	}).Error
}

func (s *sqlSeenCounts) GetMany(ctx context.Context, userID string, requestIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	var rows []models.SeenCount
	if err := s.db.WithContext(ctx).Where("user_id = ? AND request_id IN ?", userID, requestIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.RequestID] = r.Count
	}
	return out, nil
}

type sqlSettings struct {
	db *gorm.DB
}

func (s *sqlSettings) Get(ctx context.Context, userID string) (*models.IntegrationSettings, error) {
	var settings models.IntegrationSettings
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptySettings(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *sqlSettings) Save(ctx context.Context, settings *models.IntegrationSettings) error {
	return s.db.WithContext(ctx).Save(settings).Error
}

type sqlTeams struct {
	db     *gorm.DB
	logger echo.Logger
}

func (s *sqlTeams) Save(ctx context.Context, t *models.Team) error {
	return s.db.WithContext(ctx).Save(t).Error
}

func (s *sqlTeams) Get(ctx context.Context, id string) (*models.Team, error) {
	var t models.Team
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *sqlTeams) GetByInviteCode(ctx context.Context, code string) (*models.Team, error) {
	var t models.Team
	if err := s.db.WithContext(ctx).Where("invite_code = ?", models.NormalizeInviteCode(code)).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *sqlTeams) ListByIDs(ctx context.Context, ids []string) ([]models.Team, error) {
	if len(ids) == 0 {
		return []models.Team{}, nil
	}
	db := s.db.WithContext(ctx)
	return scanEach[models.Team](db, db.Model(&models.Team{}).Where("id IN ?", ids).Order("created_at ASC"), s.logger, "teams")
}

func (s *sqlTeams) ListPublic(ctx context.Context) ([]models.Team, error) {
	db := s.db.WithContext(ctx)
	return scanEach[models.Team](db, db.Model(&models.Team{}).Where("visibility = ?", models.TeamPublic).Order("name ASC"), s.logger, "teams")
}

type sqlFolders struct {
	db *gorm.DB
}

func (s *sqlFolders) Save(ctx context.Context, f *models.Folder) error {
	return s.db.WithContext(ctx).Save(f).Error
}

func (s *sqlFolders) Get(ctx context.Context, id string) (*models.Folder, error) {
	var f models.Folder
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (s *sqlFolders) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Requests in the folder stay; they just lose the folder
		if err := tx.Model(&models.FeedbackRequest{}).Where("folder_id = ?", id).Update("folder_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Folder{}).Error
	})
}

func (s *sqlFolders) ListForTeam(ctx context.Context, teamID, ownerID string) ([]models.Folder, error) {
	var folders []models.Folder
	query := s.db.WithContext(ctx).Where("team_id IS NULL AND owner_id = ?", ownerID)
	if teamID != "" {
		query = s.db.WithContext(ctx).Where("team_id = ? OR (team_id IS NULL AND owner_id = ?)", teamID, ownerID)
	}
	if err := query.Order("created_at ASC").Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

type sqlUsers struct {
	db *gorm.DB
}

func (s *sqlUsers) Save(ctx context.Context, u *models.User) error {
	u.ApplyDefaults()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return s.db.WithContext(ctx).Save(u).Error
}

func (s *sqlUsers) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	u.ApplyDefaults()
	return &u, nil
}

func (s *sqlUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	u.ApplyDefaults()
	return &u, nil
}

type sqlInvitations struct {
	db *gorm.DB
}

func (s *sqlInvitations) Record(ctx context.Context, inv *models.EmailInvitation) error {
	return s.db.WithContext(ctx).Create(inv).Error
}

func (s *sqlInvitations) CountSentSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.EmailInvitation{}).
		Where("sent_by = ? AND sent_at > ?", userID, since).
		Count(&n).Error
	return n, err
}
