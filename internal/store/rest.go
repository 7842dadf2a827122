package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"facilitator-backend/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/tidwall/gjson"
)

const (
	tableRequests    = "feedback_requests"
	tableResponses   = "responses"
	tableSyntheses   = "syntheses"
	tableSeenCounts  = "seen_counts"
	tableSettings    = "integration_settings"
	tableTeams       = "teams"
	tableFolders     = "folders"
	tableUsers       = "users"
	tableInvitations = "email_invitations"

	preferUpsert = "resolution=merge-duplicates,return=minimal"
	preferIgnore = "resolution=ignore-duplicates,return=minimal"
)

// restClient talks to a PostgREST style endpoint: one table per path,
// filters as query parameters.
type restClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  echo.Logger
}

// NewRESTRepositories builds the pass-through backend. Tables mirror the
// SQL schema so both backends read and write the same rows.
func NewRESTRepositories(baseURL, apiKey string, httpClient *http.Client, logger echo.Logger) *Repositories {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = log.New("store")
	}
	c := &restClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		logger:  logger,
	}
	return &Repositories{
		Requests:    &restRequests{c},
		Responses:   &restResponses{c},
		Syntheses:   &restSyntheses{c},
		SeenCounts:  &restSeenCounts{c},
		Settings:    &restSettings{c},
		Teams:       &restTeams{c},
		Folders:     &restFolders{c},
		Users:       &restUsers{c},
		Invitations: &restInvitations{c},
		upgrade:     c.upgradeLegacy,
	}
}

func (c *restClient) patch(ctx context.Context, table, id string, fields map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, table, url.Values{"id": {eq(id)}}, fields, "return=minimal")
	return err
}

// upgradeLegacy clears the legacy columns as it folds them, so a second run
// finds nothing.
func (c *restClient) upgradeLegacy(ctx context.Context) (int, error) {
	changed := 0

	users, err := restSelect[models.User](ctx, c, tableUsers, url.Values{"team_id": {"not.is.null"}})
	if err != nil {
		return changed, fmt.Errorf("listing legacy users: %w", err)
	}
	for i := range users {
		u := &users[i]
		if !u.FoldLegacyTeam() {
			continue
		}
		u.ApplyDefaults()
		err := c.patch(ctx, tableUsers, u.ID, map[string]any{
			"team_ids":       u.TeamIDs,
			"active_team_id": u.ActiveTeamID,
			"team_id":        nil,
		})
		if err != nil {
			return changed, fmt.Errorf("upgrading user %s: %w", u.ID, err)
		}
		changed++
	}

	requests, err := restSelect[models.FeedbackRequest](ctx, c, tableRequests, url.Values{"pre_bias_question": {"not.is.null"}})
	if err != nil {
		return changed, fmt.Errorf("listing legacy requests: %w", err)
	}
	for i := range requests {
		fr := &requests[i]
		if !fr.FoldLegacyPreBias() {
			continue
		}
		err := c.patch(ctx, tableRequests, fr.ID, map[string]any{
			"pre_bias_questions": fr.PreBiasQuestions,
			"pre_bias_question":  nil,
		})
		if err != nil {
			return changed, fmt.Errorf("upgrading request %s: %w", fr.ID, err)
		}
		changed++
	}

	if changed > 0 {
		c.logger.Infof("Upgraded %d legacy rows", changed)
	}
	return changed, nil
}

func eq(v string) string { return "eq." + v }

func in(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}

func (c *restClient) do(ctx context.Context, method, table string, query url.Values, body any, prefer string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s row: %w", table, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, table, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%s %s: %s", method, table, msg)
	}
	return respBody, nil
}

// restSelect decodes each row on its own; rows that no longer decode are
// logged and dropped.
func restSelect[T any](ctx context.Context, c *restClient, table string, query url.Values) ([]T, error) {
	body, err := c.do(ctx, http.MethodGet, table, query, nil, "")
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("%w: %s listing is not an array", ErrCorrupt, table)
	}

	out := []T{}
	parsed.ForEach(func(_, row gjson.Result) bool {
		var item T
		if err := json.Unmarshal([]byte(row.Raw), &item); err != nil {
			c.logger.Warnf("Discarding corrupt %s row: %v", table, err)
			return true
		}
		out = append(out, item)
		return true
	})
	return out, nil
}

// restFirst reports a row that fails to decode as ErrCorrupt, matching the
// SQL backend's lookups by id.
func restFirst[T any](ctx context.Context, c *restClient, table string, query url.Values) (*T, error) {
	query.Set("limit", "1")
	body, err := c.do(ctx, http.MethodGet, table, query, nil, "")
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("%w: %s lookup is not an array", ErrCorrupt, table)
	}
	row := parsed.Get("0")
	if !row.Exists() {
		return nil, ErrNotFound
	}

	item := new(T)
	if err := json.Unmarshal([]byte(row.Raw), item); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, table, err)
	}
	return item, nil
}

func (c *restClient) upsert(ctx context.Context, table string, row any, conflict string) error {
	var query url.Values
	if conflict != "" {
		query = url.Values{"on_conflict": {conflict}}
	}
	_, err := c.do(ctx, http.MethodPost, table, query, row, preferUpsert)
	return err
}

func (c *restClient) delete(ctx context.Context, table string, query url.Values) error {
	_, err := c.do(ctx, http.MethodDelete, table, query, nil, "")
	return err
}

type restRequests struct{ c *restClient }

func (r *restRequests) Save(ctx context.Context, fr *models.FeedbackRequest) error {
	fr.ApplyDefaults()
	now := time.Now()
	if fr.ID == "" {
		if err := fr.BeforeCreate(nil); err != nil {
			return err
		}
	}
	if fr.CreatedAt.IsZero() {
		fr.CreatedAt = now
	}
	fr.UpdatedAt = now
	return r.c.upsert(ctx, tableRequests, fr, "id")
}

func (r *restRequests) Get(ctx context.Context, id string) (*models.FeedbackRequest, error) {
	fr, err := restFirst[models.FeedbackRequest](ctx, r.c, tableRequests, url.Values{"id": {eq(id)}})
	if err != nil {
		return nil, err
	}
	fr.ApplyDefaults()
	return fr, nil
}

func (r *restRequests) List(ctx context.Context, q RequestQuery) ([]models.FeedbackRequest, error) {
	filter := fmt.Sprintf("(owner_id.eq.%s,and(visibility.eq.%s,team_id.eq.%s),visibility.eq.%s)",
		q.UserID, models.VisibilityTeam, q.TeamID, models.VisibilityMembers)
	candidates, err := restSelect[models.FeedbackRequest](ctx, r.c, tableRequests, url.Values{
		"or":    {filter},
		"order": {"created_at.desc"},
	})
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

func (r *restRequests) ListAll(ctx context.Context) ([]models.FeedbackRequest, error) {
	all, err := restSelect[models.FeedbackRequest](ctx, r.c, tableRequests, url.Values{"order": {"created_at.desc"}})
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i].ApplyDefaults()
	}
	return all, nil
}

func (r *restRequests) Delete(ctx context.Context, id string) error {
	for _, table := range []string{tableResponses, tableSyntheses, tableSeenCounts} {
		if err := r.c.delete(ctx, table, url.Values{"request_id": {eq(id)}}); err != nil {
			return err
		}
	}
	return r.c.delete(ctx, tableRequests, url.Values{"id": {eq(id)}})
}

type restResponses struct{ c *restClient }

func (r *restResponses) Insert(ctx context.Context, resp *models.Response) error {
	if resp.ID == "" {
		if err := resp.BeforeCreate(nil); err != nil {
			return err
		}
	}
	if resp.SubmittedAt.IsZero() {
		resp.SubmittedAt = time.Now()
	}
	_, err := r.c.do(ctx, http.MethodPost, tableResponses, url.Values{"on_conflict": {"id"}}, resp, preferIgnore)
	return err
}

func (r *restResponses) ListByRequest(ctx context.Context, requestID string) ([]models.Response, error) {
	return restSelect[models.Response](ctx, r.c, tableResponses, url.Values{
		"request_id": {eq(requestID)},
		"order":      {"submitted_at.asc"},
	})
}

func (r *restResponses) CountByRequest(ctx context.Context, requestIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(requestIDs))
	if len(requestIDs) == 0 {
		return counts, nil
	}

	type row struct {
		RequestID string `json:"request_id"`
	}
	rows, err := restSelect[row](ctx, r.c, tableResponses, url.Values{
		"select":     {"request_id"},
		"request_id": {in(requestIDs)},
	})
	if err != nil {
		return nil, err
	}
	for _, rw := range rows {
		counts[rw.RequestID]++
	}
	return counts, nil
}

type restSyntheses struct{ c *restClient }

func (r *restSyntheses) Get(ctx context.Context, requestID string) (*models.Synthesis, error) {
	return restFirst[models.Synthesis](ctx, r.c, tableSyntheses, url.Values{"request_id": {eq(requestID)}})
}

func (r *restSyntheses) Save(ctx context.Context, s *models.Synthesis) error {
	s.UpdatedAt = time.Now()
	return r.c.upsert(ctx, tableSyntheses, s, "request_id")
}

type restSeenCounts struct{ c *restClient }

func (r *restSeenCounts) Get(ctx context.Context, userID, requestID string) (int, error) {
	seen, err := restFirst[models.SeenCount](ctx, r.c, tableSeenCounts, url.Values{
		"user_id":    {eq(userID)},
		"request_id": {eq(requestID)},
	})
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seen.Count, nil
}

func (r *restSeenCounts) Set(ctx context.Context, userID, requestID string, count int) error {
	return r.c.upsert(ctx, tableSeenCounts, &models.SeenCount{
		UserID:    userID,
		RequestID: requestID,
		Count:     count,
		UpdatedAt: time.Now(),
	}, "user_id,request_id")
}

func (r *restSeenCounts) GetMany(ctx context.Context, userID string, requestIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	rows, err := restSelect[models.SeenCount](ctx, r.c, tableSeenCounts, url.Values{
		"user_id":    {eq(userID)},
		"request_id": {in(requestIDs)},
	})
	if err != nil {
		return nil, err
	}
	for _, s := range rows {
		out[s.RequestID] = s.Count
	}
	return out, nil
}

// settingsRow exposes the api key column, which the model hides from JSON.
type settingsRow struct {
	UserID           string    `json:"user_id"`
	SlackWebhookURL  string    `json:"slack_webhook_url"`
	SlackChannel     string    `json:"slack_channel"`
	SenderName       string    `json:"sender_name"`
	SummarizerAPIKey string    `json:"summarizer_api_key"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type restSettings struct{ c *restClient }

func (r *restSettings) Get(ctx context.Context, userID string) (*models.IntegrationSettings, error) {
	row, err := restFirst[settingsRow](ctx, r.c, tableSettings, url.Values{"user_id": {eq(userID)}})
	if err == ErrNotFound {
		return emptySettings(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return &models.IntegrationSettings{
		UserID:           row.UserID,
		SlackWebhookURL:  row.SlackWebhookURL,
		SlackChannel:     row.SlackChannel,
		SenderName:       row.SenderName,
		SummarizerAPIKey: row.SummarizerAPIKey,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

func (r *restSettings) Save(ctx context.Context, s *models.IntegrationSettings) error {
	return r.c.upsert(ctx, tableSettings, settingsRow{
		UserID:           s.UserID,
		SlackWebhookURL:  s.SlackWebhookURL,
		SlackChannel:     s.SlackChannel,
		SenderName:       s.SenderName,
		SummarizerAPIKey: s.SummarizerAPIKey,
		UpdatedAt:        time.Now(),
	}, "user_id")
}

type restTeams struct{ c *restClient }

func (r *restTeams) Save(ctx context.Context, t *models.Team) error {
	if t.ID == "" || t.InviteCode == "" {
		if err := t.BeforeCreate(nil); err != nil {
			return err
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()
	return r.c.upsert(ctx, tableTeams, t, "id")
}

func (r *restTeams) Get(ctx context.Context, id string) (*models.Team, error) {
	return restFirst[models.Team](ctx, r.c, tableTeams, url.Values{"id": {eq(id)}})
}

func (r *restTeams) GetByInviteCode(ctx context.Context, code string) (*models.Team, error) {
	return restFirst[models.Team](ctx, r.c, tableTeams, url.Values{"invite_code": {eq(models.NormalizeInviteCode(code))}})
}

func (r *restTeams) ListByIDs(ctx context.Context, ids []string) ([]models.Team, error) {
	if len(ids) == 0 {
		return []models.Team{}, nil
	}
	return restSelect[models.Team](ctx, r.c, tableTeams, url.Values{"id": {in(ids)}, "order": {"created_at.asc"}})
}

func (r *restTeams) ListPublic(ctx context.Context) ([]models.Team, error) {
	return restSelect[models.Team](ctx, r.c, tableTeams, url.Values{
		"visibility": {eq(string(models.TeamPublic))},
		"order":      {"name.asc"},
	})
}

type restFolders struct{ c *restClient }

func (r *restFolders) Save(ctx context.Context, f *models.Folder) error {
	if f.ID == "" {
		if err := f.BeforeCreate(nil); err != nil {
			return err
		}
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	return r.c.upsert(ctx, tableFolders, f, "id")
}

func (r *restFolders) Get(ctx context.Context, id string) (*models.Folder, error) {
	return restFirst[models.Folder](ctx, r.c, tableFolders, url.Values{"id": {eq(id)}})
}

func (r *restFolders) Delete(ctx context.Context, id string) error {
	_, err := r.c.do(ctx, http.MethodPatch, tableRequests, url.Values{"folder_id": {eq(id)}},
		map[string]any{"folder_id": nil}, "return=minimal")
	if err != nil {
		return err
	}
	return r.c.delete(ctx, tableFolders, url.Values{"id": {eq(id)}})
}

func (r *restFolders) ListForTeam(ctx context.Context, teamID, ownerID string) ([]models.Folder, error) {
	query := url.Values{"order": {"created_at.asc"}}
	if teamID != "" {
		query.Set("or", fmt.Sprintf("(team_id.eq.%s,and(team_id.is.null,owner_id.eq.%s))", teamID, ownerID))
	} else {
		query.Set("team_id", "is.null")
		query.Set("owner_id", eq(ownerID))
	}
	return restSelect[models.Folder](ctx, r.c, tableFolders, query)
}

type restUsers struct{ c *restClient }

func (r *restUsers) Save(ctx context.Context, u *models.User) error {
	u.ApplyDefaults()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.ID == "" {
		if err := u.BeforeCreate(nil); err != nil {
			return err
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.UpdatedAt = time.Now()
	return r.c.upsert(ctx, tableUsers, u, "id")
}

func (r *restUsers) Get(ctx context.Context, id string) (*models.User, error) {
	u, err := restFirst[models.User](ctx, r.c, tableUsers, url.Values{"id": {eq(id)}})
	if err != nil {
		return nil, err
	}
	u.ApplyDefaults()
	return u, nil
}

func (r *restUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := restFirst[models.User](ctx, r.c, tableUsers, url.Values{"email": {eq(strings.ToLower(strings.TrimSpace(email)))}})
	if err != nil {
		return nil, err
	}
	u.ApplyDefaults()
	return u, nil
}

type invitationRow struct {
	TeamID string    `json:"team_id"`
	Email  string    `json:"email"`
	SentBy string    `json:"sent_by"`
	SentAt time.Time `json:"sent_at"`
}

type restInvitations struct{ c *restClient }

func (r *restInvitations) Record(ctx context.Context, inv *models.EmailInvitation) error {
	_, err := r.c.do(ctx, http.MethodPost, tableInvitations, nil, invitationRow{
		TeamID: inv.TeamID,
		Email:  inv.Email,
		SentBy: inv.SentBy,
		SentAt: inv.SentAt,
	}, "return=minimal")
	return err
}

func (r *restInvitations) CountSentSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	rows, err := restSelect[invitationRow](ctx, r.c, tableInvitations, url.Values{
		"select":  {"sent_by"},
		"sent_by": {eq(userID)},
		"sent_at": {"gt." + since.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}
