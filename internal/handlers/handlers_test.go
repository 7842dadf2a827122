package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"facilitator-backend/internal/common"
	"facilitator-backend/internal/config"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/notifications"
	"facilitator-backend/internal/results"
	"facilitator-backend/internal/store"
	"facilitator-backend/internal/synthesis"
	"facilitator-backend/internal/wizard"

	"github.com/go-playground/validator"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testValidator struct {
	validator *validator.Validate
}

func (tv *testValidator) Validate(i interface{}) error {
	return tv.validator.Struct(i)
}

type sentMessage struct {
	URL, Channel, Text string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, webhookURL, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{URL: webhookURL, Channel: channel, Text: text})
	return nil
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return "Overall positive.", nil
}

type harness struct {
	t        *testing.T
	e        *echo.Echo
	state    common.ServerState
	notifier *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.OpenDatabase(fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	e := echo.New()
	e.Validator = &testValidator{validator: validator.New()}
	e.Logger.SetLevel(log.OFF)

	cfg := &config.Config{}
	cfg.Server.DeployDomain = "facilitator.test"
	cfg.Results.PollInterval = time.Second

	repos := store.NewSQLRepositories(db, e.Logger)
	notifier := &fakeNotifier{}
	summarizer := &fakeSummarizer{}
	state := common.ServerState{
		Echo:       e,
		Config:     cfg,
		DB:         db,
		JwtIssuer:  NewJwtAuth("test-secret"),
		Repos:      repos,
		Sessions:   wizard.NewMemorySessionStore(),
		Notifier:   notifier,
		Summarizer: summarizer,
		Synthesis:  synthesis.NewService(summarizer, repos.Syntheses, e.Logger),
	}
	return &harness{t: t, e: e, state: state, notifier: notifier}
}

func (h *harness) user(name, email string) *models.User {
	h.t.Helper()
	u := &models.User{Name: name, Email: email, TeamIDs: []string{}}
	require.NoError(h.t, h.state.Repos.Users.Save(context.Background(), u))
	return u
}

// call runs fn with an optional signed-in email and path params given as name, value pairs
func (h *harness) call(fn echo.HandlerFunc, method, target, body, email string, params ...string) (*httptest.ResponseRecorder, error) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := h.e.NewContext(req, rec)

	if email != "" {
		c.Set("user", jwt.NewWithClaims(jwt.SigningMethodHS256, &common.JwtCustomClaims{Email: email}))
	}
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)

	return rec, fn(c)
}

func statusOf(rec *httptest.ResponseRecorder, err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return rec.Code
}

func messageOf(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fmt.Sprint(he.Message)
	}
	return ""
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const createBody = `{
	"title": "T",
	"context": "C",
	"content_items": [{"type": "text", "label": "Doc", "value": "Hello"}],
	"questions": [{"type": "likert", "text": "Clear?"}]
}`

func (h *harness) createRequest(email string) GeneratedRequest {
	h.t.Helper()
	handler := NewRequestHandler(h.state)
	rec, err := h.call(handler.CreateRequest, http.MethodPost, "/api/auth/requests", createBody, email)
	require.NoError(h.t, err)
	require.Equal(h.t, http.StatusCreated, rec.Code)
	return decode[GeneratedRequest](h.t, rec)
}

func TestCreateRequest_GeneratesShareLink(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")

	out := h.createRequest("alex@example.com")

	require.NotNil(t, out.Request)
	require.Len(t, out.Request.Questions, 1)
	q := out.Request.Questions[0]
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, models.DefaultLowLabel, q.LowLabel)
	assert.Equal(t, "https://facilitator.test/#review/"+out.Request.ID, out.ShareURL)
	assert.Contains(t, out.ShareMessage, "Alex is requesting feedback on *T*")
	assert.Contains(t, out.ShareMessage, "→ "+out.ShareURL)

	stored, err := h.state.Repos.Requests.Get(context.Background(), out.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Len(t, stored.ContentItems, 1)
	assert.NotEmpty(t, stored.ContentItems[0].ID)
}

func TestCreateRequest_RequiresContent(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	handler := NewRequestHandler(h.state)

	rec, err := h.call(handler.CreateRequest, http.MethodPost, "/api/auth/requests",
		`{"title": "T", "context": "C", "questions": [{"type": "open", "text": "Why?"}]}`, "alex@example.com")
	assert.Equal(t, http.StatusBadRequest, statusOf(rec, err))
}

func TestCreateRequest_Unauthenticated(t *testing.T) {
	h := newHarness(t)
	handler := NewRequestHandler(h.state)

	rec, err := h.call(handler.CreateRequest, http.MethodPost, "/api/auth/requests", createBody, "")
	assert.Equal(t, http.StatusUnauthorized, statusOf(rec, err))
}

func TestUpdateRequest_KeepsQuestionIDs(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	qid := created.Request.Questions[0].ID

	body := fmt.Sprintf(`{
		"title": "T2",
		"context": "C",
		"content_items": [{"type": "text", "label": "Doc", "value": "Hello"}],
		"questions": [
			{"id": %q, "type": "likert", "text": "Very clear?", "low_label": "No", "high_label": "Yes"},
			{"type": "open", "text": "Anything else?"}
		]
	}`, qid)

	handler := NewRequestHandler(h.state)
	rec, err := h.call(handler.UpdateRequest, http.MethodPut, "/api/auth/requests/"+created.Request.ID, body, "alex@example.com", "id", created.Request.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode[GeneratedRequest](t, rec)
	assert.Equal(t, created.Request.ID, out.Request.ID)
	assert.Equal(t, created.ShareURL, out.ShareURL)
	require.Len(t, out.Request.Questions, 2)
	assert.Equal(t, qid, out.Request.Questions[0].ID)
	assert.Equal(t, "Very clear?", out.Request.Questions[0].Text)
	assert.Equal(t, "T2", out.Request.Title)
}

func TestUpdateRequest_OtherUserCannotSeeIt(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	h.user("Jo", "jo@example.com")
	created := h.createRequest("alex@example.com")

	handler := NewRequestHandler(h.state)
	rec, err := h.call(handler.UpdateRequest, http.MethodPut, "/", createBody, "jo@example.com", "id", created.Request.ID)
	assert.Equal(t, http.StatusNotFound, statusOf(rec, err))
}

func TestTagsAndArchive(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	id := created.Request.ID
	handler := NewRequestHandler(h.state)

	_, err := h.call(handler.AddTag, http.MethodPost, "/", `{"tag": " launch "}`, "alex@example.com", "id", id)
	require.NoError(t, err)
	_, err = h.call(handler.ToggleArchive, http.MethodPost, "/", "", "alex@example.com", "id", id)
	require.NoError(t, err)

	rec, err := h.call(handler.ListRequests, http.MethodGet, "/api/auth/requests?tag=launch", "", "alex@example.com")
	require.NoError(t, err)
	listing := decode[results.Listing](t, rec)
	assert.Empty(t, listing.Active)
	require.Len(t, listing.Archived, 1)
	assert.Equal(t, []string{"launch"}, listing.Tags)

	rec, err = h.call(handler.ListRequests, http.MethodGet, "/api/auth/requests?sort=sideways", "", "alex@example.com")
	assert.Equal(t, http.StatusBadRequest, statusOf(rec, err))
}

func TestSendToSlack_RequiresWebhook(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	handler := NewRequestHandler(h.state)

	rec, err := h.call(handler.SendToSlack, http.MethodPost, "/", `{}`, "alex@example.com", "id", created.Request.ID)
	assert.Equal(t, http.StatusBadRequest, statusOf(rec, err))
	assert.Equal(t, notifications.NoWebhookMessage, messageOf(err))
	assert.Empty(t, h.notifier.sent)
}

func TestSendToSlack_UsesSettings(t *testing.T) {
	h := newHarness(t)
	u := h.user("Alex", "alex@example.com")
	require.NoError(t, h.state.Repos.Settings.Save(context.Background(), &models.IntegrationSettings{
		UserID:          u.ID,
		SlackWebhookURL: "https://hooks.slack.test/T000/B000",
		SlackChannel:    "#design",
		SenderName:      "Design team",
	}))
	created := h.createRequest("alex@example.com")
	handler := NewRequestHandler(h.state)

	_, err := h.call(handler.SendToSlack, http.MethodPost, "/", `{}`, "alex@example.com", "id", created.Request.ID)
	require.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	msg := h.notifier.sent[0]
	assert.Equal(t, "https://hooks.slack.test/T000/B000", msg.URL)
	assert.Equal(t, "#design", msg.Channel)
	assert.Contains(t, msg.Text, "Design team is requesting feedback")
	assert.Contains(t, msg.Text, created.ShareURL)
}

func TestSendToSlack_Failure(t *testing.T) {
	h := newHarness(t)
	u := h.user("Alex", "alex@example.com")
	require.NoError(t, h.state.Repos.Settings.Save(context.Background(), &models.IntegrationSettings{
		UserID:          u.ID,
		SlackWebhookURL: "https://hooks.slack.test/T000/B000",
	}))
	created := h.createRequest("alex@example.com")
	h.notifier.err = errors.New("channel_not_found")
	handler := NewRequestHandler(h.state)

	rec, err := h.call(handler.SendToSlack, http.MethodPost, "/", `{}`, "alex@example.com", "id", created.Request.ID)
	assert.Equal(t, http.StatusBadGateway, statusOf(rec, err))
}

func (h *harness) act(review *ReviewHandler, requestID, sessionID, body string) ReviewView {
	h.t.Helper()
	rec, err := h.call(review.Act, http.MethodPost, "/", body, "", "id", requestID, "sid", sessionID)
	require.NoError(h.t, err, body)
	return decode[ReviewView](h.t, rec)
}

func TestReviewFlow_SubmitsOnce(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	id := created.Request.ID
	qid := created.Request.Questions[0].ID
	review := NewReviewHandler(h.state)

	rec, err := h.call(review.StartSession, http.MethodPost, "/", "", "", "id", id)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, rec.Code)
	view := decode[ReviewView](t, rec)
	assert.Equal(t, wizard.StepName, view.Step)
	sid := view.SessionID
	require.NotEmpty(t, sid)

	view = h.act(review, id, sid, `{"action": "name", "text": "Sam"}`)
	assert.True(t, view.CanNext)
	view = h.act(review, id, sid, `{"action": "next"}`)
	assert.Equal(t, wizard.StepFeedback, view.Step)
	assert.False(t, view.CanNext)

	view = h.act(review, id, sid, fmt.Sprintf(`{"action": "answer", "question_id": %q, "value": 4}`, qid))
	assert.True(t, view.CanNext)
	view = h.act(review, id, sid, `{"action": "next"}`)
	assert.Equal(t, wizard.StepReviewerQuestions, view.Step)
	assert.True(t, view.CanSubmit)

	rec, err = h.call(review.Submit, http.MethodPost, "/", "", "", "id", id, "sid", sid)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rec.Code)

	responses, err := h.state.Repos.Responses.ListByRequest(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, sid, responses[0].ID)
	assert.Equal(t, "Sam", responses[0].ReviewerName)

	_, err = h.state.Sessions.Load(context.Background(), sid)
	assert.ErrorIs(t, err, wizard.ErrSessionNotFound)

	rec, err = h.call(review.Submit, http.MethodPost, "/", "", "", "id", id, "sid", sid)
	assert.Equal(t, http.StatusNotFound, statusOf(rec, err))
}

func TestReview_GuardRefusal(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	review := NewReviewHandler(h.state)

	rec, err := h.call(review.StartSession, http.MethodPost, "/", "", "", "id", created.Request.ID)
	require.NoError(t, err)
	sid := decode[ReviewView](t, rec).SessionID

	rec, err = h.call(review.Act, http.MethodPost, "/", `{"action": "next"}`, "", "id", created.Request.ID, "sid", sid)
	assert.Equal(t, http.StatusBadRequest, statusOf(rec, err))

	rec, err = h.call(review.Act, http.MethodPost, "/", `{"action": "anonymous", "flag": true}`, "", "id", created.Request.ID, "sid", sid)
	assert.Equal(t, http.StatusBadRequest, statusOf(rec, err))
}

func TestReview_UnknownRequest(t *testing.T) {
	h := newHarness(t)
	review := NewReviewHandler(h.state)

	rec, err := h.call(review.StartSession, http.MethodPost, "/", "", "", "id", "missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	view := decode[ReviewView](t, rec)
	assert.Equal(t, wizard.StepNotFound, view.Step)
	assert.Empty(t, view.SessionID)
}

type flakyResponses struct {
	store.ResponseRepository
	failures int
}

func (f *flakyResponses) Insert(ctx context.Context, r *models.Response) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.ResponseRepository.Insert(ctx, r)
}

type brokenSaves struct {
	wizard.SessionStore
	broken bool
}

func (b *brokenSaves) Save(ctx context.Context, id string, snap wizard.ReviewSnapshot) error {
	if b.broken {
		return errors.New("redis down")
	}
	return b.SessionStore.Save(ctx, id, snap)
}

// readyToSubmit walks a fresh session up to the reviewer questions step
func (h *harness) readyToSubmit(review *ReviewHandler, created GeneratedRequest) string {
	h.t.Helper()
	id := created.Request.ID
	rec, err := h.call(review.StartSession, http.MethodPost, "/", "", "", "id", id)
	require.NoError(h.t, err)
	sid := decode[ReviewView](h.t, rec).SessionID

	h.act(review, id, sid, `{"action": "name", "text": "Sam"}`)
	h.act(review, id, sid, `{"action": "next"}`)
	h.act(review, id, sid, fmt.Sprintf(`{"action": "answer", "question_id": %q, "value": 4}`, created.Request.Questions[0].ID))
	view := h.act(review, id, sid, `{"action": "next"}`)
	require.True(h.t, view.CanSubmit)
	return sid
}

func TestReview_SubmitFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	id := created.Request.ID

	flaky := &flakyResponses{ResponseRepository: h.state.Repos.Responses, failures: 1}
	repos := *h.state.Repos
	repos.Responses = flaky
	h.state.Repos = &repos
	review := NewReviewHandler(h.state)
	sid := h.readyToSubmit(review, created)

	rec, err := h.call(review.Submit, http.MethodPost, "/", "", "", "id", id, "sid", sid)
	assert.Equal(t, http.StatusBadGateway, statusOf(rec, err))

	snap, err := h.state.Sessions.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepReviewerQuestions, snap.Step)

	rec, err = h.call(review.Submit, http.MethodPost, "/", "", "", "id", id, "sid", sid)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rec.Code)

	responses, err := h.state.Repos.Responses.ListByRequest(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, sid, responses[0].ID)
}

func TestReview_SubmitFailureLogsLostSession(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")

	sessions := &brokenSaves{SessionStore: h.state.Sessions}
	h.state.Sessions = sessions
	repos := *h.state.Repos
	repos.Responses = &flakyResponses{ResponseRepository: h.state.Repos.Responses, failures: 1}
	h.state.Repos = &repos
	review := NewReviewHandler(h.state)
	sid := h.readyToSubmit(review, created)

	var logs strings.Builder
	h.e.Logger.SetOutput(&logs)
	h.e.Logger.SetLevel(log.WARN)
	sessions.broken = true

	rec, err := h.call(review.Submit, http.MethodPost, "/", "", "", "id", created.Request.ID, "sid", sid)
	assert.Equal(t, http.StatusBadGateway, statusOf(rec, err))
	assert.Contains(t, logs.String(), "Failed to keep review session "+sid)
}

func (h *harness) submitResponse(requestID, qid string) {
	h.t.Helper()
	require.NoError(h.t, h.state.Repos.Responses.Insert(context.Background(), &models.Response{
		ID:           "resp-1",
		RequestID:    requestID,
		ReviewerName: "Sam",
		Answers:      map[string]json.RawMessage{qid: json.RawMessage("4")},
		SubmittedAt:  time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
	}))
}

func TestGetResults_MarksSeen(t *testing.T) {
	h := newHarness(t)
	u := h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	h.submitResponse(created.Request.ID, created.Request.Questions[0].ID)
	handler := NewRequestHandler(h.state)

	rec, err := h.call(handler.GetResults, http.MethodGet, "/", "", "alex@example.com", "id", created.Request.ID)
	require.NoError(t, err)
	// Answers render as bare values, so only the summary fields are read back
	var msg struct {
		Update struct {
			Count int `json:"count"`
		} `json:"update"`
		Summary struct {
			ResponseCount int    `json:"response_count"`
			TopReaction   string `json:"top_reaction"`
			Questions     []struct {
				Average *string `json:"average"`
			} `json:"questions"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, 1, msg.Update.Count)
	assert.Equal(t, 1, msg.Summary.ResponseCount)
	assert.Equal(t, results.NoReaction, msg.Summary.TopReaction)
	require.Len(t, msg.Summary.Questions, 1)
	require.NotNil(t, msg.Summary.Questions[0].Average)
	assert.Equal(t, "4.0", *msg.Summary.Questions[0].Average)

	seen, err := h.state.Repos.SeenCounts.Get(context.Background(), u.ID, created.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestExportCSV(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	h.submitResponse(created.Request.ID, created.Request.Questions[0].ID)
	handler := NewRequestHandler(h.state)

	rec, err := h.call(handler.ExportCSV, http.MethodGet, "/", "", "alex@example.com", "id", created.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, `attachment; filename="T_results.csv"`, rec.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, "Reviewer,Submitted,Clear?,Reviewer Questions\nSam,1/2/2026,4,", rec.Body.String())
}

func TestSynthesis_WithoutKey(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	created := h.createRequest("alex@example.com")
	h.submitResponse(created.Request.ID, created.Request.Questions[0].ID)
	handler := NewRequestHandler(h.state)

	rec, err := h.call(handler.RegenerateSynthesis, http.MethodPost, "/", "", "alex@example.com", "id", created.Request.ID)
	require.NoError(t, err)
	result := decode[synthesis.Result](t, rec)
	assert.Equal(t, synthesis.MissingKeyText, result.Text)
	assert.True(t, result.Failed)
}

func TestSynthesis_AutoGeneratesWithKey(t *testing.T) {
	h := newHarness(t)
	u := h.user("Alex", "alex@example.com")
	require.NoError(t, h.state.Repos.Settings.Save(context.Background(), &models.IntegrationSettings{
		UserID:           u.ID,
		SummarizerAPIKey: "sk-test",
	}))
	created := h.createRequest("alex@example.com")
	h.submitResponse(created.Request.ID, created.Request.Questions[0].ID)
	handler := NewRequestHandler(h.state)

	rec, err := h.call(handler.GetSynthesis, http.MethodGet, "/", "", "alex@example.com", "id", created.Request.ID)
	require.NoError(t, err)
	result := decode[synthesis.Result](t, rec)
	assert.Equal(t, "Overall positive.", result.Text)

	// Second read comes from the cache
	_, err = h.call(handler.GetSynthesis, http.MethodGet, "/", "", "alex@example.com", "id", created.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.state.Summarizer.(*fakeSummarizer).calls)
}

func TestSignIn_WithInviteCode(t *testing.T) {
	h := newHarness(t)
	admin := h.user("Alex", "alex@example.com")
	team, err := models.NewTeam("Design", admin, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.state.Repos.Teams.Save(context.Background(), team))

	auth := NewAuthHandler(h.state, nil)
	body := fmt.Sprintf(`{"name": "Pat", "email": "pat@gmail.com", "invite_code": %q}`, strings.ToLower(team.InviteCode))
	rec, err := h.call(auth.SignIn, http.MethodPost, "/api/sign-in", body, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode[SignInResponse](t, rec)
	assert.NotEmpty(t, out.Token)
	assert.Equal(t, []string{team.ID}, out.User.TeamIDs)
	assert.False(t, out.NeedsTeamSetup)

	stored, err := h.state.Repos.Teams.Get(context.Background(), team.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Members, 2)
}

func TestSignIn_UnknownInviteCode(t *testing.T) {
	h := newHarness(t)
	auth := NewAuthHandler(h.state, nil)

	rec, err := h.call(auth.SignIn, http.MethodPost, "/api/sign-in", `{"name": "Pat", "email": "pat@gmail.com", "invite_code": "ZZZZZZ"}`, "")
	assert.Equal(t, http.StatusNotFound, statusOf(rec, err))
}

func TestFolders_CreateAndDelete(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	folders := NewFolderHandler(h.state)

	rec, err := h.call(folders.CreateFolder, http.MethodPost, "/", `{"name": "Q3"}`, "alex@example.com")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Folder  models.Folder   `json:"folder"`
		Folders []models.Folder `json:"folders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Len(t, created.Folders, 1)

	h.user("Jo", "jo@example.com")
	rec, err = h.call(folders.DeleteFolder, http.MethodDelete, "/", "", "jo@example.com", "id", created.Folder.ID)
	assert.Equal(t, http.StatusForbidden, statusOf(rec, err))

	rec, err = h.call(folders.DeleteFolder, http.MethodDelete, "/", "", "alex@example.com", "id", created.Folder.ID)
	require.NoError(t, err)
	assert.NotContains(t, rec.Body.String(), created.Folder.ID)
}

func TestSettings_HidesAPIKey(t *testing.T) {
	h := newHarness(t)
	h.user("Alex", "alex@example.com")
	settings := NewSettingsHandler(h.state)

	rec, err := h.call(settings.UpdateSettings, http.MethodPut, "/", `{"summarizer_api_key": "sk-secret", "sender_name": "Alex"}`, "alex@example.com")
	require.NoError(t, err)
	assert.NotContains(t, rec.Body.String(), "sk-secret")
	view := decode[models.SettingsView](t, rec)
	assert.True(t, view.HasAPIKey)
	assert.Equal(t, "Alex", view.SenderName)

	rec, err = h.call(settings.UpdateSettings, http.MethodPut, "/", `{"slack_webhook_url": "not a url"}`, "alex@example.com")
	assert.Equal(t, http.StatusBadRequest, statusOf(rec, err))
}
