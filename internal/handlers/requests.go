package handlers

import (
	"errors"
	"net/http"
	"strings"

	"facilitator-backend/internal/common"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/notifications"
	"facilitator-backend/internal/results"
	"facilitator-backend/internal/store"
	"facilitator-backend/internal/wizard"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type RequestHandler struct {
	common.ServerState
}

func NewRequestHandler(state common.ServerState) *RequestHandler {
	return &RequestHandler{ServerState: state}
}

// RequestPayload is the whole creation form. It is replayed through the
// creation wizard so the same guards apply as in the UI.
type RequestPayload struct {
	Title              string               `json:"title" validate:"required"`
	Context            string               `json:"context"`
	ContentItems       []models.ContentItem `json:"content_items"`
	PreBiasQuestions   []string             `json:"pre_bias_questions"`
	Questions          []models.Question    `json:"questions"`
	FocusOn            string               `json:"focus_on"`
	IgnoreNote         string               `json:"ignore_note"`
	Deadline           string               `json:"deadline"`
	AddFirstImpression bool                 `json:"add_first_impression"`
	AddClosingQuestion bool                 `json:"add_closing_question"`
	AllowAnonymous     bool                 `json:"allow_anonymous"`
	Visibility         models.Visibility    `json:"visibility"`
	SharedWith         []string             `json:"shared_with"`
	FolderID           string               `json:"folder_id"`
}

type GeneratedRequest struct {
	Request      *models.FeedbackRequest `json:"request"`
	ShareURL     string                  `json:"share_url"`
	ShareMessage string                  `json:"share_message"`
}

// applyDetails fills step 1. Content and pre-bias questions are replaced
// wholesale; questions re-attach their hotspots in step 2.
func applyDetails(cw *wizard.Creation, p *RequestPayload) error {
	draft := cw.Draft()
	for len(draft.ContentItems) > 0 {
		if err := cw.RemoveContent(len(draft.ContentItems) - 1); err != nil {
			return err
		}
	}
	for len(draft.PreBiasQuestions) > 0 {
		if err := cw.RemovePreBias(len(draft.PreBiasQuestions) - 1); err != nil {
			return err
		}
	}

	if err := cw.SetTitle(strings.TrimSpace(p.Title)); err != nil {
		return err
	}
	if err := cw.SetContext(p.Context); err != nil {
		return err
	}
	if err := cw.SetHints(p.FocusOn, p.IgnoreNote); err != nil {
		return err
	}
	if err := cw.SetDeadline(p.Deadline); err != nil {
		return err
	}
	visibility := p.Visibility
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}
	if err := cw.SetSharing(visibility, p.SharedWith); err != nil {
		return err
	}
	if err := cw.SetFolder(p.FolderID); err != nil {
		return err
	}
	if err := cw.SetAllowAnonymous(p.AllowAnonymous); err != nil {
		return err
	}
	for _, item := range p.ContentItems {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if err := cw.AddContent(item); err != nil {
			return err
		}
	}
	for _, q := range p.PreBiasQuestions {
		if err := cw.AddPreBias(q); err != nil {
			return err
		}
	}
	return cw.Next()
}

// applyQuestions fills step 2. Questions whose id is already in the draft
// are updated in place so stored answers stay attached; the rest are added.
func applyQuestions(cw *wizard.Creation, p *RequestPayload) error {
	wanted := map[string]bool{}
	for _, q := range p.Questions {
		if q.ID != "" {
			wanted[q.ID] = true
		}
	}
	var stale []string
	for _, q := range cw.Draft().Questions {
		if !wanted[q.ID] {
			stale = append(stale, q.ID)
		}
	}
	for _, id := range stale {
		if err := cw.RemoveQuestion(id); err != nil {
			return err
		}
	}

	for _, q := range p.Questions {
		if _, ok := cw.Draft().Question(q.ID); !ok || q.ID == "" {
			added, err := cw.AddQuestion(q.Type)
			if err != nil {
				return err
			}
			q.ID = added.ID
			if q.LowLabel == "" {
				q.LowLabel = added.LowLabel
			}
			if q.HighLabel == "" {
				q.HighLabel = added.HighLabel
			}
			if len(q.Options) == 0 {
				q.Options = added.Options
			}
		}
		if err := cw.UpdateQuestion(q); err != nil {
			return err
		}
	}
	return cw.SetExtras(p.AddFirstImpression, p.AddClosingQuestion)
}

func (h *RequestHandler) checkFolder(c echo.Context, user *models.User, folderID string) error {
	if folderID == "" {
		return nil
	}
	folder, err := h.Repos.Folders.Get(c.Request().Context(), folderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "Unknown folder")
		}
		return storeError(c, err, "Folder not found")
	}
	if folder.OwnerID != user.ID && (folder.TeamID == nil || !user.InTeam(*folder.TeamID)) {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown folder")
	}
	return nil
}

func (h *RequestHandler) senderName(c echo.Context, user *models.User) string {
	settings, err := h.Repos.Settings.Get(c.Request().Context(), user.ID)
	if err == nil && strings.TrimSpace(settings.SenderName) != "" {
		return settings.SenderName
	}
	return user.GetDisplayName()
}

// generate runs a payload through the wizard and saves the result
func (h *RequestHandler) generate(c echo.Context, user *models.User, cw *wizard.Creation, p *RequestPayload) (*GeneratedRequest, error) {
	if err := h.checkFolder(c, user, p.FolderID); err != nil {
		return nil, err
	}
	if err := applyDetails(cw, p); err != nil {
		return nil, wizardError(err)
	}
	if err := applyQuestions(cw, p); err != nil {
		return nil, wizardError(err)
	}

	saved, err := cw.Generate(c.Request().Context(), h.Repos.Requests, now())
	if err != nil {
		if errors.Is(err, wizard.ErrGuard) {
			return nil, wizardError(err)
		}
		return nil, storeError(c, err, "Request not found")
	}

	link, err := cw.ShareURL(h.Config.ShareBaseURL())
	if err != nil {
		return nil, wizardError(err)
	}
	return &GeneratedRequest{
		Request:      saved,
		ShareURL:     link,
		ShareMessage: notifications.ShareMessage(saved, h.senderName(c, user), link),
	}, nil
}

// loadVisible fetches the :id request if the user may see it
func (h *RequestHandler) loadVisible(c echo.Context, user *models.User) (*models.FeedbackRequest, error) {
	req, err := h.Repos.Requests.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, storeError(c, err, "Request not found")
	}
	if !req.VisibleTo(user.ID, user.ActiveTeam()) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Request not found")
	}
	return req, nil
}

func (h *RequestHandler) loadOwned(c echo.Context, user *models.User) (*models.FeedbackRequest, error) {
	req, err := h.loadVisible(c, user)
	if err != nil {
		return nil, err
	}
	if !canManage(user, req) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "Only the creator can change this request")
	}
	return req, nil
}

// ListRequests is the dashboard: visible requests grouped by status with
// response and new-response counts
func (h *RequestHandler) ListRequests(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	sortOrder := results.SortOrder(c.QueryParam("sort"))
	if sortOrder == "" {
		sortOrder = results.SortDateDesc
	}
	if !sortOrder.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown sort order")
	}

	ctx := c.Request().Context()
	requests, err := h.Repos.Requests.List(ctx, store.RequestQuery{UserID: user.ID, TeamID: user.ActiveTeam()})
	if err != nil {
		return storeError(c, err, "Requests not found")
	}

	ids := make([]string, len(requests))
	for i, r := range requests {
		ids[i] = r.ID
	}
	counts, fresh, err := results.NewCounts(ctx, h.Repos.Responses, h.Repos.SeenCounts, user.ID, ids)
	if err != nil {
		return storeError(c, err, "Requests not found")
	}

	return c.JSON(http.StatusOK, results.Organize(requests, counts, fresh, results.ListOptions{
		Tag:      c.QueryParam("tag"),
		FolderID: c.QueryParam("folder"),
		Sort:     sortOrder,
	}))
}

func (h *RequestHandler) CreateRequest(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	p := new(RequestPayload)
	if err := bindAndValidate(c, p); err != nil {
		return err
	}

	out, err := h.generate(c, user, wizard.NewCreation(user.ID, user.ActiveTeam()), p)
	if err != nil {
		return err
	}
	c.Logger().Infof("User %s created request %s", user.ID, out.Request.ID)
	return c.JSON(http.StatusCreated, out)
}

func (h *RequestHandler) GetRequest(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

// UpdateRequest edits a request. Its id and share link stay the same.
func (h *RequestHandler) UpdateRequest(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	existing, err := h.loadOwned(c, user)
	if err != nil {
		return err
	}
	p := new(RequestPayload)
	if err := bindAndValidate(c, p); err != nil {
		return err
	}

	cw, err := wizard.NewEdit(existing)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to edit request")
	}
	out, err := h.generate(c, user, cw, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RequestHandler) DeleteRequest(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadOwned(c, user)
	if err != nil {
		return err
	}
	if err := h.Repos.Requests.Delete(c.Request().Context(), req.ID); err != nil {
		return storeError(c, err, "Request not found")
	}
	c.Logger().Infof("User %s deleted request %s", user.ID, req.ID)
	return c.NoContent(http.StatusNoContent)
}

func (h *RequestHandler) DuplicateRequest(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return err
	}

	dup, err := req.Duplicate(now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to duplicate request")
	}
	dup.OwnerID = user.ID
	dup.TeamID = activeTeamPtr(user)
	if err := h.Repos.Requests.Save(c.Request().Context(), dup); err != nil {
		return storeError(c, err, "Request not found")
	}
	return c.JSON(http.StatusCreated, dup)
}

// save writes a changed request and returns it
func (h *RequestHandler) save(c echo.Context, req *models.FeedbackRequest) error {
	req.UpdatedAt = now()
	if err := h.Repos.Requests.Save(c.Request().Context(), req); err != nil {
		return storeError(c, err, "Request not found")
	}
	return c.JSON(http.StatusOK, req)
}

func (h *RequestHandler) ToggleArchive(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadOwned(c, user)
	if err != nil {
		return err
	}
	req.ToggleArchive()
	return h.save(c, req)
}

// CompleteRequest moves a request to completed, or back to active with
// {"completed": false}
func (h *RequestHandler) CompleteRequest(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadOwned(c, user)
	if err != nil {
		return err
	}

	type CompleteRequest struct {
		Completed *bool `json:"completed"`
	}
	body := new(CompleteRequest)
	if err := bindAndValidate(c, body); err != nil {
		return err
	}
	req.Status = models.StatusCompleted
	if body.Completed != nil && !*body.Completed {
		req.Status = models.StatusActive
	}
	return h.save(c, req)
}

func (h *RequestHandler) AddTag(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadOwned(c, user)
	if err != nil {
		return err
	}

	type TagRequest struct {
		Tag string `json:"tag" validate:"required"`
	}
	body := new(TagRequest)
	if err := bindAndValidate(c, body); err != nil {
		return err
	}
	if !req.AddTag(body.Tag) {
		return c.JSON(http.StatusOK, req)
	}
	return h.save(c, req)
}

func (h *RequestHandler) RemoveTag(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadOwned(c, user)
	if err != nil {
		return err
	}
	if !req.RemoveTag(c.Param("tag")) {
		return c.JSON(http.StatusOK, req)
	}
	return h.save(c, req)
}

func (h *RequestHandler) GetShareMessage(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return err
	}
	link := req.ShareURL(h.Config.ShareBaseURL())
	return c.JSON(http.StatusOK, map[string]string{
		"share_url":     link,
		"share_message": notifications.ShareMessage(req, h.senderName(c, user), link),
	})
}

// SendToSlack posts the share message through the user's webhook
func (h *RequestHandler) SendToSlack(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	settings, err := h.Repos.Settings.Get(ctx, user.ID)
	if err != nil {
		return storeError(c, err, "Settings not found")
	}
	if strings.TrimSpace(settings.SlackWebhookURL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, notifications.NoWebhookMessage)
	}

	type SlackRequest struct {
		Message string `json:"message"`
	}
	body := new(SlackRequest)
	if err := bindAndValidate(c, body); err != nil {
		return err
	}
	text := body.Message
	if strings.TrimSpace(text) == "" {
		sender := settings.SenderName
		if strings.TrimSpace(sender) == "" {
			sender = user.GetDisplayName()
		}
		text = notifications.ShareMessage(req, sender, req.ShareURL(h.Config.ShareBaseURL()))
	}

	if err := h.Notifier.Send(ctx, settings.SlackWebhookURL, settings.SlackChannel, text); err != nil {
		c.Logger().Warnf("Slack share for request %s failed: %v", req.ID, err)
		return echo.NewHTTPError(http.StatusBadGateway, "Slack rejected the message: "+err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"sent": true})
}

// EmailReviewers sends the review link to the given addresses, or to the
// rest of the active team when team is set
func (h *RequestHandler) EmailReviewers(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return err
	}
	if h.EmailClient == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Email is not configured")
	}

	type EmailRequest struct {
		Emails []string `json:"emails" validate:"dive,email"`
		Team   bool     `json:"team"`
	}
	body := new(EmailRequest)
	if err := bindAndValidate(c, body); err != nil {
		return err
	}

	recipients := map[string]bool{}
	for _, e := range body.Emails {
		recipients[strings.ToLower(strings.TrimSpace(e))] = true
	}
	if body.Team && user.ActiveTeam() != "" {
		team, err := h.Repos.Teams.Get(c.Request().Context(), user.ActiveTeam())
		if err != nil {
			return storeError(c, err, "Team not found")
		}
		for _, m := range team.Members {
			if m.ID != user.ID && m.Email != "" {
				recipients[strings.ToLower(m.Email)] = true
			}
		}
	}
	if len(recipients) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "No recipients")
	}

	sender := h.senderName(c, user)
	link := req.ShareURL(h.Config.ShareBaseURL())
	deadline := notifications.FormatDeadline(req.Deadline)
	for to := range recipients {
		h.EmailClient.SendReviewRequestEmail(to, sender, req, link, deadline)
	}
	return c.JSON(http.StatusOK, map[string]int{"sent": len(recipients)})
}
