package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"facilitator-backend/internal/common"
	"facilitator-backend/internal/metrics"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/store"
	"facilitator-backend/internal/wizard"

	"github.com/labstack/echo/v4"
)

// ReviewHandler serves the public reviewer flow. A session is the
// reviewer's wizard snapshot keyed by the response id it will submit.
type ReviewHandler struct {
	common.ServerState
}

func NewReviewHandler(state common.ServerState) *ReviewHandler {
	return &ReviewHandler{ServerState: state}
}

type ReviewView struct {
	SessionID       string                  `json:"session_id,omitempty"`
	Step            wizard.Step             `json:"step"`
	Progress        float64                 `json:"progress"`
	Request         *models.FeedbackRequest `json:"request,omitempty"`
	PreBiasIndex    int                     `json:"pre_bias_index"`
	CurrentIndex    int                     `json:"current_index"`
	CurrentQuestion *models.Question        `json:"current_question,omitempty"`
	ClosingSlot     bool                    `json:"closing_slot"`
	ActiveTab       int                     `json:"active_tab"`
	VisibleHotspot  *models.Hotspot         `json:"visible_hotspot,omitempty"`
	FocusHint       string                  `json:"focus_hint,omitempty"`
	CanNext         bool                    `json:"can_next"`
	CanSubmit       bool                    `json:"can_submit"`
	State           *wizard.ReviewSnapshot  `json:"state,omitempty"`
}

// ReviewAction is one reviewer input. Which fields are read depends on Action.
type ReviewAction struct {
	Action     string          `json:"action" validate:"required,oneof=name anonymous prebias answer first_impression closing tab reviewer_questions focus next back"`
	Text       string          `json:"text"`
	Flag       bool            `json:"flag"`
	Index      int             `json:"index"`
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value"`
}

func reviewView(w *wizard.Review) (ReviewView, error) {
	view := ReviewView{
		Step:     w.Step(),
		Progress: w.Progress(),
	}
	if w.Step() == wizard.StepNotFound {
		return view, nil
	}

	snap, err := w.Snapshot()
	if err != nil {
		return ReviewView{}, err
	}
	view.SessionID = w.ResponseID()
	view.Request = w.Request()
	view.PreBiasIndex = w.PreBiasIndex()
	view.CurrentIndex = w.CurrentIndex()
	view.ClosingSlot = w.IsClosingSlot()
	view.ActiveTab = w.ActiveTab()
	view.VisibleHotspot = w.VisibleHotspot()
	view.CanNext = w.CanGoNext()
	view.CanSubmit = w.CanSubmit()
	view.State = &snap
	if q, ok := w.CurrentQuestion(); ok {
		view.CurrentQuestion = &q
	}
	if hint, ok := w.FocusHint(); ok {
		view.FocusHint = hint
	}
	return view, nil
}

// loadRequest returns nil without an error when the request does not exist
func (h *ReviewHandler) loadRequest(c echo.Context) (*models.FeedbackRequest, error) {
	req, err := h.Repos.Requests.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrCorrupt) {
			return nil, nil
		}
		return nil, storeError(c, err, "Request not found")
	}
	return req, nil
}

func (h *ReviewHandler) respond(c echo.Context, status int, w *wizard.Review) error {
	view, err := reviewView(w)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to render review")
	}
	if view.Step == wizard.StepNotFound {
		status = http.StatusNotFound
	}
	return c.JSON(status, view)
}

func (h *ReviewHandler) persist(c echo.Context, w *wizard.Review) error {
	snap, err := w.Snapshot()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save review")
	}
	if err := h.Sessions.Save(c.Request().Context(), w.ResponseID(), snap); err != nil {
		c.Logger().Errorf("Failed to save review session %s: %v", w.ResponseID(), err)
		return echo.NewHTTPError(http.StatusBadGateway, "Storage is unavailable, please retry")
	}
	return nil
}

// restore loads the :sid session against the :id request
func (h *ReviewHandler) restore(c echo.Context) (*wizard.Review, error) {
	req, err := h.loadRequest(c)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return wizard.NewReview(nil), nil
	}

	snap, err := h.Sessions.Load(c.Request().Context(), c.Param("sid"))
	if err != nil {
		if errors.Is(err, wizard.ErrSessionNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "Review session expired, please start again")
		}
		c.Logger().Errorf("Failed to load review session %s: %v", c.Param("sid"), err)
		return nil, echo.NewHTTPError(http.StatusBadGateway, "Storage is unavailable, please retry")
	}

	w, err := wizard.RestoreReview(req, snap)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Review session does not belong to this request")
	}
	return w, nil
}

// GetRequest shows the request to a reviewer before they start
func (h *ReviewHandler) GetRequest(c echo.Context) error {
	req, err := h.loadRequest(c)
	if err != nil {
		return err
	}
	if req == nil {
		return c.JSON(http.StatusNotFound, ReviewView{Step: wizard.StepNotFound})
	}
	return c.JSON(http.StatusOK, req)
}

func (h *ReviewHandler) StartSession(c echo.Context) error {
	req, err := h.loadRequest(c)
	if err != nil {
		return err
	}
	w := wizard.NewReview(req)
	if req != nil {
		if err := h.persist(c, w); err != nil {
			return err
		}
	}
	return h.respond(c, http.StatusCreated, w)
}

func (h *ReviewHandler) GetSession(c echo.Context) error {
	w, err := h.restore(c)
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, w)
}

func applyReviewAction(w *wizard.Review, a *ReviewAction) error {
	switch a.Action {
	case "name":
		return w.SetName(a.Text)
	case "anonymous":
		return w.SetAnonymous(a.Flag)
	case "prebias":
		return w.SetPreBias(a.Text)
	case "answer":
		q, ok := w.Request().Question(a.QuestionID)
		if !ok {
			return wizard.ErrGuard
		}
		answer, err := models.DecodeAnswer(q, a.Value)
		if err != nil {
			return err
		}
		return w.SetAnswer(q.ID, answer)
	case "first_impression":
		r, err := models.ParseReaction(a.Text)
		if err != nil {
			return err
		}
		return w.SetFirstImpression(r)
	case "closing":
		return w.SetClosing(a.Text)
	case "tab":
		return w.SetActiveTab(a.Index)
	case "reviewer_questions":
		return w.SetReviewerQuestions(a.Text)
	case "focus":
		return w.SetFocusItem(a.Index)
	case "next":
		return w.Next()
	case "back":
		return w.Back()
	}
	return wizard.ErrGuard
}

// Act applies one reviewer input and returns the new state
func (h *ReviewHandler) Act(c echo.Context) error {
	w, err := h.restore(c)
	if err != nil {
		return err
	}
	if w.Step() == wizard.StepNotFound {
		return h.respond(c, http.StatusNotFound, w)
	}

	action := new(ReviewAction)
	if err := bindAndValidate(c, action); err != nil {
		return err
	}
	if err := applyReviewAction(w, action); err != nil {
		return wizardError(err)
	}
	if err := h.persist(c, w); err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, w)
}

// Submit stores the response. A failed insert keeps the session so the
// retry writes the same response id.
func (h *ReviewHandler) Submit(c echo.Context) error {
	w, err := h.restore(c)
	if err != nil {
		return err
	}
	if w.Step() == wizard.StepNotFound {
		return h.respond(c, http.StatusNotFound, w)
	}

	ctx := c.Request().Context()
	resp, err := w.Submit(ctx, h.Repos.Responses, now())
	if err != nil {
		if errors.Is(err, wizard.ErrGuard) || errors.Is(err, wizard.ErrFinished) {
			return wizardError(err)
		}
		// The submitted timestamp is kept for the retry
		if perr := h.persist(c, w); perr != nil {
			c.Logger().Warnf("Failed to keep review session %s after submit error: %v", w.ResponseID(), perr)
		}
		return storeError(c, err, "Request not found")
	}
	metrics.ResponsesSubmitted.Inc()

	if err := h.Sessions.Delete(ctx, w.ResponseID()); err != nil {
		c.Logger().Warnf("Failed to drop review session %s: %v", w.ResponseID(), err)
	}
	c.Logger().Infof("Response %s submitted for request %s", resp.ID, resp.RequestID)

	view, err := reviewView(w)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to render review")
	}
	return c.JSON(http.StatusCreated, map[string]any{"response": resp, "review": view})
}
