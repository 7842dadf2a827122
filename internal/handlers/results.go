package handlers

import (
	"context"
	"fmt"
	"net/http"

	"facilitator-backend/internal/models"
	"facilitator-backend/internal/results"
	"facilitator-backend/internal/store"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ResultsMessage is sent on load and on every poll of the live results socket
type ResultsMessage struct {
	Update  results.Update  `json:"update"`
	Summary results.Summary `json:"summary"`
}

func (h *RequestHandler) watcher(req *models.FeedbackRequest, user *models.User, logger echo.Logger) *results.Watcher {
	return results.NewWatcher(req.ID, user.ID, h.Repos.Responses, h.Repos.SeenCounts, logger)
}

// GetResults loads the responses, marks them seen and aggregates them
func (h *RequestHandler) GetResults(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return err
	}

	update, err := h.watcher(req, user, c.Logger()).Open(c.Request().Context())
	if err != nil {
		return storeError(c, err, "Request not found")
	}
	return c.JSON(http.StatusOK, ResultsMessage{Update: update, Summary: results.Aggregate(req, update.Responses)})
}

func attachment(c echo.Context, filename, body string) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", []byte(body))
}

func (h *RequestHandler) ExportCSV(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return err
	}
	responses, err := h.Repos.Responses.ListByRequest(c.Request().Context(), req.ID)
	if err != nil {
		return storeError(c, err, "Request not found")
	}
	return attachment(c, results.Filename(req.Title), results.RequestCSV(req, responses))
}

// ExportAllCSV exports every request the user can see
func (h *RequestHandler) ExportAllCSV(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	requests, err := h.Repos.Requests.List(ctx, store.RequestQuery{UserID: user.ID, TeamID: user.ActiveTeam()})
	if err != nil {
		return storeError(c, err, "Requests not found")
	}

	all := make([]results.RequestResponses, 0, len(requests))
	for i := range requests {
		responses, err := h.Repos.Responses.ListByRequest(ctx, requests[i].ID)
		if err != nil {
			return storeError(c, err, "Request not found")
		}
		all = append(all, results.RequestResponses{Request: &requests[i], Responses: responses})
	}
	return attachment(c, results.AllExportFilename, results.AllCSV(all))
}

func (h *RequestHandler) apiKey(c echo.Context, user *models.User) (string, error) {
	settings, err := h.Repos.Settings.Get(c.Request().Context(), user.ID)
	if err != nil {
		return "", storeError(c, err, "Settings not found")
	}
	return settings.SummarizerAPIKey, nil
}

func (h *RequestHandler) synthesisInputs(c echo.Context) (*models.FeedbackRequest, []models.Response, string, error) {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return nil, nil, "", err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return nil, nil, "", err
	}
	responses, err := h.Repos.Responses.ListByRequest(c.Request().Context(), req.ID)
	if err != nil {
		return nil, nil, "", storeError(c, err, "Request not found")
	}
	key, err := h.apiKey(c, user)
	if err != nil {
		return nil, nil, "", err
	}
	return req, responses, key, nil
}

// GetSynthesis returns the cached synthesis, generating the first one when
// there are responses and a key
func (h *RequestHandler) GetSynthesis(c echo.Context) error {
	req, responses, key, err := h.synthesisInputs(c)
	if err != nil {
		return err
	}
	result, err := h.Synthesis.Get(c.Request().Context(), req, responses, key)
	if err != nil {
		return storeError(c, err, "Synthesis not found")
	}
	return c.JSON(http.StatusOK, result)
}

func (h *RequestHandler) RegenerateSynthesis(c echo.Context) error {
	req, responses, key, err := h.synthesisInputs(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.Synthesis.Regenerate(c.Request().Context(), req, responses, key))
}

// LiveResults streams results over a websocket, polling until the client
// goes away
func (h *RequestHandler) LiveResults(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	req, err := h.loadVisible(c, user)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// A hijacked connection outlives the request context, so the reader
	// decides when to stop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	w := h.watcher(req, user, c.Logger())
	update, err := w.Open(ctx)
	if err != nil {
		c.Logger().Warnf("Loading live results for %s failed: %v", req.ID, err)
		return nil
	}
	if err := ws.WriteJSON(ResultsMessage{Update: update, Summary: results.Aggregate(req, update.Responses)}); err != nil {
		return nil
	}

	w.Run(ctx, h.Config.Results.PollInterval, func(u results.Update) {
		if err := ws.WriteJSON(ResultsMessage{Update: u, Summary: results.Aggregate(req, u.Responses)}); err != nil {
			c.Logger().Debugf("Live results socket for %s closed: %v", req.ID, err)
			cancel()
		}
	})
	return nil
}
