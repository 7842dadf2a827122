package handlers

import (
	"net/http"
	"strings"

	"facilitator-backend/internal/common"

	"github.com/labstack/echo/v4"
)

type SettingsHandler struct {
	common.ServerState
}

func NewSettingsHandler(state common.ServerState) *SettingsHandler {
	return &SettingsHandler{ServerState: state}
}

// UpdateSettingsRequest leaves a field unchanged when it is nil
type UpdateSettingsRequest struct {
	SlackWebhookURL  *string `json:"slack_webhook_url" validate:"omitempty,url"`
	SlackChannel     *string `json:"slack_channel"`
	SenderName       *string `json:"sender_name"`
	SummarizerAPIKey *string `json:"summarizer_api_key"`
}

func (h *SettingsHandler) GetSettings(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	settings, err := h.Repos.Settings.Get(c.Request().Context(), user.ID)
	if err != nil {
		return storeError(c, err, "Settings not found")
	}
	return c.JSON(http.StatusOK, settings.View())
}

func (h *SettingsHandler) UpdateSettings(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	req := new(UpdateSettingsRequest)
	if err := bindAndValidate(c, req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	settings, err := h.Repos.Settings.Get(ctx, user.ID)
	if err != nil {
		return storeError(c, err, "Settings not found")
	}

	if req.SlackWebhookURL != nil {
		settings.SlackWebhookURL = strings.TrimSpace(*req.SlackWebhookURL)
	}
	if req.SlackChannel != nil {
		settings.SlackChannel = strings.TrimSpace(*req.SlackChannel)
	}
	if req.SenderName != nil {
		settings.SenderName = strings.TrimSpace(*req.SenderName)
	}
	if req.SummarizerAPIKey != nil {
		settings.SummarizerAPIKey = strings.TrimSpace(*req.SummarizerAPIKey)
	}
	settings.UserID = user.ID
	settings.UpdatedAt = now()

	if err := h.Repos.Settings.Save(ctx, settings); err != nil {
		return storeError(c, err, "Settings not found")
	}
	return c.JSON(http.StatusOK, settings.View())
}
