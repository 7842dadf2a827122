package handlers

import (
	"net/http"
	"strings"

	"facilitator-backend/internal/common"
	"facilitator-backend/internal/models"

	"github.com/labstack/echo/v4"
)

type FolderHandler struct {
	common.ServerState
}

func NewFolderHandler(state common.ServerState) *FolderHandler {
	return &FolderHandler{ServerState: state}
}

// ListFolders returns the active team's folders plus the user's unscoped ones
func (h *FolderHandler) ListFolders(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	folders, err := h.Repos.Folders.ListForTeam(c.Request().Context(), user.ActiveTeam(), user.ID)
	if err != nil {
		return storeError(c, err, "Folders not found")
	}
	return c.JSON(http.StatusOK, folders)
}

func (h *FolderHandler) CreateFolder(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	type CreateRequest struct {
		Name string `json:"name" validate:"required"`
	}
	req := new(CreateRequest)
	if err := bindAndValidate(c, req); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "folder name is required")
	}

	folder := &models.Folder{
		Name:      name,
		TeamID:    activeTeamPtr(user),
		OwnerID:   user.ID,
		CreatedAt: now(),
	}
	if err := h.Repos.Folders.Save(c.Request().Context(), folder); err != nil {
		return storeError(c, err, "Folder not found")
	}

	folders, err := h.Repos.Folders.ListForTeam(c.Request().Context(), user.ActiveTeam(), user.ID)
	if err != nil {
		return storeError(c, err, "Folders not found")
	}
	return c.JSON(http.StatusCreated, map[string]any{"folder": folder, "folders": folders})
}

// DeleteFolder removes the folder; its requests stay, unfiled
func (h *FolderHandler) DeleteFolder(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	folder, err := h.Repos.Folders.Get(ctx, c.Param("id"))
	if err != nil {
		return storeError(c, err, "Folder not found")
	}

	allowed := folder.OwnerID == user.ID
	if folder.TeamID != nil && user.InTeam(*folder.TeamID) {
		allowed = true
	}
	if !allowed {
		return echo.NewHTTPError(http.StatusForbidden, "You cannot delete this folder")
	}

	if err := h.Repos.Folders.Delete(ctx, folder.ID); err != nil {
		return storeError(c, err, "Folder not found")
	}

	folders, err := h.Repos.Folders.ListForTeam(ctx, user.ActiveTeam(), user.ID)
	if err != nil {
		return storeError(c, err, "Folders not found")
	}
	return c.JSON(http.StatusOK, folders)
}
