package handlers

import (
	"errors"
	"net/http"
	"time"

	"facilitator-backend/internal/common"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/store"
	"facilitator-backend/internal/wizard"

	"github.com/labstack/echo/v4"
)

// now is swapped in tests
var now = time.Now

// getAuthenticatedUserFromJWTCommon returns the user behind the request's token.
// Returns nil and false if the token is missing or the user is not found
func getAuthenticatedUserFromJWTCommon(c echo.Context, s *common.ServerState) (*models.User, bool) {
	email, err := s.JwtIssuer.GetUserEmail(c)
	if err != nil {
		return nil, false
	}

	user, err := s.Repos.Users.GetByEmail(c.Request().Context(), email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.Logger().Errorf("Failed to load user %s: %v", email, err)
		}
		return nil, false
	}
	return user, true
}

func requireUser(c echo.Context, s *common.ServerState) (*models.User, error) {
	user, ok := getAuthenticatedUserFromJWTCommon(c, s)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized request")
	}
	return user, nil
}

// storeError maps storage failures onto HTTP errors. Unexpected errors are
// logged and reported before being hidden behind a generic message.
func storeError(c echo.Context, err error, notFoundMsg string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFoundMsg)
	case errors.Is(err, store.ErrCorrupt):
		c.Logger().Warnf("Discarding corrupt record: %v", err)
		return echo.NewHTTPError(http.StatusNotFound, notFoundMsg)
	}
	c.Logger().Errorf("Storage error: %v", err)
	captureRequestError(c, err)
	return echo.NewHTTPError(http.StatusBadGateway, "Storage is unavailable, please retry")
}

// wizardError turns refused wizard transitions into 400s
func wizardError(err error) error {
	switch {
	case errors.Is(err, wizard.ErrGuard), errors.Is(err, wizard.ErrFinished):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, wizard.ErrRequestNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// bindAndValidate binds the body into req and runs the echo validator
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// canManage reports whether the user may edit or delete the request
func canManage(user *models.User, req *models.FeedbackRequest) bool {
	return req.OwnerID == "" || req.OwnerID == user.ID
}

// activeTeamPtr returns the user's active team id, nil when there is none
func activeTeamPtr(user *models.User) *string {
	if id := user.ActiveTeam(); id != "" {
		return &id
	}
	return nil
}
