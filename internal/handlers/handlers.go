package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"facilitator-backend/internal/common"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/store"
	"facilitator-backend/internal/utils"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
)

const inviteSessionKey = "team_invite_code"

type AuthHandler struct {
	common.ServerState
	SocialAuth common.SocialAuthProvider
}

type SignInRequest struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	InviteCode string `json:"invite_code"`
}

type SignInResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
	// NeedsTeamSetup is set for organization users that are not in any team yet
	NeedsTeamSetup bool `json:"needs_team_setup"`
}

func NewAuthHandler(state common.ServerState, socialAuth common.SocialAuthProvider) *AuthHandler {
	return &AuthHandler{
		ServerState: state,
		SocialAuth:  socialAuth,
	}
}

type RealGothicProvider struct{}

func (r *RealGothicProvider) CompleteUserAuth(res http.ResponseWriter, req *http.Request) (goth.User, error) {
	return gothic.CompleteUserAuth(res, req)
}

func (h *AuthHandler) getAuthenticatedUserFromJWT(c echo.Context) (*models.User, bool) {
	return getAuthenticatedUserFromJWTCommon(c, &h.ServerState)
}

func (h *AuthHandler) domainMessage() string {
	return fmt.Sprintf("Please use your @%s account. External reviewers can sign in with name and email.", h.Config.Auth.AllowedDomain)
}

// findOrCreateUser looks the user up by email and creates one on first sign in
func findOrCreateUser(ctx context.Context, repos *store.Repositories, name, email, avatar string) (*models.User, bool, error) {
	u, err := repos.Users.GetByEmail(ctx, email)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	u = &models.User{
		Name:      strings.TrimSpace(name),
		Email:     utils.NormalizeEmail(email),
		AvatarURL: avatar,
		TeamIDs:   []string{},
	}
	if err := repos.Users.Save(ctx, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// joinTeam adds the user as a member and makes the team active. Joining a
// team the user is already in only switches to it.
func joinTeam(ctx context.Context, repos *store.Repositories, user *models.User, team *models.Team) error {
	err := team.AddMember(user, models.RoleMember, now())
	switch {
	case err == nil:
		if err := repos.Teams.Save(ctx, team); err != nil {
			return err
		}
	case errors.Is(err, models.ErrAlreadyMember):
	default:
		return err
	}

	user.JoinTeam(team.ID)
	return repos.Users.Save(ctx, user)
}

func (h *AuthHandler) SocialLoginCallback(c echo.Context) error {
	gu, err := h.SocialAuth.CompleteUserAuth(c.Response(), c.Request())
	if err != nil {
		return err
	}

	if gu.Email == "" {
		c.Logger().Error("User email is empty from provider")
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required but not provided by the authentication provider")
	}

	allowed := h.Config.Auth.AllowedDomain
	if !utils.InOrgDomain(gu.Email, allowed) {
		return echo.NewHTTPError(http.StatusForbidden, h.domainMessage())
	}
	// Google reports the workspace domain in the hd claim
	if hd, ok := gu.RawData["hd"].(string); ok && allowed != "" && !strings.EqualFold(hd, strings.TrimPrefix(allowed, "@")) {
		return echo.NewHTTPError(http.StatusForbidden, h.domainMessage())
	}

	name := gu.Name
	if name == "" {
		name = strings.TrimSpace(gu.FirstName + " " + gu.LastName)
	}

	ctx := c.Request().Context()
	u, isNewUser, err := findOrCreateUser(ctx, h.Repos, name, gu.Email, gu.AvatarURL)
	if err != nil {
		return storeError(c, err, "User not found")
	}

	// Users invited to a team carry the code through the OAuth round trip
	sess, err := session.Get("session", c)
	if err == nil {
		if code, ok := sess.Values[inviteSessionKey].(string); ok && code != "" {
			team, err := h.Repos.Teams.GetByInviteCode(ctx, models.NormalizeInviteCode(code))
			if err == nil {
				if err := joinTeam(ctx, h.Repos, u, team); err != nil {
					c.Logger().Errorf("Failed to join team %s via social auth: %v", team.ID, err)
				} else {
					c.Logger().Infof("User %s joined team %s via social auth with invite", u.ID, team.ID)
				}
			}
			delete(sess.Values, inviteSessionKey)
			_ = sess.Save(c.Request(), c.Response())
		}
	}

	if isNewUser && h.EmailClient != nil {
		h.EmailClient.SendWelcomeEmail(u)
	}

	token, err := h.JwtIssuer.GenerateToken(u.Email)
	if err != nil {
		return c.String(http.StatusInternalServerError, "Failed to generate token")
	}

	return c.Redirect(http.StatusFound, fmt.Sprintf("/#login?token=%s", token))
}

func (h *AuthHandler) SocialLogin(c echo.Context) error {
	provider := c.Param("provider")

	// Keep the invite code for the callback
	if code := c.QueryParam("invite_code"); code != "" {
		sess, err := session.Get("session", c)
		if err == nil {
			sess.Values[inviteSessionKey] = code
			_ = sess.Save(c.Request(), c.Response())
		}
	}

	req := c.Request()
	// Set the provider in the query parameters for gothic to work
	q := req.URL.Query()
	q.Set("provider", provider)
	req.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Response(), req)
	return nil
}

// SignIn lets reviewers and invitees sign in with a name and an email.
// With an invite code the user joins that team.
func (h *AuthHandler) SignIn(c echo.Context) error {
	req := &SignInRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Please enter your name and email.")
	}

	if err := utils.ValidateEmailAddress(req.Email); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()

	var team *models.Team
	if req.InviteCode != "" {
		t, err := h.Repos.Teams.GetByInviteCode(ctx, models.NormalizeInviteCode(req.InviteCode))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "That invite link is invalid or has expired.")
			}
			return storeError(c, err, "Team not found")
		}
		team = t
	}

	u, isNewUser, err := findOrCreateUser(ctx, h.Repos, req.Name, req.Email, "")
	if err != nil {
		return storeError(c, err, "User not found")
	}

	if team != nil {
		if err := joinTeam(ctx, h.Repos, u, team); err != nil {
			return storeError(c, err, "Team not found")
		}
	}

	if isNewUser && h.EmailClient != nil {
		h.EmailClient.SendWelcomeEmail(u)
	}

	token, err := h.JwtIssuer.GenerateToken(u.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(http.StatusOK, SignInResponse{
		Token:          token,
		User:           u,
		NeedsTeamSetup: len(u.TeamIDs) == 0 && h.Config.Auth.AllowedDomain != "" && utils.InOrgDomain(u.Email, h.Config.Auth.AllowedDomain),
	})
}

func (h *AuthHandler) User(c echo.Context) error {
	user, isAuthenticated := h.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}
	return c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) UpdateName(c echo.Context) error {
	user, isAuthenticated := h.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized")
	}

	type UpdateRequest struct {
		Name string `json:"name" validate:"required"`
	}

	req := new(UpdateRequest)
	if err := bindAndValidate(c, req); err != nil {
		return err
	}

	user.Name = strings.TrimSpace(req.Name)
	if err := h.Repos.Users.Save(c.Request().Context(), user); err != nil {
		return storeError(c, err, "User not found")
	}

	return c.JSON(http.StatusOK, user)
}

// GetInvitationDetails shows which team an invite code belongs to
func (h *AuthHandler) GetInvitationDetails(c echo.Context) error {
	code := models.NormalizeInviteCode(c.Param("code"))
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid invite code")
	}

	team, err := h.Repos.Teams.GetByInviteCode(c.Request().Context(), code)
	if err != nil {
		return storeError(c, err, "That invite link is invalid or has expired.")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"id":           team.ID,
		"name":         team.Name,
		"member_count": len(team.Members),
	})
}
