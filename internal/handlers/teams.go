package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"facilitator-backend/internal/common"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/store"

	"github.com/labstack/echo/v4"
)

type TeamHandler struct {
	common.ServerState
}

func NewTeamHandler(state common.ServerState) *TeamHandler {
	return &TeamHandler{ServerState: state}
}

// TeamState is returned by every structural change so clients never reload
type TeamState struct {
	Team *models.Team `json:"team,omitempty"`
	User *models.User `json:"user"`
}

func (h *TeamHandler) inviteURL(code string) string {
	return fmt.Sprintf("%s/#join/%s", h.Config.ShareBaseURL(), code)
}

// loadTeam fetches a team the user belongs to
func (h *TeamHandler) loadTeam(c echo.Context, user *models.User) (*models.Team, error) {
	team, err := h.Repos.Teams.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, storeError(c, err, "Team not found")
	}
	if _, ok := team.Member(user.ID); !ok {
		return nil, echo.NewHTTPError(http.StatusForbidden, "You are not a member of this team")
	}
	return team, nil
}

func (h *TeamHandler) loadAdminTeam(c echo.Context, user *models.User) (*models.Team, error) {
	team, err := h.loadTeam(c, user)
	if err != nil {
		return nil, err
	}
	if !team.IsAdmin(user.ID) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "admin required")
	}
	return team, nil
}

// state re-reads the team and the user after a change
func (h *TeamHandler) state(c echo.Context, teamID, userID string) error {
	ctx := c.Request().Context()
	resp := TeamState{}
	if teamID != "" {
		team, err := h.Repos.Teams.Get(ctx, teamID)
		if err != nil {
			return storeError(c, err, "Team not found")
		}
		resp.Team = team
	}
	user, err := h.Repos.Users.Get(ctx, userID)
	if err != nil {
		return storeError(c, err, "User not found")
	}
	resp.User = user
	return c.JSON(http.StatusOK, resp)
}

// ListTeams returns the teams the user is a member of
func (h *TeamHandler) ListTeams(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	teams, err := h.Repos.Teams.ListByIDs(c.Request().Context(), user.TeamIDs)
	if err != nil {
		return storeError(c, err, "Teams not found")
	}
	return c.JSON(http.StatusOK, teams)
}

func (h *TeamHandler) CreateTeam(c echo.Context) error {
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

	team, err := models.NewTeam(req.Name, user, now())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if err := h.Repos.Teams.Save(ctx, team); err != nil {
		return storeError(c, err, "Team not found")
	}
	user.JoinTeam(team.ID)
	if err := h.Repos.Users.Save(ctx, user); err != nil {
		return storeError(c, err, "User not found")
	}

	c.Logger().Infof("Team %s created by user %s", team.ID, user.ID)
	return h.state(c, team.ID, user.ID)
}

func (h *TeamHandler) GetTeam(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	team, err := h.loadTeam(c, user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"team":       team,
		"invite_url": h.inviteURL(team.InviteCode),
		"is_admin":   team.IsAdmin(user.ID),
	})
}

func (h *TeamHandler) RenameTeam(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	team, err := h.loadAdminTeam(c, user)
	if err != nil {
		return err
	}

	type RenameRequest struct {
		Name string `json:"name" validate:"required"`
	}
	req := new(RenameRequest)
	if err := bindAndValidate(c, req); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "team name is required")
	}

	team.Name = name
	if err := h.Repos.Teams.Save(c.Request().Context(), team); err != nil {
		return storeError(c, err, "Team not found")
	}
	return h.state(c, team.ID, user.ID)
}

func (h *TeamHandler) ToggleVisibility(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	team, err := h.loadAdminTeam(c, user)
	if err != nil {
		return err
	}

	team.ToggleVisibility()
	if err := h.Repos.Teams.Save(c.Request().Context(), team); err != nil {
		return storeError(c, err, "Team not found")
	}
	return h.state(c, team.ID, user.ID)
}

// RotateInviteCode invalidates the old invite link
func (h *TeamHandler) RotateInviteCode(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	team, err := h.loadAdminTeam(c, user)
	if err != nil {
		return err
	}

	code, err := models.GenerateInviteCode()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate invite code")
	}
	team.InviteCode = code
	if err := h.Repos.Teams.Save(c.Request().Context(), team); err != nil {
		return storeError(c, err, "Team not found")
	}
	return h.state(c, team.ID, user.ID)
}

// RemoveMember takes a member out of the team. The removed user gets an email.
func (h *TeamHandler) RemoveMember(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	team, err := h.loadAdminTeam(c, user)
	if err != nil {
		return err
	}

	memberID := c.Param("userId")
	if memberID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}
	if memberID == user.ID {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot remove yourself")
	}

	if err := team.RemoveMember(memberID); err != nil {
		if errors.Is(err, models.ErrNotMember) {
			return echo.NewHTTPError(http.StatusNotFound, "user not in your team")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	ctx := c.Request().Context()
	if err := h.Repos.Teams.Save(ctx, team); err != nil {
		return storeError(c, err, "Team not found")
	}

	removed, err := h.Repos.Users.Get(ctx, memberID)
	switch {
	case err == nil:
		removed.LeaveTeam(team.ID)
		if err := h.Repos.Users.Save(ctx, removed); err != nil {
			c.Logger().Errorf("Failed to update removed user %s: %v", memberID, err)
		}
		if h.EmailClient != nil {
			h.EmailClient.SendTeamRemovalEmail(removed, team.Name)
		}
	case errors.Is(err, store.ErrNotFound):
		// member entries can outlive their user record
	default:
		c.Logger().Errorf("Failed to load removed user %s: %v", memberID, err)
	}

	return h.state(c, team.ID, user.ID)
}

// ListPublic returns public teams the user has not joined yet
func (h *TeamHandler) ListPublic(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	teams, err := h.Repos.Teams.ListPublic(c.Request().Context())
	if err != nil {
		return storeError(c, err, "Teams not found")
	}
	out := make([]models.Team, 0, len(teams))
	for _, t := range teams {
		if !user.InTeam(t.ID) {
			out = append(out, t)
		}
	}
	return c.JSON(http.StatusOK, out)
}

// JoinPublic joins a public team without an invite code
func (h *TeamHandler) JoinPublic(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	team, err := h.Repos.Teams.Get(ctx, c.Param("id"))
	if err != nil {
		return storeError(c, err, "Team not found")
	}
	if team.Visibility != models.TeamPublic {
		return echo.NewHTTPError(http.StatusForbidden, "This team is private. Ask an admin for an invite link.")
	}

	if err := joinTeam(ctx, h.Repos, user, team); err != nil {
		return storeError(c, err, "Team not found")
	}
	return h.state(c, team.ID, user.ID)
}

// JoinByCode joins the team an invite code belongs to
func (h *TeamHandler) JoinByCode(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	team, err := h.Repos.Teams.GetByInviteCode(ctx, models.NormalizeInviteCode(c.Param("code")))
	if err != nil {
		return storeError(c, err, "That invite link is invalid or has expired.")
	}

	if err := joinTeam(ctx, h.Repos, user, team); err != nil {
		return storeError(c, err, "Team not found")
	}
	return h.state(c, team.ID, user.ID)
}

// SwitchActiveTeam changes the team whose requests and folders the user sees
func (h *TeamHandler) SwitchActiveTeam(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}

	type SwitchRequest struct {
		TeamID string `json:"team_id"`
	}
	req := new(SwitchRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if req.TeamID == "" {
		user.ActiveTeamID = nil
	} else {
		if !user.InTeam(req.TeamID) {
			return echo.NewHTTPError(http.StatusForbidden, "You are not a member of this team")
		}
		user.JoinTeam(req.TeamID)
	}

	if err := h.Repos.Users.Save(c.Request().Context(), user); err != nil {
		return storeError(c, err, "User not found")
	}
	return h.state(c, req.TeamID, user.ID)
}

// SendInvites emails invite links. Each user may send MaxInvitesPerDay per day.
func (h *TeamHandler) SendInvites(c echo.Context) error {
	user, err := requireUser(c, &h.ServerState)
	if err != nil {
		return err
	}
	team, err := h.loadTeam(c, user)
	if err != nil {
		return err
	}

	type InviteRequest struct {
		Invitees []string `json:"invitees" validate:"required,dive,email"`
	}
	req := new(InviteRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid email addresses")
	}

	ctx := c.Request().Context()
	invitesToday, err := h.Repos.Invitations.CountSentSince(ctx, user.ID, now().Add(-24*time.Hour))
	if err != nil {
		return storeError(c, err, "Invitations not found")
	}

	c.Logger().Infof("Invites today by user %s: %d", user.ID, invitesToday)
	if invitesToday >= models.MaxInvitesPerDay {
		return echo.NewHTTPError(http.StatusTooManyRequests, "You have reached the maximum number of invites per day")
	}

	inviteLink := h.inviteURL(team.InviteCode)
	sent := 0
	for idx, email := range req.Invitees {
		if idx+int(invitesToday) >= models.MaxInvitesPerDay {
			c.Logger().Infof("Skipping remaining invites because of rate limit for user %s", user.ID)
			break
		}

		inv := &models.EmailInvitation{
			TeamID: team.ID,
			Email:  strings.ToLower(strings.TrimSpace(email)),
			SentBy: user.ID,
			SentAt: now(),
		}
		if err := h.Repos.Invitations.Record(ctx, inv); err != nil {
			c.Logger().Errorf("Failed to record invitation for %s: %v", email, err)
			continue
		}

		if h.EmailClient != nil {
			h.EmailClient.SendTeamInvitationEmail(user.GetDisplayName(), team, inviteLink, inv.Email)
		}
		sent++
	}

	return c.JSON(http.StatusOK, map[string]int{"sent": sent})
}
