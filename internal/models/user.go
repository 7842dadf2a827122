package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           string   `json:"id" gorm:"primaryKey"`
	Name         string   `json:"name" gorm:"not null" validate:"required"`
	Email        string   `json:"email" gorm:"not null;unique" validate:"required,email"`
	AvatarURL    string   `json:"avatar_url"`
	TeamIDs      []string `json:"team_ids" gorm:"serializer:json"`
	ActiveTeamID *string  `json:"active_team_id"`
	// Single team reference from before users could join several teams
	LegacyTeamID *string   `json:"team_id,omitempty" gorm:"column:team_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID != "" {
		return nil
	}
	// Using uuid v7 to be indexable with B-tree
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	u.ID = uuidV7.String()
	return
}

// FoldLegacyTeam folds the single team of older users into the team list.
// It reports whether anything changed. Only the data migrations call it.
func (u *User) FoldLegacyTeam() bool {
	if u.LegacyTeamID == nil || *u.LegacyTeamID == "" {
		return false
	}
	if !u.InTeam(*u.LegacyTeamID) {
		u.TeamIDs = append(u.TeamIDs, *u.LegacyTeamID)
	}
	if u.ActiveTeamID == nil {
		id := *u.LegacyTeamID
		u.ActiveTeamID = &id
	}
	u.LegacyTeamID = nil
	return true
}

func (u *User) ApplyDefaults() {
	if u.TeamIDs == nil {
		u.TeamIDs = []string{}
	}
}

func (u *User) InTeam(teamID string) bool {
	for _, id := range u.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// JoinTeam adds the team and makes it active.
func (u *User) JoinTeam(teamID string) {
	if !u.InTeam(teamID) {
		u.TeamIDs = append(u.TeamIDs, teamID)
	}
	id := teamID
	u.ActiveTeamID = &id
}

// LeaveTeam drops the team and moves the active team to another one if needed.
func (u *User) LeaveTeam(teamID string) {
	kept := u.TeamIDs[:0]
	for _, id := range u.TeamIDs {
		if id != teamID {
			kept = append(kept, id)
		}
	}
	u.TeamIDs = kept
	if u.ActiveTeamID != nil && *u.ActiveTeamID == teamID {
		u.ActiveTeamID = nil
		if len(u.TeamIDs) > 0 {
			id := u.TeamIDs[0]
			u.ActiveTeamID = &id
		}
	}
}

func (u *User) ActiveTeam() string {
	if u.ActiveTeamID == nil {
		return ""
	}
	return *u.ActiveTeamID
}

// GetDisplayName returns the user's display name
func (u *User) GetDisplayName() string {
	if strings.TrimSpace(u.Name) == "" {
		return strings.SplitN(u.Email, "@", 2)[0]
	}
	return u.Name
}
