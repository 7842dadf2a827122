package models

import (
	"time"

	"gorm.io/gorm"
)

// Each user may send at most this many invite emails per day
const MaxInvitesPerDay = 50

// EmailInvitation records an invite email sent on behalf of a team.
type EmailInvitation struct {
	gorm.Model
	TeamID string    `json:"team_id" gorm:"index;not null"`
	Email  string    `json:"email" gorm:"index;not null"`
	SentBy string    `json:"sent_by" gorm:"index;not null"`
	SentAt time.Time `json:"sent_at"`
}
