package models

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type TeamVisibility string

const (
	TeamPublic  TeamVisibility = "public"
	TeamPrivate TeamVisibility = "private"
)

const (
	inviteCodeLength   = 6
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrAlreadyMember = errors.New("user is already a member of this team")
	ErrNotMember     = errors.New("user is not a member of this team")
	ErrLastAdmin     = errors.New("team must keep at least one admin")
)

type Member struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type Team struct {
	ID         string         `json:"id" gorm:"primaryKey"`
	Name       string         `json:"name" gorm:"not null"`
	InviteCode string         `json:"invite_code" gorm:"uniqueIndex;not null"`
	Visibility TeamVisibility `json:"visibility" gorm:"default:private"`
	Members    []Member       `json:"members" gorm:"serializer:json"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (t *Team) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == "" {
		uuidV7, err := uuid.NewV7()
		if err != nil {
			return err
		}
		t.ID = uuidV7.String()
	}
	if t.InviteCode == "" {
		t.InviteCode, err = GenerateInviteCode()
	}
	return
}

// GenerateInviteCode returns a random code of uppercase letters and digits.
func GenerateInviteCode() (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(inviteCodeAlphabet)))
	for i := 0; i < inviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(inviteCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeInviteCode lets users type codes in any case.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewTeam creates a private team with the creator as its only admin.
func NewTeam(name string, creator *User, now time.Time) (*Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("team name is required")
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	code, err := GenerateInviteCode()
	if err != nil {
		return nil, err
	}
	return &Team{
		ID:         uuidV7.String(),
		Name:       name,
		InviteCode: code,
		Visibility: TeamPrivate,
		Members: []Member{{
			ID:       creator.ID,
			Name:     creator.Name,
			Email:    creator.Email,
			Role:     RoleAdmin,
			JoinedAt: now,
		}},
		CreatedAt: now,
	}, nil
}

func (t *Team) Member(userID string) (Member, bool) {
	for _, m := range t.Members {
		if m.ID == userID {
			return m, true
		}
	}
	return Member{}, false
}

func (t *Team) IsAdmin(userID string) bool {
	m, ok := t.Member(userID)
	return ok && m.Role == RoleAdmin
}

func (t *Team) AddMember(u *User, role Role, now time.Time) error {
	if _, ok := t.Member(u.ID); ok {
		return ErrAlreadyMember
	}
	t.Members = append(t.Members, Member{ID: u.ID, Name: u.Name, Email: u.Email, Role: role, JoinedAt: now})
	return nil
}

func (t *Team) RemoveMember(userID string) error {
	for i, m := range t.Members {
		if m.ID != userID {
			continue
		}
		if m.Role == RoleAdmin && t.adminCount() == 1 {
			return ErrLastAdmin
		}
		t.Members = append(t.Members[:i:i], t.Members[i+1:]...)
		return nil
	}
	return ErrNotMember
}

func (t *Team) adminCount() int {
	n := 0
	for _, m := range t.Members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

func (t *Team) ToggleVisibility() {
	if t.Visibility == TeamPublic {
		t.Visibility = TeamPrivate
		return
	}
	t.Visibility = TeamPublic
}

// Folder groups requests, optionally within a team.
type Folder struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	TeamID    *string   `json:"team_id" gorm:"index"`
	OwnerID   string    `json:"owner_id" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

func (f *Folder) BeforeCreate(tx *gorm.DB) (err error) {
	if f.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	f.ID = uuidV7.String()
	return
}
