package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityTeam     Visibility = "team"
	VisibilityMembers  Visibility = "members"
	VisibilityExternal Visibility = "external"
)

type RequestStatus string

const (
	StatusActive    RequestStatus = "active"
	StatusCompleted RequestStatus = "completed"
	StatusArchived  RequestStatus = "archived"
)

// FeedbackRequest is what a creator sends out for review.
type FeedbackRequest struct {
	ID                 string        `json:"id" gorm:"primaryKey"`
	Title              string        `json:"title" gorm:"not null"`
	Context            string        `json:"context"`
	ContentItems       []ContentItem `json:"content_items" gorm:"serializer:json"`
	Questions          []Question    `json:"questions" gorm:"serializer:json"`
	PreBiasQuestions   []string      `json:"pre_bias_questions" gorm:"serializer:json"`
	FocusOn            string        `json:"focus_on"`
	IgnoreNote         string        `json:"ignore_note"`
	Deadline           string        `json:"deadline,omitempty"`
	AddFirstImpression bool          `json:"add_first_impression"`
	AddClosingQuestion bool          `json:"add_closing_question"`
	AllowAnonymous     bool          `json:"allow_anonymous"`
	Visibility         Visibility    `json:"visibility" gorm:"default:private"`
	SharedWith         []string      `json:"shared_with" gorm:"serializer:json"`
	TeamID             *string       `json:"team_id" gorm:"index"`
	FolderID           *string       `json:"folder_id" gorm:"index"`
	Status             RequestStatus `json:"status" gorm:"default:active;index"`
	Tags               []string      `json:"tags" gorm:"serializer:json"`
	OwnerID            string        `json:"owner_id" gorm:"index"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	// Older requests carried a single pre-bias question
	LegacyPreBiasQuestion string `json:"pre_bias_question,omitempty" gorm:"column:pre_bias_question"`
}

func (fr *FeedbackRequest) BeforeCreate(tx *gorm.DB) (err error) {
	if fr.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	fr.ID = uuidV7.String()
	return
}

// FoldLegacyPreBias moves the single pre-bias question of older requests into
// the list. It reports whether anything changed. Only the data migrations
// call it.
func (fr *FeedbackRequest) FoldLegacyPreBias() bool {
	if fr.LegacyPreBiasQuestion == "" {
		return false
	}
	if len(fr.PreBiasQuestions) == 0 {
		fr.PreBiasQuestions = []string{fr.LegacyPreBiasQuestion}
	}
	fr.LegacyPreBiasQuestion = ""
	return true
}

// ApplyDefaults fills the fields a stored row may leave empty.
func (fr *FeedbackRequest) ApplyDefaults() {
	if fr.Status == "" {
		fr.Status = StatusActive
	}
	if fr.Visibility == "" {
		fr.Visibility = VisibilityPrivate
	}
	if fr.Tags == nil {
		fr.Tags = []string{}
	}
}

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityTeam, VisibilityMembers, VisibilityExternal:
		return true
	}
	return false
}

// Validate checks a request before it is persisted.
func (fr *FeedbackRequest) Validate() error {
	if strings.TrimSpace(fr.Title) == "" {
		return errors.New("title is required")
	}
	if !fr.Visibility.Valid() {
		return fmt.Errorf("unknown visibility %q", fr.Visibility)
	}
	switch fr.Status {
	case StatusActive, StatusCompleted, StatusArchived:
	default:
		return fmt.Errorf("unknown status %q", fr.Status)
	}
	for i, ci := range fr.ContentItems {
		if err := ci.Validate(); err != nil {
			return fmt.Errorf("content item %d: %w", i, err)
		}
	}
	seen := make(map[string]bool, len(fr.Questions))
	for i, q := range fr.Questions {
		if q.ID == "" || seen[q.ID] {
			return fmt.Errorf("question %d has a missing or duplicate id", i)
		}
		seen[q.ID] = true
		if err := q.Validate(len(fr.ContentItems)); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}

// ShareURL is the link reviewers open.
func (fr *FeedbackRequest) ShareURL(baseURL string) string {
	return fmt.Sprintf("%s/#review/%s", strings.TrimSuffix(baseURL, "/"), fr.ID)
}

// VisibleTo tells whether the request belongs in the user's listing for the
// given active team.
func (fr *FeedbackRequest) VisibleTo(userID, activeTeamID string) bool {
	if fr.OwnerID == userID {
		return true
	}
	if fr.Visibility == VisibilityTeam && fr.TeamID != nil && activeTeamID != "" && *fr.TeamID == activeTeamID {
		return true
	}
	for _, id := range fr.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

func (fr *FeedbackRequest) Question(id string) (Question, bool) {
	for _, q := range fr.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// AddTag adds a trimmed tag once. It reports whether the tag set changed.
func (fr *FeedbackRequest) AddTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	for _, t := range fr.Tags {
		if t == tag {
			return false
		}
	}
	fr.Tags = append(fr.Tags, tag)
	return true
}

func (fr *FeedbackRequest) RemoveTag(tag string) bool {
	for i, t := range fr.Tags {
		if t == tag {
			fr.Tags = append(fr.Tags[:i:i], fr.Tags[i+1:]...)
			return true
		}
	}
	return false
}

// ToggleArchive flips between archived and active.
func (fr *FeedbackRequest) ToggleArchive() {
	if fr.Status == StatusArchived {
		fr.Status = StatusActive
		return
	}
	fr.Status = StatusArchived
}

// Duplicate copies the request under a new id as a fresh active request.
func (fr *FeedbackRequest) Duplicate(now time.Time) (*FeedbackRequest, error) {
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	dup := *fr
	dup.ID = uuidV7.String()
	dup.Title = fr.Title + " (copy)"
	dup.Status = StatusActive
	dup.CreatedAt = now
	dup.UpdatedAt = now
	dup.ContentItems = append([]ContentItem(nil), fr.ContentItems...)
	dup.Questions = make([]Question, len(fr.Questions))
	for i, q := range fr.Questions {
		dup.Questions[i] = q
		dup.Questions[i].Options = append([]string(nil), q.Options...)
		if q.Hotspot != nil {
			h := *q.Hotspot
			dup.Questions[i].Hotspot = &h
		}
	}
	dup.PreBiasQuestions = append([]string(nil), fr.PreBiasQuestions...)
	dup.SharedWith = append([]string(nil), fr.SharedWith...)
	dup.Tags = append([]string{}, fr.Tags...)
	return &dup, nil
}

// Group is the listing bucket the request falls into.
func (fr *FeedbackRequest) Group() RequestStatus {
	switch fr.Status {
	case StatusCompleted, StatusArchived:
		return fr.Status
	}
	return StatusActive
}
