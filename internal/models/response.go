package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const AnonymousReviewer = "Anonymous"

// PreBiasAnswers maps a pre-bias question index to the reviewer's answer.
type PreBiasAnswers map[int]string

// UnmarshalJSON also accepts the older single-string form.
func (p *PreBiasAnswers) UnmarshalJSON(b []byte) error {
	var legacy string
	if err := json.Unmarshal(b, &legacy); err == nil {
		if legacy == "" {
			*p = PreBiasAnswers{}
		} else {
			*p = PreBiasAnswers{0: legacy}
		}
		return nil
	}

	var m map[int]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*p = m
	return nil
}

// Response is one reviewer's submission. It is never modified after insert.
type Response struct {
	ID                string                     `json:"id" gorm:"primaryKey"`
	RequestID         string                     `json:"request_id" gorm:"not null;index"`
	ReviewerName      string                     `json:"reviewer_name"`
	Anonymous         bool                       `json:"anonymous"`
	PreBias           PreBiasAnswers             `json:"pre_bias" gorm:"serializer:json"`
	InitialReaction   *Reaction                  `json:"initial_reaction" gorm:"serializer:json"`
	Answers           map[string]json.RawMessage `json:"answers" gorm:"serializer:json"`
	ClosingAnswer     *string                    `json:"closing_answer"`
	ReviewerQuestions *string                    `json:"reviewer_questions"`
	ReviewerFocusItem *int                       `json:"reviewer_focus_item"`
	SubmittedAt       time.Time                  `json:"submitted_at"`
}

func (r *Response) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	r.ID = uuidV7.String()
	return
}

// DecodeAnswers reads the stored answers against the request's questions.
// Answers that are missing, blank or undecodable are left out.
func (r *Response) DecodeAnswers(questions []Question) map[string]Answer {
	out := make(map[string]Answer, len(questions))
	for _, q := range questions {
		raw, ok := r.Answers[q.ID]
		if !ok {
			continue
		}
		a, err := DecodeAnswer(q, raw)
		if err != nil || !IsAnswered(a) {
			continue
		}
		out[q.ID] = a
	}
	return out
}

// Synthesis is the cached AI summary of a request's responses.
type Synthesis struct {
	RequestID string    `json:"request_id" gorm:"primaryKey"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SeenCount remembers how many responses a user has already looked at.
type SeenCount struct {
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	RequestID string    `json:"request_id" gorm:"primaryKey"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}
