package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionLikert   QuestionType = "likert"
	QuestionOpen     QuestionType = "open"
	QuestionReaction QuestionType = "reaction"
	QuestionChoice   QuestionType = "choice"
)

const (
	DefaultLowLabel  = "Strongly disagree"
	DefaultHighLabel = "Strongly agree"

	// A hotspot smaller than this on either axis is treated as an accidental click
	MinHotspotSize = 0.02
)

// Hotspot is a region of a content item in normalized coordinates.
type Hotspot struct {
	ContentItemIndex int     `json:"content_item_index"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	W                float64 `json:"w"`
	H                float64 `json:"h"`
}

type Question struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Text        string       `json:"text"`
	Placeholder string       `json:"placeholder,omitempty"`
	LowLabel    string       `json:"low_label,omitempty"`
	HighLabel   string       `json:"high_label,omitempty"`
	Options     []string     `json:"options,omitempty"`
	Hotspot     *Hotspot     `json:"hotspot,omitempty"`
}

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionLikert, QuestionOpen, QuestionReaction, QuestionChoice:
		return true
	}
	return false
}

// NewQuestion returns a question of the given type with its defaults filled in.
func NewQuestion(t QuestionType) Question {
	q := Question{
		ID:        uuid.NewString(),
		Type:      t,
		LowLabel:  DefaultLowLabel,
		HighLabel: DefaultHighLabel,
	}
	if t == QuestionChoice {
		q.Options = []string{"Option A", "Option B"}
	}
	return q
}

func (h Hotspot) Validate(contentItems int) error {
	if h.ContentItemIndex < 0 || h.ContentItemIndex >= contentItems {
		return fmt.Errorf("hotspot references content item %d but only %d exist", h.ContentItemIndex, contentItems)
	}
	for _, v := range []float64{h.X, h.Y, h.W, h.H} {
		if v < 0 || v > 1 {
			return errors.New("hotspot coordinates must be within [0,1]")
		}
	}
	if h.X+h.W > 1 || h.Y+h.H > 1 {
		return errors.New("hotspot extends past the content item")
	}
	if h.W <= MinHotspotSize || h.H <= MinHotspotSize {
		return errors.New("hotspot is too small")
	}
	return nil
}

// Validate checks the question against the request's content items.
func (q Question) Validate(contentItems int) error {
	if !q.Type.Valid() {
		return fmt.Errorf("unknown question type %q", q.Type)
	}
	if strings.TrimSpace(q.Text) == "" {
		return errors.New("question text is required")
	}
	if q.Type == QuestionChoice {
		if len(q.Options) < 2 {
			return errors.New("choice questions need at least two options")
		}
		for _, o := range q.Options {
			if strings.TrimSpace(o) == "" {
				return errors.New("choice options cannot be empty")
			}
		}
	}
	if q.Hotspot != nil {
		if err := q.Hotspot.Validate(contentItems); err != nil {
			return err
		}
	}
	return nil
}

func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}
