package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	ScaleMin = 1
	ScaleMax = 5

	customReactionPrefix = "custom:"
)

var (
	ErrEmptyAnswer     = errors.New("answer is empty")
	ErrUnknownReaction = errors.New("unknown reaction")
)

type ReactionPreset struct {
	Emoji     string `json:"emoji"`
	Label     string `json:"label"`
	Sentiment string `json:"sentiment"`
}

var ReactionPresets = []ReactionPreset{
	{Emoji: "🩷", Label: "Love it", Sentiment: "positive"},
	{Emoji: "👍", Label: "Happy", Sentiment: "positive"},
	{Emoji: "❓", Label: "Unsure", Sentiment: "neutral"},
	{Emoji: "💬", Label: "Comment", Sentiment: "neutral"},
	{Emoji: "👎", Label: "Nope", Sentiment: "negative"},
	{Emoji: "❌", Label: "Sad", Sentiment: "negative"},
}

func presetByLabel(label string) (ReactionPreset, bool) {
	for _, p := range ReactionPresets {
		if p.Label == label {
			return p, true
		}
	}
	return ReactionPreset{}, false
}

// Reaction is either one of the preset labels or a custom emoji.
// Exactly one of Label and Custom is set on a valid reaction.
type Reaction struct {
	Label  string
	Custom string
}

func PresetReaction(label string) Reaction { return Reaction{Label: label} }
func CustomReaction(emoji string) Reaction { return Reaction{Custom: emoji} }

// ParseReaction is the strict decoder used for reviewer input.
func ParseReaction(s string) (Reaction, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reaction{}, ErrEmptyAnswer
	}
	if strings.HasPrefix(s, customReactionPrefix) {
		emoji := strings.TrimPrefix(s, customReactionPrefix)
		if emoji == "" {
			return Reaction{}, ErrUnknownReaction
		}
		return CustomReaction(emoji), nil
	}
	if _, ok := presetByLabel(s); !ok {
		return Reaction{}, fmt.Errorf("%w: %q", ErrUnknownReaction, s)
	}
	return PresetReaction(s), nil
}

func (r Reaction) IsZero() bool { return r.Label == "" && r.Custom == "" }

// String is the stored form: a preset label or "custom:<emoji>".
func (r Reaction) String() string {
	if r.Custom != "" {
		return customReactionPrefix + r.Custom
	}
	return r.Label
}

// Emoji returns the glyph for the reaction, empty for unknown labels.
func (r Reaction) Emoji() string {
	if r.Custom != "" {
		return r.Custom
	}
	if p, ok := presetByLabel(r.Label); ok {
		return p.Emoji
	}
	return ""
}

// Display renders "emoji label" for presets and the bare emoji for custom ones.
func (r Reaction) Display() string {
	if r.Custom != "" {
		return r.Custom
	}
	if p, ok := presetByLabel(r.Label); ok {
		return p.Emoji + " " + p.Label
	}
	return r.Label
}

func (r Reaction) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON keeps unknown labels as they are so older data still renders.
func (r *Reaction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.HasPrefix(s, customReactionPrefix) {
		*r = CustomReaction(strings.TrimPrefix(s, customReactionPrefix))
		return nil
	}
	*r = Reaction{Label: s}
	return nil
}

type AnswerKind string

const (
	AnswerScale    AnswerKind = "scale"
	AnswerText     AnswerKind = "text"
	AnswerReaction AnswerKind = "reaction"
	AnswerChoice   AnswerKind = "choice"
)

// Answer is a reviewer's answer to one question. Kind selects the
// populated field: Scale for scale, Text for text and choice, Reaction for
// reaction.
type Answer struct {
	Kind     AnswerKind
	Scale    int
	Text     string
	Reaction Reaction
}

func ScaleAnswer(n int) Answer { return Answer{Kind: AnswerScale, Scale: n} }
func TextAnswer(s string) Answer { return Answer{Kind: AnswerText, Text: s} }
func ChoiceAnswer(option string) Answer { return Answer{Kind: AnswerChoice, Text: option} }
func ReactionAnswer(r Reaction) Answer { return Answer{Kind: AnswerReaction, Reaction: r} }

// KindFor maps a question type to the answer kind it accepts.
func KindFor(t QuestionType) AnswerKind {
	switch t {
	case QuestionLikert:
		return AnswerScale
	case QuestionReaction:
		return AnswerReaction
	case QuestionChoice:
		return AnswerChoice
	}
	return AnswerText
}

func (a *Answer) answered() bool {
	if a == nil {
		return false
	}
	switch a.Kind {
	case AnswerScale:
		return a.Scale >= ScaleMin && a.Scale <= ScaleMax
	case AnswerText, AnswerChoice:
		return strings.TrimSpace(a.Text) != ""
	case AnswerReaction:
		return !a.Reaction.IsZero()
	}
	return false
}

// IsAnswered reports whether an answer value counts as given: absent values
// and blank strings do not, anything else does. Typed answers must also hold
// a value their kind accepts, so an out of range scale is not given.
func IsAnswered(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case *string:
		return val != nil && strings.TrimSpace(*val) != ""
	case Answer:
		return val.answered()
	case *Answer:
		return val.answered()
	case json.RawMessage:
		trimmed := bytes.TrimSpace(val)
		if len(trimmed) == 0 || string(trimmed) == "null" {
			return false
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return strings.TrimSpace(s) != ""
		}
		return true
	}
	return true
}

// Value is the wire form: a number for scale answers, a string otherwise.
func (a Answer) Value() any {
	switch a.Kind {
	case AnswerScale:
		return a.Scale
	case AnswerReaction:
		return a.Reaction.String()
	}
	return a.Text
}

// Display renders the answer for exports and summaries.
func (a Answer) Display() string {
	switch a.Kind {
	case AnswerScale:
		return strconv.Itoa(a.Scale)
	case AnswerReaction:
		return a.Reaction.Display()
	}
	return a.Text
}

func (a Answer) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Value())
}

// Check verifies the answer fits the question it is given for.
func (a Answer) Check(q Question) error {
	if a.Kind != KindFor(q.Type) {
		return fmt.Errorf("question %s expects a %s answer, got %s", q.ID, KindFor(q.Type), a.Kind)
	}
	switch a.Kind {
	case AnswerScale:
		if a.Scale < ScaleMin || a.Scale > ScaleMax {
			return fmt.Errorf("scale answer must be between %d and %d", ScaleMin, ScaleMax)
		}
	case AnswerChoice:
		if !q.HasOption(a.Text) {
			return fmt.Errorf("%q is not an option of question %s", a.Text, q.ID)
		}
	case AnswerReaction:
		if a.Reaction.Custom == "" {
			if _, ok := presetByLabel(a.Reaction.Label); !ok {
				return ErrUnknownReaction
			}
		}
	}
	return nil
}

// DecodeAnswer reads a stored answer value according to the question's type.
func DecodeAnswer(q Question, raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return Answer{}, ErrEmptyAnswer
	}

	switch q.Type {
	case QuestionLikert:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			// Some older clients stored the scale as a string
			var s string
			if err2 := json.Unmarshal(raw, &s); err2 != nil {
				return Answer{}, fmt.Errorf("decoding scale answer: %w", err)
			}
			parsed, err2 := strconv.Atoi(strings.TrimSpace(s))
			if err2 != nil {
				return Answer{}, fmt.Errorf("decoding scale answer: %w", err2)
			}
			n = float64(parsed)
		}
		if n != math.Trunc(n) {
			return Answer{}, fmt.Errorf("scale answer %v is not a whole number", n)
		}
		return ScaleAnswer(int(n)), nil
	case QuestionReaction:
		var r Reaction
		if err := json.Unmarshal(raw, &r); err != nil {
			return Answer{}, fmt.Errorf("decoding reaction answer: %w", err)
		}
		return ReactionAnswer(r), nil
	case QuestionChoice:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Answer{}, fmt.Errorf("decoding choice answer: %w", err)
		}
		return ChoiceAnswer(s), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Answer{}, fmt.Errorf("decoding text answer: %w", err)
	}
	return TextAnswer(s), nil
}

// EncodeAnswers turns decoded answers into their stored form.
func EncodeAnswers(answers map[string]Answer) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(answers))
	for id, a := range answers {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encoding answer %s: %w", id, err)
		}
		out[id] = b
	}
	return out, nil
}
