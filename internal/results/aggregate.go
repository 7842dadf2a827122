// Package results turns stored responses into what creators read: per
// question summaries, reaction tallies, CSV exports and the polling that
// surfaces new submissions.
package results

import (
	"math"
	"strconv"

	"facilitator-backend/internal/models"
)

// NoReaction is shown when nobody gave a first impression.
const NoReaction = "—"

type ReviewerAnswer struct {
	ResponseID string        `json:"response_id"`
	Reviewer   string        `json:"reviewer"`
	Answer     models.Answer `json:"answer"`
	Display    string        `json:"display"`
}

// Tally counts one distinct value. Tallies keep the order values were first seen.
type Tally struct {
	Value   string `json:"value"`
	Display string `json:"display"`
	Count   int    `json:"count"`
}

type QuestionSummary struct {
	Question models.Question  `json:"question"`
	Answers  []ReviewerAnswer `json:"answers"`
	// Average is set for likert questions with at least one answer, to one decimal.
	Average *string `json:"average"`
	// Counts is set for choice and reaction questions.
	Counts []Tally `json:"counts,omitempty"`
}

type Summary struct {
	RequestID     string            `json:"request_id"`
	ResponseCount int               `json:"response_count"`
	QuestionCount int               `json:"question_count"`
	Reactions     []Tally           `json:"reactions"`
	TopReaction   string            `json:"top_reaction"`
	Questions     []QuestionSummary `json:"questions"`
}

type tallier struct {
	order []string
	by    map[string]*Tally
}

func newTallier() *tallier { return &tallier{by: map[string]*Tally{}} }

func (t *tallier) add(value, display string) {
	if tl, ok := t.by[value]; ok {
		tl.Count++
		return
	}
	t.by[value] = &Tally{Value: value, Display: display, Count: 1}
	t.order = append(t.order, value)
}

func (t *tallier) list() []Tally {
	out := make([]Tally, 0, len(t.order))
	for _, v := range t.order {
		out = append(out, *t.by[v])
	}
	return out
}

// top returns the most frequent tally; ties go to the one seen first.
func top(tallies []Tally) (Tally, bool) {
	if len(tallies) == 0 {
		return Tally{}, false
	}
	best := tallies[0]
	for _, tl := range tallies[1:] {
		if tl.Count > best.Count {
			best = tl
		}
	}
	return best, true
}

// Average returns the mean of scale answers formatted to one decimal, or nil
// when there are none.
func Average(answers []models.Answer) *string {
	sum, n := 0, 0
	for _, a := range answers {
		if a.Kind != models.AnswerScale || !models.IsAnswered(a) {
			continue
		}
		sum += a.Scale
		n++
	}
	if n == 0 {
		return nil
	}
	// Ties round up, so 4.25 shows as 4.3
	mean := math.Floor(float64(sum)/float64(n)*10+0.5) / 10
	s := strconv.FormatFloat(mean, 'f', 1, 64)
	return &s
}

// Aggregate summarizes the responses to a request.
func Aggregate(req *models.FeedbackRequest, responses []models.Response) Summary {
	summary := Summary{
		RequestID:     req.ID,
		ResponseCount: len(responses),
		QuestionCount: len(req.Questions),
		TopReaction:   NoReaction,
		Questions:     make([]QuestionSummary, 0, len(req.Questions)),
	}

	reactions := newTallier()
	decoded := make([]map[string]models.Answer, len(responses))
	for i := range responses {
		decoded[i] = responses[i].DecodeAnswers(req.Questions)
		if r := responses[i].InitialReaction; r != nil && !r.IsZero() {
			reactions.add(r.String(), r.Display())
		}
	}
	summary.Reactions = reactions.list()
	if best, ok := top(summary.Reactions); ok {
		summary.TopReaction = best.Display
	}

	for _, q := range req.Questions {
		qs := QuestionSummary{Question: q, Answers: []ReviewerAnswer{}}
		counts := newTallier()
		var given []models.Answer

		for i, resp := range responses {
			a, ok := decoded[i][q.ID]
			if !ok {
				continue
			}
			given = append(given, a)
			qs.Answers = append(qs.Answers, ReviewerAnswer{
				ResponseID: resp.ID,
				Reviewer:   resp.ReviewerName,
				Answer:     a,
				Display:    a.Display(),
			})
			switch q.Type {
			case models.QuestionChoice:
				counts.add(a.Text, a.Text)
			case models.QuestionReaction:
				counts.add(a.Reaction.String(), a.Reaction.Display())
			}
		}

		switch q.Type {
		case models.QuestionLikert:
			qs.Average = Average(given)
		case models.QuestionChoice, models.QuestionReaction:
			qs.Counts = counts.list()
		}
		summary.Questions = append(summary.Questions, qs)
	}
	return summary
}
