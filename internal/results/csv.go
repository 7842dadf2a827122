package results

import (
	"regexp"
	"strings"

	"facilitator-backend/internal/models"
)

const (
	AllExportFilename = "all_feedback_results.csv"
	submittedLayout   = "1/2/2006"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// EscapeField quotes a field when it holds a comma, a quote or a newline,
// doubling the quotes inside.
func EscapeField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func row(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = EscapeField(c)
	}
	return strings.Join(escaped, ",")
}

func reactionCell(r *models.Reaction) string {
	if r == nil || r.IsZero() {
		return ""
	}
	return r.Display()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Filename is the download name for a single request export.
func Filename(title string) string {
	if title == "" {
		title = "feedback"
	}
	return nonAlnum.ReplaceAllString(title, "_") + "_results.csv"
}

// RequestCSV exports one row per response.
func RequestCSV(req *models.FeedbackRequest, responses []models.Response) string {
	headers := []string{"Reviewer", "Submitted"}
	if req.AddFirstImpression {
		headers = append(headers, "First Impression")
	}
	for _, q := range req.Questions {
		text := q.Text
		if text == "" {
			text = "Question"
		}
		headers = append(headers, text)
	}
	if req.AddClosingQuestion {
		headers = append(headers, "Closing Answer")
	}
	headers = append(headers, "Reviewer Questions")

	lines := []string{row(headers)}
	for i := range responses {
		r := &responses[i]
		answers := r.DecodeAnswers(req.Questions)

		cells := []string{r.ReviewerName, r.SubmittedAt.Format(submittedLayout)}
		if req.AddFirstImpression {
			cells = append(cells, reactionCell(r.InitialReaction))
		}
		for _, q := range req.Questions {
			a, ok := answers[q.ID]
			if !ok {
				cells = append(cells, "")
				continue
			}
			cells = append(cells, a.Display())
		}
		if req.AddClosingQuestion {
			cells = append(cells, deref(r.ClosingAnswer))
		}
		cells = append(cells, deref(r.ReviewerQuestions))
		lines = append(lines, row(cells))
	}
	return strings.Join(lines, "\n")
}

// RequestResponses pairs a request with its responses for the combined export.
type RequestResponses struct {
	Request   *models.FeedbackRequest
	Responses []models.Response
}

// AllCSV exports one row per response and question across requests.
// Requests without responses are left out; a request without questions
// still gets one row per response.
func AllCSV(all []RequestResponses) string {
	lines := []string{row([]string{"Request Title", "Reviewer", "Submitted", "First Impression", "Question", "Answer", "Closing Answer"})}

	for _, rr := range all {
		if len(rr.Responses) == 0 {
			continue
		}
		req := rr.Request
		for i := range rr.Responses {
			r := &rr.Responses[i]
			base := []string{req.Title, r.ReviewerName, r.SubmittedAt.Format(submittedLayout), reactionCell(r.InitialReaction)}
			closing := deref(r.ClosingAnswer)

			if len(req.Questions) == 0 {
				lines = append(lines, row(append(base, "", "", closing)))
				continue
			}
			answers := r.DecodeAnswers(req.Questions)
			for _, q := range req.Questions {
				answer := ""
				if a, ok := answers[q.ID]; ok {
					answer = a.Display()
				}
				cells := append(append([]string(nil), base...), q.Text, answer, closing)
				lines = append(lines, row(cells))
			}
		}
	}
	return strings.Join(lines, "\n")
}
