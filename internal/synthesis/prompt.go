// Package synthesis asks a language model to summarize the responses to a
// feedback request and caches the result per request.
package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"

	"facilitator-backend/internal/models"
)

const instructions = `Produce:
1. **Overall sentiment** (1-2 sentences)
2. **Key themes** (bullet points)
3. **Prioritized action items** (numbered, concrete)
4. **Flags / open questions**
Be direct and actionable.`

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func reviewerBlock(i int, r *models.Response) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reviewer %d (%s):\n", i+1, r.ReviewerName)

	reaction := "none"
	if r.InitialReaction != nil && !r.InitialReaction.IsZero() {
		reaction = r.InitialReaction.String()
	}
	fmt.Fprintf(&sb, "- Initial reaction: %s\n", reaction)

	preBias := "none"
	if len(r.PreBias) > 0 {
		preBias = compactJSON(r.PreBias)
	}
	fmt.Fprintf(&sb, "- Pre-bias: %s\n", preBias)

	answers := r.Answers
	if answers == nil {
		answers = map[string]json.RawMessage{}
	}
	fmt.Fprintf(&sb, "- Answers: %s", compactJSON(answers))

	if r.ClosingAnswer != nil && *r.ClosingAnswer != "" {
		fmt.Fprintf(&sb, "\n- Additional notes: %s", *r.ClosingAnswer)
	}
	if r.ReviewerQuestions != nil && *r.ReviewerQuestions != "" {
		fmt.Fprintf(&sb, "\n- Questions raised by reviewer: %s", *r.ReviewerQuestions)
	}
	return sb.String()
}

// BuildPrompt renders the request and its responses into the prompt sent
// to the summarizer.
func BuildPrompt(req *models.FeedbackRequest, responses []models.Response) string {
	context := req.Context
	if context == "" {
		context = "none"
	}
	questions := req.Questions
	if questions == nil {
		questions = []models.Question{}
	}
	qJSON, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		qJSON = []byte("[]")
	}

	blocks := make([]string, len(responses))
	for i := range responses {
		blocks[i] = reviewerBlock(i, &responses[i])
	}

	var sb strings.Builder
	sb.WriteString("You are a senior product consultant synthesizing reviewer feedback.\n")
	fmt.Fprintf(&sb, "FEEDBACK REQUEST: %s\n", req.Title)
	fmt.Fprintf(&sb, "Context: %s\n", context)
	fmt.Fprintf(&sb, "Questions: %s\n", qJSON)
	fmt.Fprintf(&sb, "RESPONSES (%d):\n", len(responses))
	sb.WriteString(strings.Join(blocks, "\n\n"))
	sb.WriteString("\n")
	sb.WriteString(instructions)
	return sb.String()
}
