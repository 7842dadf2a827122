// Package wizard holds the two multi-step flows of the facilitator: the
// reviewer walking through a request and the creator building one. Both are
// plain state machines; handlers drive them and persist snapshots between
// HTTP calls.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"facilitator-backend/internal/models"

	"github.com/google/uuid"
)

type Step string

const (
	StepNotFound          Step = "not_found"
	StepName              Step = "name"
	StepPreBias           Step = "prebias"
	StepFeedback          Step = "feedback"
	StepReviewerQuestions Step = "reviewer_questions"
	StepDone              Step = "done"
)

var (
	// ErrGuard is returned when a transition or input is not allowed in the
	// current state. Nothing changes when it is returned.
	ErrGuard           = errors.New("not allowed in the current step")
	ErrFinished        = errors.New("review already submitted")
	ErrRequestNotFound = errors.New("feedback request not found")
)

func guard(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGuard, fmt.Sprintf(format, args...))
}

// ResponseInserter is the part of the response repository the review needs.
type ResponseInserter interface {
	Insert(ctx context.Context, r *models.Response) error
}

// ReviewSnapshot is the serializable state of a review in progress.
type ReviewSnapshot struct {
	RequestID         string                     `json:"request_id"`
	ResponseID        string                     `json:"response_id"`
	Step              Step                       `json:"step"`
	ReviewerName      string                     `json:"reviewer_name"`
	Anonymous         bool                       `json:"anonymous"`
	PreBiasStep       int                        `json:"pre_bias_step"`
	PreBias           map[int]string             `json:"pre_bias"`
	FirstImpression   *models.Reaction           `json:"first_impression"`
	Answers           map[string]json.RawMessage `json:"answers"`
	CurrentQ          int                        `json:"current_q"`
	ActiveTab         int                        `json:"active_tab"`
	Closing           string                     `json:"closing"`
	ReviewerQuestions string                     `json:"reviewer_questions"`
	FocusItem         int                        `json:"focus_item"`
	SubmittedAt       time.Time                  `json:"submitted_at"`
}

// Review drives one reviewer through a request:
// name, pre-bias questions, the questions, reviewer questions, done.
type Review struct {
	request *models.FeedbackRequest
	s       ReviewSnapshot
	answers map[string]models.Answer
}

// NewReview starts a review. A nil request yields a review stuck in the
// not-found state.
func NewReview(request *models.FeedbackRequest) *Review {
	w := &Review{
		request: request,
		answers: map[string]models.Answer{},
		s: ReviewSnapshot{
			Step:    StepName,
			PreBias: map[int]string{},
		},
	}
	if request == nil {
		w.s.Step = StepNotFound
		return w
	}
	w.s.RequestID = request.ID
	w.s.ResponseID = uuid.Must(uuid.NewV7()).String()
	return w
}

// RestoreReview rebuilds a review from a snapshot taken earlier against the
// same request. Stored answers that no longer fit their question are dropped.
func RestoreReview(request *models.FeedbackRequest, snap ReviewSnapshot) (*Review, error) {
	if request == nil {
		return NewReview(nil), nil
	}
	if snap.RequestID != request.ID {
		return nil, fmt.Errorf("snapshot belongs to request %s, not %s", snap.RequestID, request.ID)
	}

	w := &Review{request: request, s: snap, answers: map[string]models.Answer{}}
	if w.s.PreBias == nil {
		w.s.PreBias = map[int]string{}
	}
	for _, q := range request.Questions {
		raw, ok := snap.Answers[q.ID]
		if !ok {
			continue
		}
		if a, err := models.DecodeAnswer(q, raw); err == nil {
			w.answers[q.ID] = a
		}
	}
	w.s.Answers = nil
	return w, nil
}

// Snapshot returns a copy of the review state safe to persist.
func (w *Review) Snapshot() (ReviewSnapshot, error) {
	snap := w.s
	snap.PreBias = make(map[int]string, len(w.s.PreBias))
	for k, v := range w.s.PreBias {
		snap.PreBias[k] = v
	}
	if w.s.FirstImpression != nil {
		r := *w.s.FirstImpression
		snap.FirstImpression = &r
	}
	encoded, err := models.EncodeAnswers(w.answers)
	if err != nil {
		return ReviewSnapshot{}, err
	}
	snap.Answers = encoded
	return snap, nil
}

func (w *Review) Step() Step { return w.s.Step }
func (w *Review) Request() *models.FeedbackRequest { return w.request }
func (w *Review) ResponseID() string { return w.s.ResponseID }
func (w *Review) ActiveTab() int { return w.s.ActiveTab }
func (w *Review) CurrentIndex() int { return w.s.CurrentQ }
func (w *Review) PreBiasIndex() int { return w.s.PreBiasStep }
func (w *Review) FirstImpression() *models.Reaction { return w.s.FirstImpression }

func (w *Review) Answer(questionID string) (models.Answer, bool) {
	a, ok := w.answers[questionID]
	return a, ok
}

func (w *Review) preBiasQuestions() []string { return w.request.PreBiasQuestions }
func (w *Review) totalQuestions() int { return len(w.request.Questions) }

// writable reports the error every mutator returns outside a live review.
func (w *Review) writable() error {
	switch w.s.Step {
	case StepNotFound:
		return ErrRequestNotFound
	case StepDone:
		return ErrFinished
	}
	return nil
}

func (w *Review) requireStep(step Step) error {
	if err := w.writable(); err != nil {
		return err
	}
	if w.s.Step != step {
		return guard("expected step %s, currently %s", step, w.s.Step)
	}
	return nil
}

// IsClosingSlot is true on the virtual step after the last question.
func (w *Review) IsClosingSlot() bool {
	return w.s.Step == StepFeedback && w.request.AddClosingQuestion && w.s.CurrentQ == w.totalQuestions()
}

// CurrentQuestion is the question under the pointer. It is false on the
// closing slot and outside the feedback step.
func (w *Review) CurrentQuestion() (models.Question, bool) {
	if w.s.Step != StepFeedback || w.s.CurrentQ < 0 || w.s.CurrentQ >= w.totalQuestions() {
		return models.Question{}, false
	}
	return w.request.Questions[w.s.CurrentQ], true
}

func (w *Review) SetName(name string) error {
	if err := w.requireStep(StepName); err != nil {
		return err
	}
	w.s.ReviewerName = name
	return nil
}

func (w *Review) SetAnonymous(anonymous bool) error {
	if err := w.requireStep(StepName); err != nil {
		return err
	}
	if anonymous && !w.request.AllowAnonymous {
		return guard("this request does not accept anonymous feedback")
	}
	w.s.Anonymous = anonymous
	return nil
}

func (w *Review) SetPreBias(text string) error {
	if err := w.requireStep(StepPreBias); err != nil {
		return err
	}
	w.s.PreBias[w.s.PreBiasStep] = text
	return nil
}

func (w *Review) SetAnswer(questionID string, a models.Answer) error {
	if err := w.requireStep(StepFeedback); err != nil {
		return err
	}
	q, ok := w.request.Question(questionID)
	if !ok {
		return guard("unknown question %s", questionID)
	}
	if err := a.Check(q); err != nil {
		return guard("%v", err)
	}
	w.answers[questionID] = a
	return nil
}

func (w *Review) SetFirstImpression(r models.Reaction) error {
	if err := w.requireStep(StepFeedback); err != nil {
		return err
	}
	if !w.request.AddFirstImpression {
		return guard("first impression is not asked for")
	}
	if err := models.ReactionAnswer(r).Check(models.Question{Type: models.QuestionReaction}); err != nil {
		return guard("%v", err)
	}
	w.s.FirstImpression = &r
	return nil
}

func (w *Review) SetClosing(text string) error {
	if err := w.requireStep(StepFeedback); err != nil {
		return err
	}
	if !w.request.AddClosingQuestion {
		return guard("no closing question on this request")
	}
	w.s.Closing = text
	return nil
}

// SetActiveTab switches the content item the reviewer is looking at.
func (w *Review) SetActiveTab(i int) error {
	if err := w.writable(); err != nil {
		return err
	}
	if i < 0 || i >= len(w.request.ContentItems) {
		return guard("content item %d does not exist", i)
	}
	w.s.ActiveTab = i
	return nil
}

func (w *Review) SetReviewerQuestions(text string) error {
	if err := w.requireStep(StepReviewerQuestions); err != nil {
		return err
	}
	w.s.ReviewerQuestions = text
	return nil
}

// SetFocusItem picks the content item the reviewer's questions are about.
// It is only offered when there is more than one item.
func (w *Review) SetFocusItem(i int) error {
	if err := w.requireStep(StepReviewerQuestions); err != nil {
		return err
	}
	if len(w.request.ContentItems) < 2 {
		return guard("focus item needs more than one content item")
	}
	if i < 0 || i >= len(w.request.ContentItems) {
		return guard("content item %d does not exist", i)
	}
	w.s.FocusItem = i
	return nil
}

// VisibleHotspot is the current question's hotspot, only while its content
// item is the active tab.
func (w *Review) VisibleHotspot() *models.Hotspot {
	q, ok := w.CurrentQuestion()
	if !ok || q.Hotspot == nil || q.Hotspot.ContentItemIndex != w.s.ActiveTab {
		return nil
	}
	h := *q.Hotspot
	return &h
}

// FocusHint names the content item a hotspot points at when the reviewer is
// looking at another one.
func (w *Review) FocusHint() (string, bool) {
	q, ok := w.CurrentQuestion()
	if !ok || q.Hotspot == nil || q.Hotspot.ContentItemIndex == w.s.ActiveTab {
		return "", false
	}
	idx := q.Hotspot.ContentItemIndex
	if idx < 0 || idx >= len(w.request.ContentItems) {
		return "", false
	}
	return w.request.ContentItems[idx].Label, true
}

// syncTab moves the active tab to the current question's hotspot item.
func (w *Review) syncTab() {
	q, ok := w.CurrentQuestion()
	if !ok || q.Hotspot == nil {
		return
	}
	if idx := q.Hotspot.ContentItemIndex; idx >= 0 && idx < len(w.request.ContentItems) && idx != w.s.ActiveTab {
		w.s.ActiveTab = idx
	}
}

func (w *Review) currentAnswered() bool {
	if w.IsClosingSlot() {
		return true
	}
	q, ok := w.CurrentQuestion()
	if !ok {
		return false
	}
	a, ok := w.answers[q.ID]
	return ok && models.IsAnswered(a)
}

func (w *Review) needsFirstImpression() bool {
	return w.request.AddFirstImpression && w.s.FirstImpression == nil
}

// CanGoNext reports whether Next would succeed.
func (w *Review) CanGoNext() bool {
	switch w.s.Step {
	case StepName:
		return w.s.Anonymous || strings.TrimSpace(w.s.ReviewerName) != ""
	case StepPreBias:
		return strings.TrimSpace(w.s.PreBias[w.s.PreBiasStep]) != ""
	case StepFeedback:
		return w.currentAnswered() && (w.s.CurrentQ > 0 || !w.needsFirstImpression())
	}
	return false
}

func (w *Review) enterFeedback(index int) {
	w.s.Step = StepFeedback
	w.s.CurrentQ = index
	if w.totalQuestions() == 0 && !w.request.AddClosingQuestion {
		w.s.Step = StepReviewerQuestions
		return
	}
	w.syncTab()
}

func (w *Review) lastFeedbackIndex() int {
	if w.request.AddClosingQuestion {
		return w.totalQuestions()
	}
	return w.totalQuestions() - 1
}

// Next moves forward one step when the current step's guard holds.
func (w *Review) Next() error {
	if err := w.writable(); err != nil {
		return err
	}

	switch w.s.Step {
	case StepName:
		if !w.CanGoNext() {
			return guard("a name is required")
		}
		if w.s.Anonymous && strings.TrimSpace(w.s.ReviewerName) == "" {
			w.s.ReviewerName = models.AnonymousReviewer
		}
		if len(w.preBiasQuestions()) > 0 {
			w.s.Step = StepPreBias
			w.s.PreBiasStep = 0
			return nil
		}
		w.enterFeedback(0)

	case StepPreBias:
		if !w.CanGoNext() {
			return guard("pre-bias answer is required")
		}
		if w.s.PreBiasStep < len(w.preBiasQuestions())-1 {
			w.s.PreBiasStep++
			return nil
		}
		w.enterFeedback(0)

	case StepFeedback:
		if !w.CanGoNext() {
			if w.s.CurrentQ == 0 && w.needsFirstImpression() {
				return guard("first impression is required")
			}
			return guard("the current question is unanswered")
		}
		if w.s.CurrentQ < w.lastFeedbackIndex() {
			w.s.CurrentQ++
			w.syncTab()
			return nil
		}
		w.s.Step = StepReviewerQuestions

	default:
		return guard("use submit to finish the review")
	}
	return nil
}

// Back moves one step backwards. Answers already given are kept.
func (w *Review) Back() error {
	if err := w.writable(); err != nil {
		return err
	}

	switch w.s.Step {
	case StepName:
		return guard("already at the first step")

	case StepPreBias:
		if w.s.PreBiasStep > 0 {
			w.s.PreBiasStep--
			return nil
		}
		w.s.Step = StepName

	case StepFeedback:
		if w.s.CurrentQ > 0 {
			w.s.CurrentQ--
			w.syncTab()
			return nil
		}
		w.leaveFeedbackBackwards()

	case StepReviewerQuestions:
		if w.lastFeedbackIndex() < 0 {
			w.leaveFeedbackBackwards()
			return nil
		}
		w.s.Step = StepFeedback
		w.s.CurrentQ = w.lastFeedbackIndex()
		w.syncTab()
	}
	return nil
}

func (w *Review) leaveFeedbackBackwards() {
	if n := len(w.preBiasQuestions()); n > 0 {
		w.s.Step = StepPreBias
		w.s.PreBiasStep = n - 1
		return
	}
	w.s.Step = StepName
}

// CanSubmit requires every question answered and the first impression when
// one is asked for. The closing question is always optional.
func (w *Review) CanSubmit() bool {
	if w.s.Step != StepReviewerQuestions {
		return false
	}
	if w.needsFirstImpression() {
		return false
	}
	for _, q := range w.request.Questions {
		a, ok := w.answers[q.ID]
		if !ok || !models.IsAnswered(a) {
			return false
		}
	}
	return true
}

func optionalText(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Response builds the record this review submits. Repeated calls return the
// same id and timestamp.
func (w *Review) Response(now time.Time) (*models.Response, error) {
	if w.s.SubmittedAt.IsZero() {
		w.s.SubmittedAt = now
	}
	answers, err := models.EncodeAnswers(w.answers)
	if err != nil {
		return nil, err
	}

	preBias := make(models.PreBiasAnswers, len(w.s.PreBias))
	for i, text := range w.s.PreBias {
		if i < len(w.preBiasQuestions()) && strings.TrimSpace(text) != "" {
			preBias[i] = text
		}
	}

	resp := &models.Response{
		ID:                w.s.ResponseID,
		RequestID:         w.request.ID,
		ReviewerName:      w.s.ReviewerName,
		Anonymous:         w.s.Anonymous,
		PreBias:           preBias,
		Answers:           answers,
		ClosingAnswer:     optionalText(w.s.Closing),
		ReviewerQuestions: optionalText(w.s.ReviewerQuestions),
		SubmittedAt:       w.s.SubmittedAt,
	}
	if w.s.Anonymous {
		resp.ReviewerName = models.AnonymousReviewer
	}
	if w.s.FirstImpression != nil {
		r := *w.s.FirstImpression
		resp.InitialReaction = &r
	}
	if len(w.request.ContentItems) > 1 {
		focus := w.s.FocusItem
		resp.ReviewerFocusItem = &focus
	}
	return resp, nil
}

// Submit writes the response and finishes the review. When the insert fails
// the review stays open and a retry reuses the same response id.
func (w *Review) Submit(ctx context.Context, responses ResponseInserter, now time.Time) (*models.Response, error) {
	if err := w.requireStep(StepReviewerQuestions); err != nil {
		return nil, err
	}
	if !w.CanSubmit() {
		return nil, guard("all questions must be answered before submitting")
	}

	resp, err := w.Response(now)
	if err != nil {
		return nil, err
	}
	if err := responses.Insert(ctx, resp); err != nil {
		return nil, fmt.Errorf("saving response: %w", err)
	}
	w.s.Step = StepDone
	return resp, nil
}

// Progress is the share of the review completed, between 0 and 1.
func (w *Review) Progress() float64 {
	if w.s.Step == StepNotFound {
		return 0
	}
	feedbackSteps := w.lastFeedbackIndex() + 1
	total := 1 + len(w.preBiasQuestions()) + feedbackSteps + 1

	done := 0
	switch w.s.Step {
	case StepName:
		done = 0
	case StepPreBias:
		done = 1 + w.s.PreBiasStep
	case StepFeedback:
		done = 1 + len(w.preBiasQuestions()) + w.s.CurrentQ
		if w.currentAnswered() {
			done++
		}
	case StepReviewerQuestions:
		done = total - 1
	case StepDone:
		done = total
	}
	return float64(done) / float64(total)
}
