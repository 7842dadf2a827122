package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"facilitator-backend/internal/models"
)

// Creation steps
const (
	StepDetails   = 1
	StepQuestions = 2
	StepShare     = 3
)

const deadlineLayout = "2006-01-02"

type RequestSaver interface {
	Save(ctx context.Context, r *models.FeedbackRequest) error
}

// Creation builds a new request, or edits an existing one, in three steps:
// details and content, questions, share.
type Creation struct {
	step    int
	draft   models.FeedbackRequest
	editing bool
	saved   *models.FeedbackRequest
}

// NewCreation starts an empty draft owned by the user, scoped to the
// user's active team when there is one.
func NewCreation(ownerID, activeTeamID string) *Creation {
	c := &Creation{
		step: StepDetails,
		draft: models.FeedbackRequest{
			OwnerID:    ownerID,
			Visibility: models.VisibilityPrivate,
			Status:     models.StatusActive,
			Tags:       []string{},
		},
	}
	if activeTeamID != "" {
		id := activeTeamID
		c.draft.TeamID = &id
	}
	return c
}

// NewEdit re-enters the wizard at step 1 with an existing request. Saving
// keeps its id, owner, status, tags and creation time.
func NewEdit(existing *models.FeedbackRequest) (*Creation, error) {
	if existing == nil || existing.ID == "" {
		return nil, errors.New("an existing request is required")
	}
	dup, err := existing.Duplicate(existing.CreatedAt)
	if err != nil {
		return nil, err
	}
	dup.ID = existing.ID
	dup.Title = existing.Title
	dup.Status = existing.Status
	dup.UpdatedAt = existing.UpdatedAt
	return &Creation{step: StepDetails, draft: *dup, editing: true}, nil
}

func (c *Creation) Step() int { return c.step }
func (c *Creation) Editing() bool { return c.editing }
func (c *Creation) RequestID() string { return c.draft.ID }

// Draft returns the request as currently edited.
func (c *Creation) Draft() *models.FeedbackRequest { return &c.draft }

func (c *Creation) inStep(step int) error {
	if c.step != step {
		return guard("expected creation step %d, currently %d", step, c.step)
	}
	return nil
}

func (c *Creation) SetTitle(title string) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	c.draft.Title = title
	return nil
}

func (c *Creation) SetContext(text string) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	c.draft.Context = text
	return nil
}

// SetHints sets what reviewers should focus on and what they can skip.
func (c *Creation) SetHints(focusOn, ignoreNote string) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	c.draft.FocusOn = focusOn
	c.draft.IgnoreNote = ignoreNote
	return nil
}

// SetDeadline takes a YYYY-MM-DD date, or an empty string to clear it.
func (c *Creation) SetDeadline(date string) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	date = strings.TrimSpace(date)
	if date != "" {
		if _, err := time.Parse(deadlineLayout, date); err != nil {
			return guard("deadline must be a YYYY-MM-DD date")
		}
	}
	c.draft.Deadline = date
	return nil
}

func (c *Creation) SetSharing(v models.Visibility, sharedWith []string) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	if !v.Valid() {
		return guard("unknown visibility %q", v)
	}
	c.draft.Visibility = v
	c.draft.SharedWith = nil
	if v == models.VisibilityMembers {
		c.draft.SharedWith = append([]string(nil), sharedWith...)
	}
	return nil
}

func (c *Creation) SetFolder(folderID string) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	c.draft.FolderID = nil
	if folderID != "" {
		id := folderID
		c.draft.FolderID = &id
	}
	return nil
}

func (c *Creation) SetAllowAnonymous(allow bool) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	c.draft.AllowAnonymous = allow
	return nil
}

func (c *Creation) AddContent(item models.ContentItem) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return guard("%v", err)
	}
	c.draft.ContentItems = append(c.draft.ContentItems, item)
	return nil
}

// RemoveContent drops an item. Hotspots on it are cleared and hotspots on
// later items are shifted so indexes stay valid.
func (c *Creation) RemoveContent(index int) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	if index < 0 || index >= len(c.draft.ContentItems) {
		return guard("content item %d does not exist", index)
	}
	items := c.draft.ContentItems
	c.draft.ContentItems = append(items[:index:index], items[index+1:]...)

	for i := range c.draft.Questions {
		h := c.draft.Questions[i].Hotspot
		switch {
		case h == nil:
		case h.ContentItemIndex == index:
			c.draft.Questions[i].Hotspot = nil
		case h.ContentItemIndex > index:
			h.ContentItemIndex--
		}
	}
	return nil
}

func (c *Creation) RelabelContent(index int, label string) error {
	if index < 0 || index >= len(c.draft.ContentItems) {
		return guard("content item %d does not exist", index)
	}
	c.draft.ContentItems[index].Label = label
	return nil
}

func (c *Creation) AddPreBias(text string) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	c.draft.PreBiasQuestions = append(c.draft.PreBiasQuestions, text)
	return nil
}

func (c *Creation) UpdatePreBias(index int, text string) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	if index < 0 || index >= len(c.draft.PreBiasQuestions) {
		return guard("pre-bias question %d does not exist", index)
	}
	c.draft.PreBiasQuestions[index] = text
	return nil
}

func (c *Creation) RemovePreBias(index int) error {
	if err := c.inStep(StepDetails); err != nil {
		return err
	}
	if index < 0 || index >= len(c.draft.PreBiasQuestions) {
		return guard("pre-bias question %d does not exist", index)
	}
	qs := c.draft.PreBiasQuestions
	c.draft.PreBiasQuestions = append(qs[:index:index], qs[index+1:]...)
	return nil
}

// CanAdvance reports whether Next would succeed from the current step.
func (c *Creation) CanAdvance() bool {
	switch c.step {
	case StepDetails:
		return strings.TrimSpace(c.draft.Title) != "" &&
			len(c.draft.ContentItems) > 0 &&
			strings.TrimSpace(c.draft.Context) != ""
	case StepQuestions:
		return len(c.draft.Questions) > 0
	}
	return false
}

// Next moves from details to questions. Leaving the questions step goes
// through Generate.
func (c *Creation) Next() error {
	if c.step != StepDetails {
		return guard("use generate to finish the questions step")
	}
	if !c.CanAdvance() {
		return guard("title, context and at least one content item are required")
	}
	// Blank pre-bias questions are dropped on the way out
	kept := c.draft.PreBiasQuestions[:0]
	for _, q := range c.draft.PreBiasQuestions {
		if strings.TrimSpace(q) != "" {
			kept = append(kept, q)
		}
	}
	c.draft.PreBiasQuestions = kept
	c.step = StepQuestions
	return nil
}

func (c *Creation) Back() error {
	switch c.step {
	case StepQuestions:
		c.step = StepDetails
	case StepShare:
		c.step = StepQuestions
	default:
		return guard("already at the first step")
	}
	return nil
}

// AddQuestion appends a question of the given type with its defaults.
func (c *Creation) AddQuestion(t models.QuestionType) (models.Question, error) {
	if err := c.inStep(StepQuestions); err != nil {
		return models.Question{}, err
	}
	if !t.Valid() {
		return models.Question{}, guard("unknown question type %q", t)
	}
	q := models.NewQuestion(t)
	c.draft.Questions = append(c.draft.Questions, q)
	return q, nil
}

// UpdateQuestion replaces the question with the same id. The type may
// change; the hotspot is checked against the current content items.
func (c *Creation) UpdateQuestion(q models.Question) error {
	if err := c.inStep(StepQuestions); err != nil {
		return err
	}
	if q.Hotspot != nil {
		if err := q.Hotspot.Validate(len(c.draft.ContentItems)); err != nil {
			return guard("%v", err)
		}
	}
	for i := range c.draft.Questions {
		if c.draft.Questions[i].ID == q.ID {
			c.draft.Questions[i] = q
			return nil
		}
	}
	return guard("unknown question %s", q.ID)
}

func (c *Creation) RemoveQuestion(id string) error {
	if err := c.inStep(StepQuestions); err != nil {
		return err
	}
	for i, q := range c.draft.Questions {
		if q.ID == id {
			c.draft.Questions = append(c.draft.Questions[:i:i], c.draft.Questions[i+1:]...)
			return nil
		}
	}
	return guard("unknown question %s", id)
}

// SetHotspot attaches a hotspot to a question, or clears it with nil.
func (c *Creation) SetHotspot(questionID string, h *models.Hotspot) error {
	if err := c.inStep(StepQuestions); err != nil {
		return err
	}
	if h != nil {
		if err := h.Validate(len(c.draft.ContentItems)); err != nil {
			return guard("%v", err)
		}
	}
	for i := range c.draft.Questions {
		if c.draft.Questions[i].ID == questionID {
			if h == nil {
				c.draft.Questions[i].Hotspot = nil
			} else {
				spot := *h
				c.draft.Questions[i].Hotspot = &spot
			}
			return nil
		}
	}
	return guard("unknown question %s", questionID)
}

func (c *Creation) SetExtras(firstImpression, closingQuestion bool) error {
	if err := c.inStep(StepQuestions); err != nil {
		return err
	}
	c.draft.AddFirstImpression = firstImpression
	c.draft.AddClosingQuestion = closingQuestion
	return nil
}

// Generate saves the request and moves to the share step. A new request gets
// its id from the repository; an edited one is saved over its id.
func (c *Creation) Generate(ctx context.Context, requests RequestSaver, now time.Time) (*models.FeedbackRequest, error) {
	if err := c.inStep(StepQuestions); err != nil {
		return nil, err
	}
	if !c.CanAdvance() {
		return nil, guard("at least one question is required")
	}

	c.draft.ApplyDefaults()
	if err := c.draft.Validate(); err != nil {
		return nil, guard("%v", err)
	}

	out := c.draft
	if !c.editing {
		out.Status = models.StatusActive
		out.CreatedAt = now
	}
	out.UpdatedAt = now

	if err := requests.Save(ctx, &out); err != nil {
		return nil, fmt.Errorf("saving request: %w", err)
	}
	// Further saves from this wizard update the same request
	c.draft.ID = out.ID
	c.draft.CreatedAt = out.CreatedAt
	c.editing = true
	c.saved = &out
	c.step = StepShare
	return &out, nil
}

// ShareURL is the reviewer link once the request is saved. Edits keep the
// original link.
func (c *Creation) ShareURL(baseURL string) (string, error) {
	if c.draft.ID == "" {
		return "", guard("the request has not been generated yet")
	}
	return c.draft.ShareURL(baseURL), nil
}

// Saved is the request as last written by Generate.
func (c *Creation) Saved() *models.FeedbackRequest { return c.saved }
