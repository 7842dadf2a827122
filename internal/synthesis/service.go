package synthesis

import (
	"context"
	"errors"
	"time"

	"facilitator-backend/internal/metrics"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/store"

	"github.com/labstack/echo/v4"
)

const (
	MissingKeyText  = "⚠️ Add your Anthropic API key in Settings (⚙) to enable AI synthesis."
	UnavailableText = "Synthesis unavailable."
)

// Result is what the results view shows in the synthesis panel.
type Result struct {
	Text      string     `json:"text"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	// Failed marks warning text that was not cached.
	Failed bool `json:"failed"`
}

type Service struct {
	summarizer Summarizer
	syntheses  store.SynthesisRepository
	logger     echo.Logger
	now        func() time.Time
}

func NewService(summarizer Summarizer, syntheses store.SynthesisRepository, logger echo.Logger) *Service {
	return &Service{
		summarizer: summarizer,
		syntheses:  syntheses,
		logger:     logger,
		now:        time.Now,
	}
}

// Get returns the cached synthesis. When there is none yet, responses exist
// and a key is present, one is generated on the spot.
func (s *Service) Get(ctx context.Context, req *models.FeedbackRequest, responses []models.Response, apiKey string) (Result, error) {
	cached, err := s.syntheses.Get(ctx, req.ID)
	if err == nil {
		updated := cached.UpdatedAt
		return Result{Text: cached.Text, UpdatedAt: &updated}, nil
	}
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrCorrupt) {
		return Result{}, err
	}

	if len(responses) == 0 || apiKey == "" {
		return Result{}, nil
	}
	return s.Regenerate(ctx, req, responses, apiKey), nil
}

// Regenerate always calls the summarizer. Failures come back as warning
// text and leave any previous synthesis in place.
func (s *Service) Regenerate(ctx context.Context, req *models.FeedbackRequest, responses []models.Response, apiKey string) Result {
	if apiKey == "" {
		metrics.SynthesisRuns.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return Result{Text: MissingKeyText, Failed: true}
	}

	text, err := s.summarizer.Summarize(ctx, apiKey, BuildPrompt(req, responses))
	if err != nil {
		metrics.SynthesisRuns.WithLabelValues(metrics.OutcomeFailure).Inc()
		s.logger.Warnf("Synthesis for request %s failed: %v", req.ID, err)

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return Result{Text: "⚠️ Synthesis failed: " + apiErr.Error(), Failed: true}
		}
		return Result{Text: "⚠️ Synthesis error: " + err.Error(), Failed: true}
	}
	if text == "" {
		metrics.SynthesisRuns.WithLabelValues(metrics.OutcomeFailure).Inc()
		return Result{Text: UnavailableText, Failed: true}
	}
	metrics.SynthesisRuns.WithLabelValues(metrics.OutcomeSuccess).Inc()

	syn := &models.Synthesis{RequestID: req.ID, Text: text, UpdatedAt: s.now()}
	if err := s.syntheses.Save(ctx, syn); err != nil {
		s.logger.Errorf("Failed to cache synthesis for request %s: %v", req.ID, err)
	}
	updated := syn.UpdatedAt
	return Result{Text: text, UpdatedAt: &updated}
}
