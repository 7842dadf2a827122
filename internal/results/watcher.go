package results

import (
	"context"
	"sync"
	"time"

	"facilitator-backend/internal/models"
	"facilitator-backend/internal/store"

	"github.com/labstack/echo/v4"
)

const DefaultPollInterval = 30 * time.Second

type ResponseLister interface {
	ListByRequest(ctx context.Context, requestID string) ([]models.Response, error)
}

// Update is what a results view shows after a load or a poll.
type Update struct {
	Responses []models.Response `json:"responses"`
	Count     int               `json:"count"`
	// NewFeedback is set when the poll found responses the user had not seen.
	NewFeedback bool `json:"new_feedback"`
}

// Watcher follows one request's responses on behalf of one user.
type Watcher struct {
	RequestID string
	UserID    string

	responses ResponseLister
	seen      store.SeenCountRepository
	logger    echo.Logger

	mu    sync.Mutex
	count int
}

func NewWatcher(requestID, userID string, responses ResponseLister, seen store.SeenCountRepository, logger echo.Logger) *Watcher {
	return &Watcher{
		RequestID: requestID,
		UserID:    userID,
		responses: responses,
		seen:      seen,
		logger:    logger,
	}
}

func (w *Watcher) fetch(ctx context.Context) ([]models.Response, error) {
	list, err := w.responses.ListByRequest(ctx, w.RequestID)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// markSeen failing does not fail the load; the response list is still valid.
func (w *Watcher) markSeen(ctx context.Context, n int) {
	if err := w.seen.Set(ctx, w.UserID, w.RequestID, n); err != nil && w.logger != nil {
		w.logger.Warnf("Failed to record seen count for %s: %v", w.RequestID, err)
	}
}

// Open loads the responses and records them all as seen.
func (w *Watcher) Open(ctx context.Context) (Update, error) {
	list, err := w.fetch(ctx)
	if err != nil {
		return Update{}, err
	}
	w.mu.Lock()
	w.count = len(list)
	w.mu.Unlock()
	w.markSeen(ctx, len(list))
	return Update{Responses: list, Count: len(list)}, nil
}

// Poll re-fetches the responses and flags new ones against the seen count.
func (w *Watcher) Poll(ctx context.Context) (Update, error) {
	list, err := w.fetch(ctx)
	if err != nil {
		return Update{}, err
	}
	seen, err := w.seen.Get(ctx, w.UserID, w.RequestID)
	if err != nil {
		w.mu.Lock()
		seen = w.count
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.count = len(list)
	w.mu.Unlock()
	w.markSeen(ctx, len(list))
	return Update{Responses: list, Count: len(list), NewFeedback: len(list) > seen}, nil
}

// Run polls on every tick until ctx is done. Results that arrive after
// cancellation are dropped.
func (w *Watcher) Run(ctx context.Context, interval time.Duration, apply func(Update)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update, err := w.Poll(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if w.logger != nil {
					w.logger.Warnf("Polling responses for %s failed: %v", w.RequestID, err)
				}
				continue
			}
			apply(update)
		}
	}
}

// NewCounts returns, per request, how many responses the user has not seen.
func NewCounts(ctx context.Context, responses store.ResponseRepository, seen store.SeenCountRepository, userID string, requestIDs []string) (counts map[string]int, fresh map[string]int, err error) {
	counts, err = responses.CountByRequest(ctx, requestIDs)
	if err != nil {
		return nil, nil, err
	}
	seenCounts, err := seen.GetMany(ctx, userID, requestIDs)
	if err != nil {
		return nil, nil, err
	}

	fresh = make(map[string]int, len(requestIDs))
	for _, id := range requestIDs {
		fresh[id] = max(0, counts[id]-seenCounts[id])
	}
	return counts, fresh, nil
}
