// Package metrics holds the domain counters exported on /api/metrics.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	// OutcomeSkipped is used when no call was made, e.g. a missing API key.
	OutcomeSkipped = "skipped"
)

var (
	ResponsesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facilitator",
		Name:      "responses_submitted_total",
		Help:      "Reviewer responses stored",
	})

	SynthesisRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facilitator",
		Name:      "synthesis_runs_total",
		Help:      "Synthesis attempts by outcome",
	}, []string{"outcome"})

	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facilitator",
		Name:      "notifications_sent_total",
		Help:      "Outbound notifications by channel and outcome",
	}, []string{"channel", "outcome"})

	registerOnce sync.Once
	registerErr  error
)

// Register adds the counters to the default registry. Calling it again is a no-op,
// which lets several servers share a process in tests.
func Register() error {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{ResponsesSubmitted, SynthesisRuns, NotificationsSent} {
			if err := prometheus.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if errors.As(err, &are) {
					continue
				}
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
