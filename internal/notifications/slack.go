// Package notifications posts review invitations to chat channels through
// incoming webhooks.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"facilitator-backend/internal/metrics"
	"facilitator-backend/internal/models"

	"github.com/slack-go/slack"
)

const (
	deadlineLayout = "Monday, January 2"
	noDeadline     = "[DATE]"
	defaultSender  = "The team"
)

// NoWebhookMessage is shown when a user shares to Slack without a webhook.
const NoWebhookMessage = "Add your Slack webhook URL in Settings (⚙) first."

var ErrNoWebhook = errors.New("slack webhook url is not configured")

type Notifier interface {
	Send(ctx context.Context, webhookURL, channel, text string) error
}

// SlackNotifier posts to Slack incoming webhooks.
type SlackNotifier struct {
	httpClient *http.Client
}

func NewSlackNotifier() *SlackNotifier {
	return &SlackNotifier{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (n *SlackNotifier) Send(ctx context.Context, webhookURL, channel, text string) error {
	if strings.TrimSpace(webhookURL) == "" {
		return ErrNoWebhook
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, webhookURL, n.httpClient, &slack.WebhookMessage{
		Channel: channel,
		Text:    text,
	})
	metrics.NotificationsSent.WithLabelValues("slack", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	return nil
}

// FormatDeadline renders a YYYY-MM-DD deadline for people, or a placeholder
// when none is set.
func FormatDeadline(deadline string) string {
	if deadline == "" {
		return noDeadline
	}
	d, err := time.Parse(time.DateOnly, deadline)
	if err != nil {
		return noDeadline
	}
	return d.Format(deadlineLayout)
}

// ShareMessage is the chat message that asks reviewers to open the link.
func ShareMessage(req *models.FeedbackRequest, sender, link string) string {
	if strings.TrimSpace(sender) == "" {
		sender = defaultSender
	}

	lines := []string{
		fmt.Sprintf("👋 %s is requesting feedback on *%s*", sender, req.Title),
		fmt.Sprintf("It should take ~10 min. Please review by %s.", FormatDeadline(req.Deadline)),
	}
	if focus := strings.TrimSpace(req.FocusOn); focus != "" {
		lines = append(lines, "🎯 *Focus on:* "+focus)
	}
	if skip := strings.TrimSpace(req.IgnoreNote); skip != "" {
		lines = append(lines, "⏭️ *Skip:* "+skip)
	}
	lines = append(lines, "", "→ "+link)
	return strings.Join(lines, "\n")
}
