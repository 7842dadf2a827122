package notifications

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"facilitator-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestShareMessage(t *testing.T) {
	req := &models.FeedbackRequest{
		Title:      "Onboarding flow",
		Deadline:   "2025-06-02",
		FocusOn:    "the first screen",
		IgnoreNote: "copy typos",
	}

	msg := ShareMessage(req, "Dana", "https://example.com/#review/abc")
	assert.Equal(t, "👋 Dana is requesting feedback on *Onboarding flow*\n"+
		"It should take ~10 min. Please review by Monday, June 2.\n"+
		"🎯 *Focus on:* the first screen\n"+
		"⏭️ *Skip:* copy typos\n"+
		"\n"+
		"→ https://example.com/#review/abc", msg)
}

func TestShareMessage_Defaults(t *testing.T) {
	msg := ShareMessage(&models.FeedbackRequest{Title: "T"}, "  ", "L")
	assert.Equal(t, "👋 The team is requesting feedback on *T*\n"+
		"It should take ~10 min. Please review by [DATE].\n"+
		"\n"+
		"→ L", msg)
}

func TestFormatDeadline(t *testing.T) {
	assert.Equal(t, "Wednesday, January 1", FormatDeadline("2025-01-01"))
	assert.Equal(t, "[DATE]", FormatDeadline(""))
	assert.Equal(t, "[DATE]", FormatDeadline("next week"))
}

func TestSlackNotifier_Send(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier()
	require.NoError(t, n.Send(context.Background(), srv.URL, "#design", "hello"))
	assert.Equal(t, "hello", gjson.GetBytes(body, "text").String())
	assert.Equal(t, "#design", gjson.GetBytes(body, "channel").String())
}

func TestSlackNotifier_Errors(t *testing.T) {
	n := NewSlackNotifier()
	assert.ErrorIs(t, n.Send(context.Background(), "", "", "hello"), ErrNoWebhook)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service"))
	}))
	defer srv.Close()
	assert.Error(t, n.Send(context.Background(), srv.URL, "", "hello"))
}
