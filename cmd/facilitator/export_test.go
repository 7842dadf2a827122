package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"facilitator-backend/internal/models"
	"facilitator-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepos(t *testing.T) *store.Repositories {
	t.Helper()
	db, err := store.OpenDatabase("file:export_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return store.NewSQLRepositories(db, nil)
}

func seed(t *testing.T, repos *store.Repositories) *models.FeedbackRequest {
	t.Helper()
	ctx := context.Background()
	req := &models.FeedbackRequest{
		Title:     "Launch plan, v2",
		OwnerID:   "u1",
		Questions: []models.Question{{ID: "q1", Type: models.QuestionLikert, Text: "Is it clear?"}},
	}
	require.NoError(t, repos.Requests.Save(ctx, req))

	require.NoError(t, repos.Responses.Insert(ctx, &models.Response{
		ID:           "r1",
		RequestID:    req.ID,
		ReviewerName: "Sam",
		Answers:      map[string]json.RawMessage{"q1": json.RawMessage("4")},
		SubmittedAt:  time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}))
	return req
}

func TestRunExport_SingleRequest(t *testing.T) {
	repos := setupRepos(t)
	req := seed(t, repos)

	var out bytes.Buffer
	require.NoError(t, runExport(context.Background(), repos, &out, req.ID))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Reviewer,Submitted,Is it clear?,Reviewer Questions", lines[0])
	assert.Equal(t, "Sam,3/5/2026,4,", lines[1])
}

func TestRunExport_All(t *testing.T) {
	repos := setupRepos(t)
	seed(t, repos)

	var out bytes.Buffer
	require.NoError(t, runExport(context.Background(), repos, &out, ""))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Request Title,Reviewer,Submitted,First Impression,Question,Answer,Closing Answer", lines[0])
	assert.Equal(t, `"Launch plan, v2",Sam,3/5/2026,,Is it clear?,4,`, lines[1])
}

func TestRunExport_UnknownRequest(t *testing.T) {
	repos := setupRepos(t)

	err := runExport(context.Background(), repos, &bytes.Buffer{}, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
