package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"facilitator-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRESTKey = "test-key"

// fakePostgREST understands the subset of filters the REST backend sends.
// The "or" filter is ignored; callers re-check visibility themselves.
type fakePostgREST struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
}

func newFakePostgREST(t *testing.T) (*fakePostgREST, *Repositories) {
	t.Helper()
	fake := &fakePostgREST{tables: map[string][]map[string]any{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, NewRESTRepositories(srv.URL, testRESTKey, srv.Client(), nil)
}

func (f *fakePostgREST) rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.tables[table]...)
}

func (f *fakePostgREST) put(table string, row map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], row)
}

func matches(row map[string]any, key, filter string) bool {
	value := fmt.Sprint(row[key])
	switch {
	case filter == "is.null":
		return row[key] == nil
	case filter == "not.is.null":
		return row[key] != nil
	case strings.HasPrefix(filter, "eq."):
		return value == strings.TrimPrefix(filter, "eq.")
	case strings.HasPrefix(filter, "gt."):
		return value > strings.TrimPrefix(filter, "gt.")
	case strings.HasPrefix(filter, "in.("):
		list := strings.TrimSuffix(strings.TrimPrefix(filter, "in.("), ")")
		for _, item := range strings.Split(list, ",") {
			if strings.Trim(item, `"`) == value {
				return true
			}
		}
		return false
	}
	return true
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != testRESTKey || r.Header.Get("Authorization") != "Bearer "+testRESTKey {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid api key"}`))
		return
	}
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	query := r.URL.Query()

	filters := map[string]string{}
	for key, values := range query {
		switch key {
		case "select", "order", "limit", "on_conflict", "or":
			continue
		}
		filters[key] = values[0]
	}
	selected := func(row map[string]any) bool {
		for key, filter := range filters {
			if !matches(row, key, filter) {
				return false
			}
		}
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		out := []map[string]any{}
		for _, row := range f.tables[table] {
			if selected(row) {
				out = append(out, row)
			}
		}
		if limit, err := strconv.Atoi(query.Get("limit")); err == nil && len(out) > limit {
			out = out[:limit]
		}
		json.NewEncoder(w).Encode(out)

	case http.MethodPost:
		var row map[string]any
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"message":%q}`, err.Error())
			return
		}
		conflict := query.Get("on_conflict")
		if conflict != "" {
			keys := strings.Split(conflict, ",")
			for i, existing := range f.tables[table] {
				same := true
				for _, k := range keys {
					if fmt.Sprint(existing[k]) != fmt.Sprint(row[k]) {
						same = false
					}
				}
				if !same {
					continue
				}
				if !strings.Contains(r.Header.Get("Prefer"), "ignore-duplicates") {
					f.tables[table][i] = row
				}
				w.WriteHeader(http.StatusCreated)
				return
			}
		}
		f.tables[table] = append(f.tables[table], row)
		w.WriteHeader(http.StatusCreated)

	case http.MethodPatch:
		var patch map[string]any
		json.NewDecoder(r.Body).Decode(&patch)
		for _, row := range f.tables[table] {
			if selected(row) {
				for k, v := range patch {
					row[k] = v
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		kept := []map[string]any{}
		for _, row := range f.tables[table] {
			if !selected(row) {
				kept = append(kept, row)
			}
		}
		f.tables[table] = kept
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestRESTRequests_SaveGetList(t *testing.T) {
	_, repos := newFakePostgREST(t)
	ctx := context.Background()

	own := newRequest("mine", "u1")
	shared := newRequest("shared", "u2")
	shared.Visibility = models.VisibilityMembers
	shared.SharedWith = []string{"u1"}
	private := newRequest("private", "u2")
	for _, fr := range []*models.FeedbackRequest{own, shared, private} {
		require.NoError(t, repos.Requests.Save(ctx, fr))
	}
	require.NotEmpty(t, own.ID)

	got, err := repos.Requests.Get(ctx, own.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Title)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, "q1", got.Questions[0].ID)

	got.Title = "renamed"
	require.NoError(t, repos.Requests.Save(ctx, got))
	again, err := repos.Requests.Get(ctx, own.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", again.Title)

	list, err := repos.Requests.List(ctx, RequestQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = repos.Requests.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRESTRequests_ListSkipsCorruptRows(t *testing.T) {
	fake, repos := newFakePostgREST(t)
	ctx := context.Background()

	require.NoError(t, repos.Requests.Save(ctx, newRequest("good", "u1")))
	fake.put(tableRequests, map[string]any{"id": "bad", "title": "bad", "owner_id": "u1", "questions": "oops"})

	list, err := repos.Requests.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Title)
}

func TestRESTRequests_GetReportsCorruptRow(t *testing.T) {
	fake, repos := newFakePostgREST(t)
	ctx := context.Background()

	fake.put(tableRequests, map[string]any{"id": "bad", "title": "bad", "owner_id": "u1", "questions": "oops"})

	_, err := repos.Requests.Get(ctx, "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = repos.Requests.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRESTResponses_InsertIgnoresDuplicates(t *testing.T) {
	fake, repos := newFakePostgREST(t)
	ctx := context.Background()

	resp := &models.Response{ID: "r1", RequestID: "req", ReviewerName: "Ana"}
	require.NoError(t, repos.Responses.Insert(ctx, resp))
	retry := *resp
	retry.ReviewerName = "Changed"
	require.NoError(t, repos.Responses.Insert(ctx, &retry))
	require.NoError(t, repos.Responses.Insert(ctx, &models.Response{RequestID: "req", ReviewerName: "Ben"}))

	assert.Len(t, fake.rows(tableResponses), 2)

	list, err := repos.Responses.ListByRequest(ctx, "req")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ana", list[0].ReviewerName)

	counts, err := repos.Responses.CountByRequest(ctx, []string{"req", "other"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts["req"])
	assert.Equal(t, 0, counts["other"])
}

func TestRESTRequests_DeleteCascades(t *testing.T) {
	fake, repos := newFakePostgREST(t)
	ctx := context.Background()

	fr := newRequest("gone", "u1")
	require.NoError(t, repos.Requests.Save(ctx, fr))
	require.NoError(t, repos.Responses.Insert(ctx, &models.Response{RequestID: fr.ID}))
	require.NoError(t, repos.Syntheses.Save(ctx, &models.Synthesis{RequestID: fr.ID, Text: "x"}))
	require.NoError(t, repos.SeenCounts.Set(ctx, "u1", fr.ID, 2))

	require.NoError(t, repos.Requests.Delete(ctx, fr.ID))

	for _, table := range []string{tableRequests, tableResponses, tableSyntheses, tableSeenCounts} {
		assert.Empty(t, fake.rows(table), table)
	}
}

func TestRESTSettings_KeepsAPIKey(t *testing.T) {
	_, repos := newFakePostgREST(t)
	ctx := context.Background()

	empty, err := repos.Settings.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", empty.UserID)

	require.NoError(t, repos.Settings.Save(ctx, &models.IntegrationSettings{UserID: "u1", SenderName: "Ana", SummarizerAPIKey: "sk"}))
	got, err := repos.Settings.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sk", got.SummarizerAPIKey)
	assert.Equal(t, "Ana", got.SenderName)
}

func TestRESTSeenCountsAndFolders(t *testing.T) {
	_, repos := newFakePostgREST(t)
	ctx := context.Background()

	n, err := repos.SeenCounts.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, repos.SeenCounts.Set(ctx, "u1", "r1", 5))
	require.NoError(t, repos.SeenCounts.Set(ctx, "u1", "r1", 6))
	many, err := repos.SeenCounts.GetMany(ctx, "u1", []string{"r1", "r2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"r1": 6}, many)

	folder := &models.Folder{Name: "Q3", OwnerID: "u1"}
	require.NoError(t, repos.Folders.Save(ctx, folder))
	fr := newRequest("filed", "u1")
	fr.FolderID = &folder.ID
	require.NoError(t, repos.Requests.Save(ctx, fr))

	require.NoError(t, repos.Folders.Delete(ctx, folder.ID))
	got, err := repos.Requests.Get(ctx, fr.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FolderID)
}

func TestREST_ReportsServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"column does not exist"}`))
	}))
	defer srv.Close()

	repos := NewRESTRepositories(srv.URL, "k", srv.Client(), nil)
	_, err := repos.Requests.ListAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column does not exist")
}

func TestREST_UpgradeLegacyRowsOnce(t *testing.T) {
	fake, repos := newFakePostgREST(t)
	ctx := context.Background()

	fake.put(tableUsers, map[string]any{"id": "u1", "name": "Ana", "email": "ana@example.com", "team_id": "team-1"})
	fake.put(tableUsers, map[string]any{"id": "u2", "name": "Ben", "email": "ben@example.com", "team_ids": []string{"team-2"}})
	fake.put(tableRequests, map[string]any{"id": "old", "title": "Old", "owner_id": "u1", "pre_bias_question": "What do you expect?"})

	// Reads only fill defaults
	u, err := repos.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{}, u.TeamIDs)

	changed, err := repos.UpgradeLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	u, err = repos.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"team-1"}, u.TeamIDs)
	assert.Equal(t, "team-1", u.ActiveTeam())
	assert.Nil(t, u.LegacyTeamID)

	fr, err := repos.Requests.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, []string{"What do you expect?"}, fr.PreBiasQuestions)
	assert.Empty(t, fr.LegacyPreBiasQuestion)

	changed, err = repos.UpgradeLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}
