package models

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAnswered(t *testing.T) {
	blank := "   "
	filled := "yes"
	tests := []struct {
		name     string
		value    any
		expected bool
	}{
		{"nil", nil, false},
		{"empty string", "", false},
		{"whitespace string", "   ", false},
		{"text", "looks great", true},
		{"zero number", 0, true},
		{"scale number", 4, true},
		{"false", false, true},
		{"blank string pointer", &blank, false},
		{"string pointer", &filled, true},
		{"nil answer pointer", (*Answer)(nil), false},
		{"scale answer", ScaleAnswer(3), true},
		{"out of range scale answer", ScaleAnswer(0), false},
		{"blank text answer", TextAnswer(" "), false},
		{"reaction answer", ReactionAnswer(PresetReaction("Happy")), true},
		{"raw null", json.RawMessage(`null`), false},
		{"raw blank string", json.RawMessage(`"  "`), false},
		{"raw number", json.RawMessage(`5`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsAnswered(tt.value))
		})
	}
}

func TestDetectURLType(t *testing.T) {
	tests := []struct {
		url      string
		expected ContentKind
		hasError bool
	}{
		{"https://www.youtube.com/watch?v=abc", ContentYouTube, false},
		{"https://youtu.be/abc", ContentYouTube, false},
		{"https://www.figma.com/file/xyz/Design", ContentFigma, false},
		{"https://www.loom.com/share/123", ContentLoom, false},
		{"https://example.com/prototype", ContentEmbed, false},
		{"not a url", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			kind, err := DetectURLType(tt.url)
			if tt.hasError {
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, kind)
		})
	}
}

func TestEmbedURL(t *testing.T) {
	yt, err := NewURLContent("https://www.youtube.com/watch?v=abc123&t=42", "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/embed/abc123?start=42", yt.EmbedURL())
	assert.Equal(t, "YouTube video", yt.Label)

	short, err := NewURLContent("https://youtu.be/xyz", "Demo")
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/embed/xyz", short.EmbedURL())

	loom, err := NewURLContent("https://www.loom.com/share/abc?sid=1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.loom.com/embed/abc", loom.EmbedURL())

	figma, err := NewURLContent("https://www.figma.com/file/k", "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.figma.com/embed?embed_host=ff&url=https%3A%2F%2Fwww.figma.com%2Ffile%2Fk", figma.EmbedURL())

	text, err := NewTextContent(ContentText, "hello", "")
	require.NoError(t, err)
	assert.Empty(t, text.EmbedURL())
}

func TestPreviewTruncates(t *testing.T) {
	long := make([]rune, PreviewLength+10)
	for i := range long {
		long[i] = 'a'
	}
	item, err := NewTextContent(ContentCode, string(long), "")
	require.NoError(t, err)
	assert.Len(t, []rune(item.Preview()), PreviewLength+1)
}

func TestParseReaction(t *testing.T) {
	r, err := ParseReaction("Love it")
	require.NoError(t, err)
	assert.Equal(t, "🩷 Love it", r.Display())

	custom, err := ParseReaction("custom:🔥")
	require.NoError(t, err)
	assert.Equal(t, "🔥", custom.Custom)
	assert.Equal(t, "custom:🔥", custom.String())
	assert.Equal(t, "🔥", custom.Display())

	_, err = ParseReaction("Meh")
	assert.ErrorIs(t, err, ErrUnknownReaction)

	_, err = ParseReaction("")
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestDecodeAnswer(t *testing.T) {
	likert := Question{ID: "q1", Type: QuestionLikert}
	a, err := DecodeAnswer(likert, json.RawMessage(`4`))
	require.NoError(t, err)
	assert.Equal(t, ScaleAnswer(4), a)

	a, err = DecodeAnswer(likert, json.RawMessage(`"3"`))
	require.NoError(t, err)
	assert.Equal(t, 3, a.Scale)

	reaction := Question{ID: "q2", Type: QuestionReaction}
	a, err = DecodeAnswer(reaction, json.RawMessage(`"custom:🎉"`))
	require.NoError(t, err)
	assert.Equal(t, CustomReaction("🎉"), a.Reaction)

	choice := Question{ID: "q3", Type: QuestionChoice, Options: []string{"A", "B"}}
	a, err = DecodeAnswer(choice, json.RawMessage(`"B"`))
	require.NoError(t, err)
	assert.NoError(t, a.Check(choice))
	assert.Error(t, ChoiceAnswer("C").Check(choice))

	_, err = DecodeAnswer(likert, json.RawMessage(`4.5`))
	assert.Error(t, err, "fractional scale values are rejected")

	a, err = DecodeAnswer(likert, json.RawMessage(`4.0`))
	require.NoError(t, err)
	assert.Equal(t, ScaleAnswer(4), a)

	_, err = DecodeAnswer(likert, json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrEmptyAnswer)

	encoded, err := EncodeAnswers(map[string]Answer{"q1": ScaleAnswer(5), "q2": ReactionAnswer(PresetReaction("Sad"))})
	require.NoError(t, err)
	assert.JSONEq(t, `5`, string(encoded["q1"]))
	assert.JSONEq(t, `"Sad"`, string(encoded["q2"]))
}

func TestResponseDecodeAnswers(t *testing.T) {
	questions := []Question{
		{ID: "q1", Type: QuestionLikert},
		{ID: "q2", Type: QuestionOpen},
		{ID: "q3", Type: QuestionLikert},
		{ID: "q4", Type: QuestionLikert},
		{ID: "q5", Type: QuestionOpen},
	}
	r := Response{Answers: map[string]json.RawMessage{
		"q1": json.RawMessage(`4`),
		"q2": json.RawMessage(`"  "`),
		"q3": json.RawMessage(`3.5`),
		"q4": json.RawMessage(`0`),
	}}

	got := r.DecodeAnswers(questions)
	assert.Equal(t, map[string]Answer{"q1": ScaleAnswer(4)}, got)
}

func TestQuestionValidate(t *testing.T) {
	q := NewQuestion(QuestionChoice)
	q.Text = "Pick one"
	assert.Equal(t, []string{"Option A", "Option B"}, q.Options)
	assert.NoError(t, q.Validate(0))

	q.Hotspot = &Hotspot{ContentItemIndex: 1, X: 0.1, Y: 0.1, W: 0.2, H: 0.2}
	assert.Error(t, q.Validate(1), "hotspot index must reference an existing item")
	assert.NoError(t, q.Validate(2))

	q.Hotspot = &Hotspot{ContentItemIndex: 0, X: 0.9, Y: 0.1, W: 0.2, H: 0.2}
	assert.Error(t, q.Validate(1))

	q.Hotspot = &Hotspot{ContentItemIndex: 0, X: 0.1, Y: 0.1, W: 0.01, H: 0.2}
	assert.Error(t, q.Validate(1))

	likert := NewQuestion(QuestionLikert)
	assert.Equal(t, DefaultLowLabel, likert.LowLabel)
	assert.Equal(t, DefaultHighLabel, likert.HighLabel)
	assert.Error(t, likert.Validate(0), "text is required")
}

func TestFeedbackRequestTagsAndStatus(t *testing.T) {
	fr := &FeedbackRequest{ID: "r1", Title: "Landing page"}
	fr.ApplyDefaults()

	assert.True(t, fr.AddTag(" design "))
	assert.False(t, fr.AddTag("design"))
	assert.False(t, fr.AddTag("  "))
	assert.True(t, fr.AddTag("q3"))
	assert.Equal(t, []string{"design", "q3"}, fr.Tags)

	assert.True(t, fr.RemoveTag("design"))
	assert.False(t, fr.RemoveTag("design"))
	assert.Equal(t, []string{"q3"}, fr.Tags)

	fr.ToggleArchive()
	assert.Equal(t, StatusArchived, fr.Status)
	fr.ToggleArchive()
	assert.Equal(t, StatusActive, fr.Status)

	assert.Equal(t, "https://app.example.com/#review/r1", fr.ShareURL("https://app.example.com/"))
}

func TestFeedbackRequestDuplicate(t *testing.T) {
	fr := &FeedbackRequest{
		ID:        "r1",
		Title:     "Onboarding",
		Status:    StatusCompleted,
		Tags:      []string{"ux"},
		Questions: []Question{{ID: "q1", Type: QuestionLikert, Text: "Clear?", Hotspot: &Hotspot{W: 0.5, H: 0.5}}},
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	dup, err := fr.Duplicate(now)
	require.NoError(t, err)
	assert.NotEqual(t, fr.ID, dup.ID)
	assert.Equal(t, "Onboarding (copy)", dup.Title)
	assert.Equal(t, StatusActive, dup.Status)
	assert.Equal(t, now, dup.CreatedAt)

	dup.Questions[0].Hotspot.W = 0.1
	dup.Tags[0] = "changed"
	assert.Equal(t, 0.5, fr.Questions[0].Hotspot.W)
	assert.Equal(t, "ux", fr.Tags[0])
}

func TestFeedbackRequestVisibleTo(t *testing.T) {
	team := "t1"
	fr := &FeedbackRequest{OwnerID: "owner", Visibility: VisibilityTeam, TeamID: &team, SharedWith: []string{"guest"}}

	assert.True(t, fr.VisibleTo("owner", ""))
	assert.True(t, fr.VisibleTo("teammate", "t1"))
	assert.False(t, fr.VisibleTo("teammate", "t2"))
	assert.True(t, fr.VisibleTo("guest", ""))

	fr.Visibility = VisibilityPrivate
	assert.False(t, fr.VisibleTo("teammate", "t1"))
}

func TestFeedbackRequestValidate(t *testing.T) {
	item, err := NewURLContent("https://example.com", "")
	require.NoError(t, err)

	fr := &FeedbackRequest{
		Title:        "Checkout",
		ContentItems: []ContentItem{item},
		Questions: []Question{
			{ID: "q1", Type: QuestionOpen, Text: "Thoughts?", Hotspot: &Hotspot{ContentItemIndex: 0, W: 0.3, H: 0.3}},
		},
	}
	fr.ApplyDefaults()
	assert.NoError(t, fr.Validate())

	fr.Questions[0].Hotspot.ContentItemIndex = 3
	assert.Error(t, fr.Validate())

	fr.Questions[0].Hotspot = nil
	fr.Questions = append(fr.Questions, Question{ID: "q1", Type: QuestionOpen, Text: "Again"})
	assert.Error(t, fr.Validate(), "duplicate question ids")
}

func TestFoldLegacyFields(t *testing.T) {
	fr := &FeedbackRequest{LegacyPreBiasQuestion: "What do you expect?"}
	assert.True(t, fr.FoldLegacyPreBias())
	assert.Equal(t, []string{"What do you expect?"}, fr.PreBiasQuestions)
	assert.Empty(t, fr.LegacyPreBiasQuestion)
	assert.False(t, fr.FoldLegacyPreBias())

	legacyTeam := "team-1"
	u := &User{ID: "u1", LegacyTeamID: &legacyTeam}
	assert.True(t, u.FoldLegacyTeam())
	assert.Equal(t, []string{"team-1"}, u.TeamIDs)
	assert.Equal(t, "team-1", u.ActiveTeam())
	assert.Nil(t, u.LegacyTeamID)
	assert.False(t, u.FoldLegacyTeam())
}

func TestApplyDefaultsLeavesLegacyFields(t *testing.T) {
	fr := &FeedbackRequest{LegacyPreBiasQuestion: "What do you expect?"}
	fr.ApplyDefaults()
	assert.Equal(t, StatusActive, fr.Status)
	assert.Equal(t, VisibilityPrivate, fr.Visibility)
	assert.Equal(t, []string{}, fr.Tags)
	assert.Empty(t, fr.PreBiasQuestions)

	legacyTeam := "team-1"
	u := &User{ID: "u1", LegacyTeamID: &legacyTeam}
	u.ApplyDefaults()
	assert.Equal(t, []string{}, u.TeamIDs)
	assert.NotNil(t, u.LegacyTeamID)
}

func TestPreBiasAnswersLegacyString(t *testing.T) {
	var r Response
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","pre_bias":"expected a form"}`), &r))
	assert.Equal(t, PreBiasAnswers{0: "expected a form"}, r.PreBias)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","pre_bias":{"0":"a","1":"b"}}`), &r))
	assert.Equal(t, "b", r.PreBias[1])
}

func TestTeamMembership(t *testing.T) {
	now := time.Now()
	admin := &User{ID: "a", Name: "Ada", Email: "ada@example.com"}
	team, err := NewTeam("Core", admin, now)
	require.NoError(t, err)
	assert.Len(t, team.InviteCode, 6)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, team.InviteCode)
	assert.True(t, team.IsAdmin("a"))
	assert.Equal(t, TeamPrivate, team.Visibility)

	bob := &User{ID: "b", Name: "Bob"}
	require.NoError(t, team.AddMember(bob, RoleMember, now))
	assert.ErrorIs(t, team.AddMember(bob, RoleMember, now), ErrAlreadyMember)

	assert.ErrorIs(t, team.RemoveMember("a"), ErrLastAdmin)
	require.NoError(t, team.RemoveMember("b"))
	assert.ErrorIs(t, team.RemoveMember("b"), ErrNotMember)

	team.ToggleVisibility()
	assert.Equal(t, TeamPublic, team.Visibility)

	assert.Equal(t, "ABC123", NormalizeInviteCode(" abc123 "))
}

func TestUserTeams(t *testing.T) {
	u := &User{ID: "u"}
	u.ApplyDefaults()
	u.JoinTeam("t1")
	u.JoinTeam("t2")
	assert.Equal(t, "t2", u.ActiveTeam())

	u.LeaveTeam("t2")
	assert.Equal(t, []string{"t1"}, u.TeamIDs)
	assert.Equal(t, "t1", u.ActiveTeam())
}

func TestEncryptSecret(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

	sealed, err := EncryptSecret("sk-ant-test", key)
	require.NoError(t, err)
	assert.NotEqual(t, "sk-ant-test", sealed)

	opened, err := DecryptSecret(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", opened)

	plain, err := EncryptSecret("sk-ant-test", "")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", plain)
}
