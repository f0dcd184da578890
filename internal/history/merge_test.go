package history

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func weeklyFrame() Timeframe {
	return Timeframe{Period: PeriodWeekly, End: testNow, Posts: threePostsTwoAuthors()}
}

func TestParseModelOutput(t *testing.T) {
	raw := "```json\n{\"weekly\": {\"summary\": \"ok\"}, \"monthly\": \"oops\", \"all_time\": {\"summary\": \"fine\"}}\n```"
	got, err := ParseModelOutput(raw)
	require.NoError(t, err)
	require.Contains(t, got, PeriodWeekly)
	require.Contains(t, got, PeriodAllTime)
	require.NotContains(t, got, PeriodMonthly)

	nested, err := ParseModelOutput(`{"periods": {"monthly": {"summary": "x"}}}`)
	require.NoError(t, err)
	require.Contains(t, nested, PeriodMonthly)
}

func TestParseModelOutput_Unusable(t *testing.T) {
	for _, raw := range []string{"no json here", `{"weekly": }`, `{"other": {}}`} {
		_, err := ParseModelOutput(raw)
		if !errors.Is(err, ErrUnusableOutput) {
			t.Errorf("ParseModelOutput(%q) error = %v, want ErrUnusableOutput", raw, err)
		}
	}
}

func TestParseRefineOutput(t *testing.T) {
	got, err := ParseRefineOutput(`{"section": {"summary": "refined"}}`)
	require.NoError(t, err)
	require.Equal(t, "refined", got["summary"])

	got, err = ParseRefineOutput(`{"summary": "bare"}`)
	require.NoError(t, err)
	require.Equal(t, "bare", got["summary"])

	_, err = ParseRefineOutput(`{"nothing": true}`)
	require.ErrorIs(t, err, ErrUnusableOutput)
}

func TestMergeSection_NilModelKeepsFallback(t *testing.T) {
	tf := weeklyFrame()
	fb := BuildFallbackSection(tf, "Hikers")
	require.Equal(t, fb, MergeSection(fb, nil, tf))
}

func TestMergeSection_PerFieldFallback(t *testing.T) {
	tf := weeklyFrame()
	fb := BuildFallbackSection(tf, "Hikers")

	model, err := ParseModelOutput(`{"weekly": {
		"summary": "  A <b>great</b>   week on the trail  ",
		"highlights": "not a list",
		"articles": [{"title": "", "paragraphs": ["no title"]}],
		"timeline": [
			{"label": "Trail map", "detail": "Ann finished the map", "post_id": "p1"},
			{"label": "Ghost", "detail": "Refers to nothing", "post_id": "missing"},
			{"label": "", "detail": "dropped for empty label"},
			"not an object"
		],
		"next_focus": ["one", "two", "three", "four", "five", "   "]
	}}`)
	require.NoError(t, err)

	got := MergeSection(fb, model[PeriodWeekly], tf)

	require.Equal(t, OriginMixed, got.Origin)
	require.Equal(t, "A great week on the trail", got.Summary.Text)
	require.Equal(t, BlockID(PeriodWeekly, "summary", 0, got.Summary.Text), got.Summary.ID)

	require.Equal(t, fb.Highlights, got.Highlights)
	require.Equal(t, fb.Articles, got.Articles)

	require.Len(t, got.Timeline, 2)
	require.Equal(t, "p1", *got.Timeline[0].PostID)
	require.Equal(t, "/capsules/c1/posts/p1", *got.Timeline[0].Permalink)
	require.Equal(t, []string{SourceID("p1")}, got.Timeline[0].SourceIDs)
	require.Nil(t, got.Timeline[1].PostID)
	require.Empty(t, got.Timeline[1].SourceIDs)

	require.Len(t, got.NextFocus, MaxNextFocus)
	require.Equal(t, "four", got.NextFocus[3].Text)
}

func TestMergeSection_AllFieldsFromModel(t *testing.T) {
	tf := weeklyFrame()
	fb := BuildFallbackSection(tf, "Hikers")

	long := strings.Repeat("very long summary ", 60)
	model := map[string]any{
		"summary":    long,
		"highlights": []any{"Finished the trail map for the spring hike, everyone check it out", "Second"},
		"articles": []any{map[string]any{
			"title":      "Spring prep",
			"paragraphs": []any{"First paragraph.", "Second paragraph.", "Third is dropped."},
			"links": []any{
				map[string]any{"label": "Map", "url": "/capsules/c1/posts/p1"},
				map[string]any{"label": "Bad", "url": "javascript:alert(1)"},
				map[string]any{"label": "Site", "url": "https://example.org/hike"},
			},
		}},
		"timeline":   []any{map[string]any{"label": "Cleanup", "detail": "Photos uploaded", "post_id": "p2"}},
		"next_focus": []any{"Plan the next hike"},
	}

	got := MergeSection(fb, model, tf)
	require.Equal(t, OriginModel, got.Origin)
	require.LessOrEqual(t, len([]rune(got.Summary.Text)), MaxSummaryChars)
	require.True(t, strings.HasSuffix(got.Summary.Text, "…"))

	require.Equal(t, []string{SourceID("p1")}, got.Highlights[0].SourceIDs)
	require.Empty(t, got.Highlights[1].SourceIDs)

	require.Len(t, got.Articles, 1)
	require.Len(t, got.Articles[0].Paragraphs, MaxArticleParagraphs)
	require.Equal(t, []ArticleLink{
		{Label: "Map", URL: "/capsules/c1/posts/p1"},
		{Label: "Site", URL: "https://example.org/hike"},
	}, got.Articles[0].Links)
	require.Equal(t, []string{SourceID("p1")}, got.Articles[0].SourceIDs)
}

func TestMergeSection_AllInvalidIsFallback(t *testing.T) {
	tf := weeklyFrame()
	fb := BuildFallbackSection(tf, "Hikers")
	got := MergeSection(fb, map[string]any{"summary": 42, "highlights": []any{"", 7}, "timeline": nil}, tf)
	require.Equal(t, fb, got)
	require.Equal(t, OriginFallback, got.Origin)
}

func TestAssembleSnapshot(t *testing.T) {
	posts := threePostsTwoAuthors()
	in := GenerationInput{CapsuleID: "c1", CapsuleName: strPtr("Hikers"), Frames: BuildTimeframes(posts, testNow), Now: testNow}

	snap := AssembleSnapshot(in, BuildSources(posts), map[Period]map[string]any{
		PeriodMonthly: {"summary": "A busy month"},
	})
	require.Len(t, snap.Sections, 3)

	weekly, _ := snap.Section(PeriodWeekly)
	require.Equal(t, OriginFallback, weekly.Origin)
	monthly, _ := snap.Section(PeriodMonthly)
	require.Equal(t, OriginMixed, monthly.Origin)
	require.Equal(t, "A busy month", monthly.Summary.Text)
}
