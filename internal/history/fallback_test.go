package history

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildFallbackSection_Empty(t *testing.T) {
	for _, tf := range BuildTimeframes(nil, testNow) {
		sec := BuildFallbackSection(tf, "Hikers")

		require.True(t, sec.IsEmpty, "period %s", tf.Period)
		require.Equal(t, OriginFallback, sec.Origin)
		require.NotEmpty(t, sec.Summary.Text)
		require.Empty(t, sec.Highlights)
		require.Empty(t, sec.Timeline)
		require.Len(t, sec.Articles, 1)

		if tf.Period == PeriodAllTime {
			require.Equal(t, "No posts have been shared in Hikers yet.", sec.Summary.Text)
		} else {
			require.True(t, strings.HasPrefix(sec.Summary.Text, "No activity recorded in Hikers"), sec.Summary.Text)
		}

		var focus []string
		for _, f := range sec.NextFocus {
			focus = append(focus, f.Text)
		}
		require.Equal(t, KickoffFocus, focus)
	}
}

func TestBuildFallbackSection_ContributorsNote(t *testing.T) {
	tf := Timeframe{Period: PeriodWeekly, End: testNow, Posts: threePostsTwoAuthors()}
	sec := BuildFallbackSection(tf, "Hikers")

	require.False(t, sec.IsEmpty)
	require.Equal(t, 3, sec.PostCount)
	require.Equal(t, "3 posts from 2 contributors this week. The latest update came from Ann.", sec.Summary.Text)

	require.Len(t, sec.Highlights, 2)
	require.Equal(t, tf.Posts[0].Content, sec.Highlights[0].Text)
	require.Equal(t, []string{SourceID("p1")}, sec.Highlights[0].SourceIDs)
	require.Equal(t, "2 contributors shared updates this week.", sec.Highlights[1].Text)

	require.Len(t, sec.Timeline, 3)
	require.Equal(t, "Update from Ann", sec.Timeline[0].Label)
	require.Equal(t, "p1", *sec.Timeline[0].PostID)

	article := sec.Articles[0]
	require.Equal(t, "This week in Hikers", article.Title)
	require.Len(t, article.Paragraphs, 2)
	require.Len(t, article.Links, 3)

	var focus []string
	for _, f := range sec.NextFocus {
		focus = append(focus, f.Text)
	}
	require.Equal(t, ActiveFocus, focus)
}

func TestBuildFallbackSection_SingleAuthorHasNoNote(t *testing.T) {
	tf := Timeframe{Period: PeriodMonthly, End: testNow, Posts: []Post{testPost("p1", "Ann", time.Hour, "Solo post")}}
	sec := BuildFallbackSection(tf, "")
	require.Len(t, sec.Highlights, 1)
	require.Equal(t, "1 post from 1 contributor this month. The latest update came from Ann.", sec.Summary.Text)
	require.Equal(t, "This month in this capsule", sec.Articles[0].Title)
}

func TestBuildFallbackSection_Caps(t *testing.T) {
	tf := Timeframe{Period: PeriodAllTime, End: testNow, Posts: manyPosts(20, time.Hour)}
	sec := BuildFallbackSection(tf, "Hikers")
	require.Len(t, sec.Timeline, MaxTimelineEntries)
	require.Len(t, sec.Articles[0].Links, MaxArticleLinks)
	require.Equal(t, "The story of Hikers so far", sec.Articles[0].Title)
}

func TestBuildFallbackSection_PlaceholderLinkLabel(t *testing.T) {
	post := testPost("p1", "Ann", time.Hour, PlaceholderMedia)
	tf := Timeframe{Period: PeriodWeekly, End: testNow, Posts: []Post{post}}
	sec := BuildFallbackSection(tf, "Hikers")
	require.Equal(t, "Post from Ann", sec.Articles[0].Links[0].Label)
}

func TestBlockIDs_StableAcrossRuns(t *testing.T) {
	tf := Timeframe{Period: PeriodWeekly, End: testNow, Posts: threePostsTwoAuthors()}
	a := BuildFallbackSection(tf, "Hikers")
	b := BuildFallbackSection(tf, "Hikers")
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a.Summary.ID, "blk_"))
	require.Len(t, a.Summary.ID, len("blk_")+16)
}

func TestBuildFallbackSnapshot(t *testing.T) {
	posts := threePostsTwoAuthors()
	frames := BuildTimeframes(posts, testNow)
	snap := BuildFallbackSnapshot("c1", strPtr("Hikers"), frames, BuildSources(posts))

	require.Equal(t, "c1", snap.CapsuleID)
	require.Len(t, snap.Sections, 3)
	require.True(t, snap.GeneratedAt.Equal(testNow))
	require.Len(t, snap.Sources, 3)

	sec, ok := snap.Section(PeriodMonthly)
	require.True(t, ok)
	require.Equal(t, 3, sec.PostCount)
}
