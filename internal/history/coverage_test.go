package history

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/almanac/internal/capsule"
)

func TestComputeCoverage_Empty(t *testing.T) {
	tf := Timeframe{Period: PeriodWeekly, End: testNow, Posts: []Post{}}
	got := ComputeCoverage(tf, BuildFallbackSection(tf, "Hikers"))
	if diff := cmp.Diff(EmptyCoverage(), got); diff != "" {
		t.Errorf("ComputeCoverage() mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeCoverage_Partial(t *testing.T) {
	posts := []Post{
		testPost("p1", "Ann", 1*time.Hour, "one"),
		testPost("p2", "Ann", 2*time.Hour, "two"),
		testPost("p3", "Ann", 3*time.Hour, "three"),
		testPost("p4", "Bob", 4*time.Hour, "four"),
		testPost("p5", "Bob", 5*time.Hour, "five"),
		testPost("p6", "Bob", 6*time.Hour, "six"),
	}
	posts[0].Kind = capsule.KindPhoto
	tf := Timeframe{Period: PeriodWeekly, End: testNow, Posts: posts}

	p1 := "p1"
	section := StoredSection{
		Period:  PeriodWeekly,
		Summary: ContentBlock{Text: "Summary"},
		Timeline: []TimelineEntry{{
			ContentBlock: ContentBlock{Text: "one", SourceIDs: []string{SourceID("p1")}},
			PostID:       &p1,
		}},
	}

	got := ComputeCoverage(tf, section)
	want := Coverage{
		Completeness: 2.0 / 6.0,
		Authors: []CoverageMetric{
			{ID: "author:u-Ann", Label: "Ann", Covered: true, Weight: 0.5},
			{ID: "author:u-Bob", Label: "Bob", Covered: false, Weight: 0.5},
		},
		Themes: []CoverageMetric{
			{ID: "kind:text", Label: "text", Covered: false, Weight: 5.0 / 6.0},
			{ID: "kind:photo", Label: "photo", Covered: true, Weight: 1.0 / 6.0},
		},
		TimeSpans: []CoverageMetric{
			{ID: "span:1", Label: "Earliest", Covered: false, Weight: 2.0 / 6.0},
			{ID: "span:2", Label: "Middle", Covered: false, Weight: 2.0 / 6.0},
			{ID: "span:3", Label: "Latest", Covered: true, Weight: 2.0 / 6.0},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ComputeCoverage() mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeCoverage_ClampedToOne(t *testing.T) {
	tf := weeklyFrame()
	got := ComputeCoverage(tf, BuildFallbackSection(tf, "Hikers"))
	require.Equal(t, 1.0, got.Completeness)
	for _, a := range got.Authors {
		require.True(t, a.Covered, "author %s", a.ID)
	}
}

func TestComputeCoverage_FewPostsSkipEmptySegments(t *testing.T) {
	tf := Timeframe{Period: PeriodWeekly, End: testNow, Posts: []Post{testPost("p1", "Ann", time.Hour, "one")}}
	got := ComputeCoverage(tf, BuildFallbackSection(tf, ""))
	require.Len(t, got.TimeSpans, 1)
	require.Equal(t, "Latest", got.TimeSpans[0].Label)
	require.Equal(t, 1.0, got.TimeSpans[0].Weight)
}

func TestComputeCoverageMap(t *testing.T) {
	posts := threePostsTwoAuthors()
	frames := BuildTimeframes(posts, testNow)
	snap := BuildFallbackSnapshot("c1", nil, frames, BuildSources(posts))

	got := ComputeCoverageMap(frames, snap)
	require.Len(t, got, 3)
	require.Greater(t, got[PeriodWeekly].Completeness, 0.0)
}
