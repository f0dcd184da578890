package history

import (
	"fmt"
	"sort"
)

// EmptyCoverage is the coverage of a period without posts.
func EmptyCoverage() Coverage {
	return Coverage{
		Completeness: 0,
		Authors:      []CoverageMetric{},
		Themes:       []CoverageMetric{},
		TimeSpans:    []CoverageMetric{},
	}
}

// ComputeCoverage measures how much of a timeframe's activity the section reflects.
func ComputeCoverage(tf Timeframe, section StoredSection) Coverage {
	total := len(tf.Posts)
	if total == 0 {
		return EmptyCoverage()
	}

	summary := 0
	if section.Summary.Text != "" {
		summary = 1
	}
	completeness := float64(summary+len(section.Highlights)+len(section.Timeline)) / float64(total)
	if completeness > 1 {
		completeness = 1
	}

	timelinePosts := make(map[string]bool)
	for _, e := range section.Timeline {
		if e.PostID != nil {
			timelinePosts[*e.PostID] = true
		}
	}
	referenced := make(map[string]bool)
	for id := range timelinePosts {
		referenced[SourceID(id)] = true
	}
	for _, b := range section.Highlights {
		for _, id := range b.SourceIDs {
			referenced[id] = true
		}
	}
	for _, a := range section.Articles {
		for _, id := range a.SourceIDs {
			referenced[id] = true
		}
	}

	return Coverage{
		Completeness: completeness,
		Authors:      authorCoverage(tf.Posts, timelinePosts),
		Themes:       themeCoverage(tf.Posts, timelinePosts),
		TimeSpans:    timeSpanCoverage(tf.Posts, referenced),
	}
}

func authorCoverage(posts []Post, timelinePosts map[string]bool) []CoverageMetric {
	type agg struct {
		label   string
		count   int
		covered bool
	}
	byAuthor := make(map[string]*agg)
	var order []string
	for _, p := range posts {
		key := authorKey(p)
		a, ok := byAuthor[key]
		if !ok {
			a = &agg{label: authorOrDefault(p, "Unknown member")}
			byAuthor[key] = a
			order = append(order, key)
		}
		a.count++
		if timelinePosts[p.ID] {
			a.covered = true
		}
	}
	out := make([]CoverageMetric, 0, len(order))
	for _, key := range order {
		a := byAuthor[key]
		id := key
		if id == "" {
			id = "unknown"
		}
		out = append(out, CoverageMetric{
			ID:      "author:" + id,
			Label:   a.label,
			Covered: a.covered,
			Weight:  float64(a.count) / float64(len(posts)),
		})
	}
	return out
}

func themeCoverage(posts []Post, timelinePosts map[string]bool) []CoverageMetric {
	counts := make(map[string]int)
	covered := make(map[string]bool)
	for _, p := range posts {
		counts[p.Kind]++
		if timelinePosts[p.ID] {
			covered[p.Kind] = true
		}
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if counts[kinds[i]] != counts[kinds[j]] {
			return counts[kinds[i]] > counts[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	out := make([]CoverageMetric, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, CoverageMetric{
			ID:      "kind:" + k,
			Label:   k,
			Covered: covered[k],
			Weight:  float64(counts[k]) / float64(len(posts)),
		})
	}
	return out
}

var segmentLabels = []string{"Earliest", "Middle", "Latest"}

// timeSpanCoverage splits posts into three chronological segments.
func timeSpanCoverage(posts []Post, referenced map[string]bool) []CoverageMetric {
	ordered := append([]Post(nil), posts...)
	SortNewestFirst(ordered)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}

	n := len(ordered)
	out := []CoverageMetric{}
	for seg := 0; seg < 3; seg++ {
		lo, hi := seg*n/3, (seg+1)*n/3
		if lo == hi {
			continue
		}
		covered := false
		for _, p := range ordered[lo:hi] {
			if referenced[SourceID(p.ID)] {
				covered = true
				break
			}
		}
		out = append(out, CoverageMetric{
			ID:      fmt.Sprintf("span:%d", seg+1),
			Label:   segmentLabels[seg],
			Covered: covered,
			Weight:  float64(hi-lo) / float64(n),
		})
	}
	return out
}

// ComputeCoverageMap computes coverage for every section of a snapshot.
func ComputeCoverageMap(frames []Timeframe, snap *StoredSnapshot) map[Period]Coverage {
	out := make(map[Period]Coverage, len(Periods))
	for _, tf := range frames {
		sec, ok := snap.Section(tf.Period)
		if !ok {
			out[tf.Period] = EmptyCoverage()
			continue
		}
		out[tf.Period] = ComputeCoverage(tf, *sec)
	}
	return out
}
