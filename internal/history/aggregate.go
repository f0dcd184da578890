package history

import (
	"sort"
	"time"

	"github.com/hpungsan/almanac/internal/capsule"
)

// Placeholder content for posts without usable text.
const (
	PlaceholderMedia  = "Shared new media."
	PlaceholderUpdate = "Shared an update."
)

// NormalizePost converts a raw post row into a history Post.
// Content is never empty: posts without text get a placeholder.
func NormalizePost(capsuleID string, raw capsule.Post) Post {
	p := Post{
		ID:        raw.ID,
		Kind:      capsule.NormalizeKind(raw.Kind),
		AuthorID:  raw.AuthorID,
		HasMedia:  raw.MediaCount > 0,
		Permalink: Permalink(capsuleID, raw.ID),
		Likes:     raw.Likes,
		Comments:  raw.Comments,
	}
	if raw.CreatedAt > 0 {
		ts := time.Unix(raw.CreatedAt, 0).UTC()
		p.CreatedAt = &ts
	}
	if raw.AuthorName != nil {
		if name := CleanText(*raw.AuthorName); name != "" {
			p.Author = &name
		}
	}
	if raw.Content != nil {
		p.Content = CleanText(*raw.Content)
	}
	if p.Content == "" {
		if p.HasMedia {
			p.Content = PlaceholderMedia
		} else {
			p.Content = PlaceholderUpdate
		}
	}
	return p
}

// SortNewestFirst orders posts by creation time descending; undated posts go last.
func SortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i].CreatedAt, posts[j].CreatedAt
		switch {
		case a == nil && b == nil:
			return posts[i].ID > posts[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return posts[i].ID > posts[j].ID
		}
		return a.After(*b)
	})
}

// BuildTimeframes buckets posts into the weekly, monthly and all-time windows ending at now.
// The input order is preserved within each bucket.
func BuildTimeframes(posts []Post, now time.Time) []Timeframe {
	frames := make([]Timeframe, 0, len(Periods))
	for _, p := range Periods {
		tf := Timeframe{Period: p, End: now, Posts: []Post{}}
		if w := p.Window(); w > 0 {
			start := now.Add(-w)
			tf.Start = &start
			for _, post := range posts {
				if post.CreatedAt != nil && !post.CreatedAt.Before(start) {
					tf.Posts = append(tf.Posts, post)
				}
			}
		} else {
			tf.Posts = append(tf.Posts, posts...)
			tf.Start = EarliestPostAt(posts)
		}
		frames = append(frames, tf)
	}
	return frames
}

// ExcludedByPeriod unions discrete exclusion rows with the settings projection.
func ExcludedByPeriod(exclusions []Exclusion, settings []SectionSettings) map[Period]map[string]bool {
	out := make(map[Period]map[string]bool, len(Periods))
	for _, p := range Periods {
		out[p] = make(map[string]bool)
	}
	for _, s := range settings {
		if set, ok := out[s.Period]; ok {
			for _, id := range s.ExcludedPostIDs {
				set[id] = true
			}
		}
	}
	for _, e := range exclusions {
		if set, ok := out[e.Period]; ok {
			set[e.PostID] = true
		}
	}
	return out
}

// WithoutPosts returns a copy of tf without the excluded post ids.
func (tf Timeframe) WithoutPosts(excluded map[string]bool) Timeframe {
	if len(excluded) == 0 {
		return tf
	}
	kept := make([]Post, 0, len(tf.Posts))
	for _, p := range tf.Posts {
		if !excluded[p.ID] {
			kept = append(kept, p)
		}
	}
	tf.Posts = kept
	return tf
}

// LatestPostAt returns the newest creation time among posts.
func LatestPostAt(posts []Post) *time.Time {
	var latest *time.Time
	for i := range posts {
		if ts := posts[i].CreatedAt; ts != nil && (latest == nil || ts.After(*latest)) {
			latest = ts
		}
	}
	return latest
}

// EarliestPostAt returns the oldest creation time among posts.
func EarliestPostAt(posts []Post) *time.Time {
	var earliest *time.Time
	for i := range posts {
		if ts := posts[i].CreatedAt; ts != nil && (earliest == nil || ts.Before(*earliest)) {
			earliest = ts
		}
	}
	return earliest
}

// authorKey identifies a post's author for contributor counting.
func authorKey(p Post) string {
	if p.AuthorID != "" {
		return p.AuthorID
	}
	if p.Author != nil {
		return *p.Author
	}
	return ""
}

// DistinctAuthors counts contributors among posts.
func DistinctAuthors(posts []Post) int {
	seen := make(map[string]bool)
	for _, p := range posts {
		seen[authorKey(p)] = true
	}
	return len(seen)
}

// BuildSources creates provenance records for posts.
func BuildSources(posts []Post) map[string]Source {
	sources := make(map[string]Source, len(posts))
	for _, p := range posts {
		id := SourceID(p.ID)
		sources[id] = Source{
			ID:        id,
			Type:      "post",
			PostID:    p.ID,
			Author:    p.Author,
			CreatedAt: p.CreatedAt,
			Permalink: p.Permalink,
			Kind:      p.Kind,
			Excerpt:   Truncate(p.Content, MaxHighlightChars),
			Metrics:   SourceMetrics{Likes: p.Likes, Comments: p.Comments},
		}
	}
	return sources
}
