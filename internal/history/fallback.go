package history

import (
	"fmt"
	"strings"
)

// Next-focus suggestions used by the deterministic narrative.
var (
	KickoffFocus = []string{
		"Post a kickoff recap so new members know what this capsule is about.",
		"Invite members to share their first update.",
	}
	ActiveFocus = []string{
		"Pin a recap of the highlights so members can catch up quickly.",
		"Ask members to add media to bring the next update to life.",
	}
)

// BuildFallbackSection produces the deterministic narrative for a timeframe.
// Every field is populated, even when the timeframe has no posts.
func BuildFallbackSection(tf Timeframe, capsuleName string) StoredSection {
	p := tf.Period
	summary := fallbackSummary(tf, capsuleName)
	highlights := fallbackHighlights(tf)

	section := StoredSection{
		Period:     p,
		Title:      p.Title(),
		Start:      tf.Start,
		End:        tf.End,
		PostCount:  len(tf.Posts),
		IsEmpty:    len(tf.Posts) == 0,
		Origin:     OriginFallback,
		Summary:    ContentBlock{ID: BlockID(p, "summary", 0, summary), Text: summary, SourceIDs: []string{}},
		Highlights: highlights,
		Articles:   []Article{fallbackArticle(tf, capsuleName, summary, highlights)},
		Timeline:   fallbackTimeline(tf),
		NextFocus:  fallbackNextFocus(tf),
	}
	return section
}

func displayName(capsuleName string) string {
	if name := CleanText(capsuleName); name != "" {
		return name
	}
	return "this capsule"
}

func periodPhrase(p Period) string {
	switch p {
	case PeriodWeekly:
		return "this week"
	case PeriodMonthly:
		return "this month"
	default:
		return "so far"
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

func authorOrDefault(p Post, fallback string) string {
	if p.Author != nil && *p.Author != "" {
		return *p.Author
	}
	return fallback
}

func fallbackSummary(tf Timeframe, capsuleName string) string {
	name := displayName(capsuleName)
	if len(tf.Posts) == 0 {
		if tf.Period == PeriodAllTime {
			return fmt.Sprintf("No posts have been shared in %s yet.", name)
		}
		return fmt.Sprintf("No activity recorded in %s %s.", name, periodPhrase(tf.Period))
	}
	latest := tf.Posts[0]
	s := fmt.Sprintf("%s from %s %s. The latest update came from %s.",
		plural(len(tf.Posts), "post", "posts"),
		plural(DistinctAuthors(tf.Posts), "contributor", "contributors"),
		periodPhrase(tf.Period),
		authorOrDefault(latest, "a community member"))
	return Truncate(s, MaxSummaryChars)
}

func fallbackHighlights(tf Timeframe) []ContentBlock {
	highlights := []ContentBlock{}
	if len(tf.Posts) == 0 {
		return highlights
	}
	latest := tf.Posts[0]
	text := Truncate(latest.Content, MaxHighlightChars)
	highlights = append(highlights, ContentBlock{
		ID:        BlockID(tf.Period, "highlight", 0, text),
		Text:      text,
		SourceIDs: []string{SourceID(latest.ID)},
	})
	if n := DistinctAuthors(tf.Posts); n > 1 {
		note := fmt.Sprintf("%d contributors shared updates %s.", n, periodPhrase(tf.Period))
		highlights = append(highlights, ContentBlock{
			ID:        BlockID(tf.Period, "highlight", 1, note),
			Text:      note,
			SourceIDs: []string{},
		})
	}
	return highlights
}

func articleTitle(p Period, capsuleName string) string {
	name := displayName(capsuleName)
	switch p {
	case PeriodWeekly:
		return Truncate("This week in "+name, MaxArticleTitle)
	case PeriodMonthly:
		return Truncate("This month in "+name, MaxArticleTitle)
	default:
		return Truncate("The story of "+name+" so far", MaxArticleTitle)
	}
}

func isPlaceholder(content string) bool {
	return content == PlaceholderMedia || content == PlaceholderUpdate
}

func fallbackArticle(tf Timeframe, capsuleName, summary string, highlights []ContentBlock) Article {
	paragraphs := []string{Truncate(summary, MaxParagraphChars)}
	for _, h := range highlights {
		if h.Text != "" && h.Text != summary {
			paragraphs = append(paragraphs, Truncate(h.Text, MaxParagraphChars))
			break
		}
	}
	if len(paragraphs) > MaxArticleParagraphs {
		paragraphs = paragraphs[:MaxArticleParagraphs]
	}

	links := []ArticleLink{}
	sourceIDs := []string{}
	for i, post := range tf.Posts {
		if i >= MaxArticleLinks {
			break
		}
		label := Truncate(post.Content, MaxLinkLabelChars)
		if isPlaceholder(post.Content) {
			label = "Post from " + authorOrDefault(post, "a member")
		}
		links = append(links, ArticleLink{Label: label, URL: post.Permalink})
		sourceIDs = append(sourceIDs, SourceID(post.ID))
	}

	title := articleTitle(tf.Period, capsuleName)
	return Article{
		ContentBlock: ContentBlock{
			ID:        BlockID(tf.Period, "article", 0, title),
			Text:      strings.Join(paragraphs, "\n\n"),
			SourceIDs: sourceIDs,
		},
		Title:      title,
		Paragraphs: paragraphs,
		Links:      links,
	}
}

func fallbackTimeline(tf Timeframe) []TimelineEntry {
	entries := []TimelineEntry{}
	for i, post := range tf.Posts {
		if i >= MaxTimelineEntries {
			break
		}
		label := "New update"
		if post.Author != nil && *post.Author != "" {
			label = Truncate("Update from "+*post.Author, MaxTimelineLabel)
		}
		detail := Truncate(post.Content, MaxTimelineDetail)
		postID := post.ID
		permalink := post.Permalink
		entries = append(entries, TimelineEntry{
			ContentBlock: ContentBlock{
				ID:        BlockID(tf.Period, "timeline", i, post.ID+"|"+detail),
				Text:      detail,
				SourceIDs: []string{SourceID(post.ID)},
			},
			Label:     label,
			Detail:    detail,
			Timestamp: post.CreatedAt,
			PostID:    &postID,
			Permalink: &permalink,
		})
	}
	return entries
}

func fallbackNextFocus(tf Timeframe) []ContentBlock {
	lines := ActiveFocus
	if len(tf.Posts) == 0 {
		lines = KickoffFocus
	}
	out := make([]ContentBlock, 0, len(lines))
	for i, line := range lines {
		out = append(out, ContentBlock{
			ID:        BlockID(tf.Period, "next_focus", i, line),
			Text:      line,
			SourceIDs: []string{},
		})
	}
	return out
}

// BuildFallbackSnapshot runs the deterministic builder over every timeframe.
func BuildFallbackSnapshot(capsuleID string, capsuleName *string, frames []Timeframe, sources map[string]Source) *StoredSnapshot {
	name := ""
	if capsuleName != nil {
		name = *capsuleName
	}
	snap := &StoredSnapshot{
		CapsuleID:   capsuleID,
		CapsuleName: capsuleName,
		Sources:     sources,
	}
	for _, tf := range frames {
		snap.Sections = append(snap.Sections, BuildFallbackSection(tf, name))
	}
	if len(frames) > 0 {
		snap.GeneratedAt = frames[0].End
	}
	if snap.Sources == nil {
		snap.Sources = map[string]Source{}
	}
	return snap
}
