package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrUnusableOutput is returned when model text holds no decodable history.
var ErrUnusableOutput = errors.New("model output unusable")

func decodeObject(raw string) (map[string]any, error) {
	body, ok := ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object", ErrUnusableOutput)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusableOutput, err)
	}
	return obj, nil
}

// ParseModelOutput decodes a full generation response into per-period objects.
// Periods that are missing or not objects are left out.
func ParseModelOutput(raw string) (map[Period]map[string]any, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	if nested, ok := obj["periods"].(map[string]any); ok {
		obj = nested
	}
	out := make(map[Period]map[string]any, len(Periods))
	for _, p := range Periods {
		if section, ok := obj[string(p)].(map[string]any); ok {
			out[p] = section
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no periods", ErrUnusableOutput)
	}
	return out, nil
}

// ParseRefineOutput decodes a refinement response into one section object.
func ParseRefineOutput(raw string) (map[string]any, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	if section, ok := obj["section"].(map[string]any); ok {
		return section, nil
	}
	if _, ok := obj["summary"]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: no section", ErrUnusableOutput)
}

func stringList(v any, max, limit int) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if line := CleanLine(s, max); line != "" {
			out = append(out, line)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func stringField(obj map[string]any, key string, max int) string {
	s, _ := obj[key].(string)
	return CleanLine(s, max)
}

func validLinkURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return u.String(), true
}

// matchSources links model text back to posts it quotes.
func matchSources(text string, posts []Post) []string {
	ids := []string{}
	lower := strings.ToLower(text)
	for _, p := range posts {
		if isPlaceholder(p.Content) {
			continue
		}
		content := strings.ToLower(Truncate(p.Content, MaxHighlightChars))
		if content == lower || (len(content) >= 20 && strings.Contains(lower, content)) {
			ids = append(ids, SourceID(p.ID))
		}
	}
	return ids
}

func postIndex(posts []Post) map[string]Post {
	idx := make(map[string]Post, len(posts))
	for _, p := range posts {
		idx[p.ID] = p
	}
	return idx
}

func mergeHighlights(p Period, v any, posts []Post) []ContentBlock {
	lines := stringList(v, MaxHighlightChars, MaxHighlights)
	out := make([]ContentBlock, 0, len(lines))
	for i, line := range lines {
		out = append(out, ContentBlock{
			ID:        BlockID(p, "highlight", i, line),
			Text:      line,
			SourceIDs: matchSources(line, posts),
		})
	}
	return out
}

func mergeNextFocus(p Period, v any) []ContentBlock {
	lines := stringList(v, MaxNextFocusChars, MaxNextFocus)
	out := make([]ContentBlock, 0, len(lines))
	for i, line := range lines {
		out = append(out, ContentBlock{ID: BlockID(p, "next_focus", i, line), Text: line, SourceIDs: []string{}})
	}
	return out
}

func mergeArticles(p Period, v any, posts map[string]Post) []Article {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := []Article{}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title := stringField(obj, "title", MaxArticleTitle)
		paragraphs := stringList(obj["paragraphs"], MaxParagraphChars, MaxArticleParagraphs)
		if title == "" || len(paragraphs) == 0 {
			continue
		}
		links := []ArticleLink{}
		sourceIDs := []string{}
		if rawLinks, ok := obj["links"].([]any); ok {
			for _, rl := range rawLinks {
				lo, ok := rl.(map[string]any)
				if !ok {
					continue
				}
				label := stringField(lo, "label", MaxLinkLabelChars)
				u, _ := lo["url"].(string)
				link, ok := validLinkURL(u)
				if label == "" || !ok {
					continue
				}
				links = append(links, ArticleLink{Label: label, URL: link})
				for id, post := range posts {
					if post.Permalink == link {
						sourceIDs = append(sourceIDs, SourceID(id))
					}
				}
				if len(links) == MaxArticleLinks {
					break
				}
			}
		}
		out = append(out, Article{
			ContentBlock: ContentBlock{
				ID:        BlockID(p, "article", len(out), title),
				Text:      strings.Join(paragraphs, "\n\n"),
				SourceIDs: sourceIDs,
			},
			Title:      title,
			Paragraphs: paragraphs,
			Links:      links,
		})
		if len(out) == MaxArticles {
			break
		}
	}
	return out
}

func mergeTimeline(p Period, v any, posts map[string]Post) []TimelineEntry {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := []TimelineEntry{}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label := stringField(obj, "label", MaxTimelineLabel)
		detail := stringField(obj, "detail", MaxTimelineDetail)
		if label == "" || detail == "" {
			continue
		}
		entry := TimelineEntry{
			Label:  label,
			Detail: detail,
		}
		entry.Text = detail
		entry.SourceIDs = []string{}
		seed := detail
		if id, _ := obj["post_id"].(string); id != "" {
			if post, ok := posts[strings.TrimSpace(id)]; ok {
				postID := post.ID
				permalink := post.Permalink
				entry.PostID = &postID
				entry.Permalink = &permalink
				entry.Timestamp = post.CreatedAt
				entry.SourceIDs = []string{SourceID(post.ID)}
				seed = post.ID + "|" + detail
			}
		}
		if entry.Timestamp == nil {
			if ts, _ := obj["timestamp"].(string); ts != "" {
				if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
					parsed = parsed.UTC()
					entry.Timestamp = &parsed
				}
			}
		}
		entry.ID = BlockID(p, "timeline", len(out), seed)
		out = append(out, entry)
		if len(out) == MaxTimelineEntries {
			break
		}
	}
	return out
}

// MergeSection overlays validated model fields onto the deterministic section.
// Each field falls back independently; Origin records the mix.
func MergeSection(fallback StoredSection, model map[string]any, tf Timeframe) StoredSection {
	if model == nil {
		return fallback
	}
	out := fallback
	posts := postIndex(tf.Posts)
	p := fallback.Period
	fromModel := 0

	if summary := stringField(model, "summary", MaxSummaryChars); summary != "" {
		out.Summary = ContentBlock{ID: BlockID(p, "summary", 0, summary), Text: summary, SourceIDs: []string{}}
		fromModel++
	}
	if highlights := mergeHighlights(p, model["highlights"], tf.Posts); len(highlights) > 0 {
		out.Highlights = highlights
		fromModel++
	}
	if articles := mergeArticles(p, model["articles"], posts); len(articles) > 0 {
		out.Articles = articles
		fromModel++
	}
	if timeline := mergeTimeline(p, model["timeline"], posts); len(timeline) > 0 {
		out.Timeline = timeline
		fromModel++
	}
	if focus := mergeNextFocus(p, model["next_focus"]); len(focus) > 0 {
		out.NextFocus = focus
		fromModel++
	}

	switch fromModel {
	case 0:
		out.Origin = OriginFallback
	case 5:
		out.Origin = OriginModel
	default:
		out.Origin = OriginMixed
	}
	return out
}

// AssembleSnapshot builds the stored snapshot from timeframes, using model
// sections where available and the deterministic builder everywhere else.
func AssembleSnapshot(in GenerationInput, sources map[string]Source, model map[Period]map[string]any) *StoredSnapshot {
	snap := BuildFallbackSnapshot(in.CapsuleID, in.CapsuleName, in.Frames, sources)
	snap.GeneratedAt = in.Now
	for i := range snap.Sections {
		sec := snap.Sections[i]
		tf, ok := frameFor(in.Frames, sec.Period)
		if !ok {
			continue
		}
		snap.Sections[i] = MergeSection(sec, model[sec.Period], tf)
	}
	return snap
}
