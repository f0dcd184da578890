package history

import (
	"errors"
	"strings"
)

// ErrEmptySummary is returned when editor content has no usable summary.
var ErrEmptySummary = errors.New("section summary must not be empty")

// SanitizeEditorSection cleans editor-supplied content for publishing.
// Text is cleaned and capped like model output, blank blocks are dropped,
// missing block ids are derived, and overlay state is cleared.
func SanitizeEditorSection(p Period, in StoredSection) (StoredSection, error) {
	summary := CleanLine(in.Summary.Text, MaxSummaryChars)
	if summary == "" {
		return StoredSection{}, ErrEmptySummary
	}

	out := StoredSection{
		Period:     p,
		Title:      CleanLine(in.Title, MaxArticleTitle),
		Start:      in.Start,
		End:        in.End,
		PostCount:  in.PostCount,
		IsEmpty:    in.IsEmpty,
		Origin:     OriginEditor,
		Summary:    editorBlock(p, "summary", 0, in.Summary, summary),
		Highlights: editorBlocks(p, "highlight", in.Highlights, MaxHighlightChars, MaxHighlights),
		Articles:   []Article{},
		Timeline:   []TimelineEntry{},
		NextFocus:  editorBlocks(p, "next_focus", in.NextFocus, MaxNextFocusChars, MaxNextFocus),
	}
	if out.Title == "" {
		out.Title = p.Title()
	}

	for _, a := range in.Articles {
		title := CleanLine(a.Title, MaxArticleTitle)
		paragraphs := []string{}
		for _, para := range a.Paragraphs {
			if text := CleanLine(para, MaxParagraphChars); text != "" && len(paragraphs) < MaxArticleParagraphs {
				paragraphs = append(paragraphs, text)
			}
		}
		if title == "" || len(paragraphs) == 0 {
			continue
		}
		links := []ArticleLink{}
		for _, l := range a.Links {
			label := CleanLine(l.Label, MaxLinkLabelChars)
			u, ok := validLinkURL(l.URL)
			if label != "" && ok && len(links) < MaxArticleLinks {
				links = append(links, ArticleLink{Label: label, URL: u})
			}
		}
		block := editorBlock(p, "article", len(out.Articles), a.ContentBlock, title)
		block.Text = strings.Join(paragraphs, "\n\n")
		out.Articles = append(out.Articles, Article{ContentBlock: block, Title: title, Paragraphs: paragraphs, Links: links})
		if len(out.Articles) == MaxArticles {
			break
		}
	}

	for _, e := range in.Timeline {
		label := CleanLine(e.Label, MaxTimelineLabel)
		detail := CleanLine(e.Detail, MaxTimelineDetail)
		if label == "" || detail == "" {
			continue
		}
		entry := e
		entry.ContentBlock = editorBlock(p, "timeline", len(out.Timeline), e.ContentBlock, detail)
		entry.Label = label
		entry.Detail = detail
		out.Timeline = append(out.Timeline, entry)
		if len(out.Timeline) == MaxTimelineEntries {
			break
		}
	}
	return out, nil
}

func editorBlock(p Period, kind string, index int, in ContentBlock, text string) ContentBlock {
	id := in.ID
	if id == "" {
		id = BlockID(p, kind, index, text)
	}
	sources := append([]string{}, in.SourceIDs...)
	return ContentBlock{ID: id, Text: text, SourceIDs: sources}
}

func editorBlocks(p Period, kind string, in []ContentBlock, max, limit int) []ContentBlock {
	out := []ContentBlock{}
	for _, b := range in {
		text := CleanLine(b.Text, max)
		if text == "" {
			continue
		}
		out = append(out, editorBlock(p, kind, len(out), b, text))
		if len(out) == limit {
			break
		}
	}
	return out
}
