package history

import (
	"sort"
	"strings"
)

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func pinQuote(pin Pin) string {
	if pin.Quote == nil {
		return ""
	}
	return strings.ToLower(CleanText(*pin.Quote))
}

func pinPostID(pin Pin) string {
	if pin.PostID == nil {
		return ""
	}
	return *pin.PostID
}

// matchesBlock reports whether a highlight or next-focus pin selects b.
func matchesBlock(pin Pin, b ContentBlock) bool {
	if q := pinQuote(pin); q != "" && strings.ToLower(b.Text) == q {
		return true
	}
	if id := pinPostID(pin); id != "" && containsString(b.SourceIDs, SourceID(id)) {
		return true
	}
	return false
}

func markPinned(b *ContentBlock, pin Pin) {
	b.Pinned = true
	b.PinID = pin.ID
	if pin.Note != nil {
		b.Note = *pin.Note
	}
}

func pinBlocks(blocks []ContentBlock, pin Pin) bool {
	for i := range blocks {
		if !blocks[i].Pinned && matchesBlock(pin, blocks[i]) {
			markPinned(&blocks[i], pin)
			return true
		}
	}
	return false
}

func pinTimeline(entries []TimelineEntry, pin Pin) bool {
	if id := pinPostID(pin); id != "" {
		for i := range entries {
			if !entries[i].Pinned && entries[i].PostID != nil && *entries[i].PostID == id {
				markPinned(&entries[i].ContentBlock, pin)
				return true
			}
		}
	}
	if q := pinQuote(pin); q != "" {
		for i := range entries {
			if !entries[i].Pinned && strings.Contains(strings.ToLower(entries[i].Detail), q) {
				markPinned(&entries[i].ContentBlock, pin)
				return true
			}
		}
	}
	return false
}

// ApplyPins marks the blocks of section selected by pins. Matching is
// best-effort; it returns the ids of pins that attached to nothing.
func ApplyPins(section *StoredSection, pins []Pin) []string {
	ordered := append([]Pin(nil), pins...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })

	var detached []string
	for _, pin := range ordered {
		if pin.Period != section.Period {
			continue
		}
		attached := false
		switch pin.Type {
		case PinSummary:
			if !section.Summary.Pinned {
				markPinned(&section.Summary, pin)
				attached = true
			}
		case PinHighlight:
			attached = pinBlocks(section.Highlights, pin)
		case PinNextFocus:
			attached = pinBlocks(section.NextFocus, pin)
		case PinTimeline:
			attached = pinTimeline(section.Timeline, pin)
		}
		if !attached {
			detached = append(detached, pin.ID)
		}
	}
	return detached
}

// CloneSection deep-copies the mutable parts of a section.
func CloneSection(s StoredSection) StoredSection {
	out := s
	out.Summary = cloneBlock(s.Summary)
	out.Highlights = cloneBlocks(s.Highlights)
	out.NextFocus = cloneBlocks(s.NextFocus)
	out.Articles = make([]Article, len(s.Articles))
	for i, a := range s.Articles {
		a.ContentBlock = cloneBlock(a.ContentBlock)
		a.Paragraphs = append([]string{}, a.Paragraphs...)
		a.Links = append([]ArticleLink{}, a.Links...)
		out.Articles[i] = a
	}
	out.Timeline = make([]TimelineEntry, len(s.Timeline))
	for i, e := range s.Timeline {
		e.ContentBlock = cloneBlock(e.ContentBlock)
		out.Timeline[i] = e
	}
	return out
}

func cloneBlock(b ContentBlock) ContentBlock {
	b.SourceIDs = append([]string{}, b.SourceIDs...)
	return b
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = cloneBlock(b)
	}
	return out
}
