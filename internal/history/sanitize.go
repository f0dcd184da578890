package history

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hpungsan/almanac/internal/capsule"
)

// Content length caps.
const (
	MaxSummaryChars    = 420
	MaxHighlightChars  = 200
	MaxParagraphChars  = 600
	MaxArticleTitle    = 120
	MaxTimelineLabel   = 120
	MaxTimelineDetail  = 200
	MaxNextFocusChars  = 160
	MaxLinkLabelChars  = 80
	MaxPayloadPostText = 280
)

// Content count caps.
const (
	MaxHighlights         = 5
	MaxTimelineEntries    = 6
	MaxNextFocus          = 4
	MaxArticleLinks       = 4
	MaxArticles           = 4
	MaxArticleParagraphs  = 2
	MaxPayloadPosts       = 150
	DefaultPostFetchLimit = 200
)

// strictPolicy strips every tag; safe for concurrent use once built.
var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips markup, unescapes entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return capsule.CollapseWhitespace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// Truncate caps s at max runes, ending with an ellipsis when shortened.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:max-1]), " ,;:.-")
	return cut + "…"
}

// CleanLine cleans and caps s; the result is empty when nothing usable remains.
func CleanLine(s string, max int) string {
	return Truncate(CleanText(s), max)
}

// BlockID derives a stable content-block id from its position and seed text.
func BlockID(period Period, kind string, index int, seed string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", period, kind, index, seed)))
	return "blk_" + hex.EncodeToString(sum[:8])
}

// SourceID returns the provenance id for a post.
func SourceID(postID string) string {
	return "post:" + postID
}

// Permalink returns the canonical path of a post within a capsule.
func Permalink(capsuleID, postID string) string {
	return fmt.Sprintf("/capsules/%s/posts/%s", capsuleID, postID)
}
