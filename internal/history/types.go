// Package history builds the narrative history of a capsule: deterministic
// and model-assisted section generation, coverage metrics, and composition of
// suggested/published snapshots with editorial overlays.
package history

import "time"

// Period is one of the three fixed history granularities.
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "all_time"
)

// Periods lists every period in display order.
var Periods = []Period{PeriodWeekly, PeriodMonthly, PeriodAllTime}

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, bool) {
	switch p := Period(s); p {
	case PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return p, true
	}
	return "", false
}

// Title returns the display title for a period.
func (p Period) Title() string {
	switch p {
	case PeriodWeekly:
		return "This week"
	case PeriodMonthly:
		return "This month"
	default:
		return "All time"
	}
}

// Window returns the look-back window for a period; zero means unbounded.
func (p Period) Window() time.Duration {
	switch p {
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Post is a normalized activity record derived from a raw post row.
type Post struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"createdAt"`
	Author    *string    `json:"author"`
	AuthorID  string     `json:"authorId,omitempty"`
	HasMedia  bool       `json:"hasMedia"`
	Permalink string     `json:"permalink,omitempty"`
	Likes     int        `json:"likes,omitempty"`
	Comments  int        `json:"comments,omitempty"`
}

// Timeframe is one period's window and the posts falling in it.
type Timeframe struct {
	Period Period     `json:"period"`
	Start  *time.Time `json:"start"`
	End    time.Time  `json:"end"`
	Posts  []Post     `json:"posts"`
}

// ContentBlock is the atomic unit of generated narrative text.
// Pinned, PinID and Note are editorial overlay state set during composition.
type ContentBlock struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	SourceIDs []string `json:"sourceIds"`
	Pinned    bool     `json:"pinned,omitempty"`
	PinID     string   `json:"pinId,omitempty"`
	Note      string   `json:"note,omitempty"`
}

// ArticleLink is a labelled link attached to an article.
type ArticleLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Article is a short synthesized write-up for a period.
type Article struct {
	ContentBlock
	Title      string        `json:"title"`
	Paragraphs []string      `json:"paragraphs"`
	Links      []ArticleLink `json:"links"`
}

// TimelineEntry is one dated event in a period's timeline.
type TimelineEntry struct {
	ContentBlock
	Label     string     `json:"label"`
	Detail    string     `json:"detail"`
	Timestamp *time.Time `json:"timestamp"`
	PostID    *string    `json:"postId"`
	Permalink *string    `json:"permalink"`
}

// Section origins.
const (
	OriginModel    = "model"
	OriginFallback = "fallback"
	OriginMixed    = "mixed"
	OriginEditor   = "editor"
)

// StoredSection is one period of a persisted snapshot.
type StoredSection struct {
	Period     Period          `json:"period"`
	Title      string          `json:"title"`
	Start      *time.Time      `json:"start"`
	End        time.Time       `json:"end"`
	PostCount  int             `json:"postCount"`
	IsEmpty    bool            `json:"isEmpty"`
	Origin     string          `json:"origin"`
	Summary    ContentBlock    `json:"summary"`
	Highlights []ContentBlock  `json:"highlights"`
	Articles   []Article       `json:"articles"`
	Timeline   []TimelineEntry `json:"timeline"`
	NextFocus  []ContentBlock  `json:"nextFocus"`
}

// SourceMetrics carries engagement counters for a source.
type SourceMetrics struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
}

// Source is a provenance record linking generated content to an originating post.
type Source struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	PostID    string        `json:"postId"`
	Author    *string       `json:"author"`
	CreatedAt *time.Time    `json:"createdAt"`
	Permalink string        `json:"permalink"`
	Kind      string        `json:"kind"`
	Excerpt   string        `json:"excerpt"`
	Metrics   SourceMetrics `json:"metrics"`
}

// StoredSnapshot is the persisted unit of generated content for one capsule.
type StoredSnapshot struct {
	CapsuleID   string            `json:"capsuleId"`
	CapsuleName *string           `json:"capsuleName"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Sections    []StoredSection   `json:"sections"`
	Sources     map[string]Source `json:"sources"`
}

// Section returns the stored section for a period, if present.
func (s *StoredSnapshot) Section(p Period) (*StoredSection, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Sections {
		if s.Sections[i].Period == p {
			return &s.Sections[i], true
		}
	}
	return nil, false
}

// Pin types.
const (
	PinSummary   = "summary"
	PinHighlight = "highlight"
	PinTimeline  = "timeline"
	PinNextFocus = "next_focus"
)

// ValidPinType reports whether t is a known pin type.
func ValidPinType(t string) bool {
	switch t {
	case PinSummary, PinHighlight, PinTimeline, PinNextFocus:
		return true
	}
	return false
}

// Pin is an editorial marker promoting a content block.
type Pin struct {
	ID        string  `json:"id"`
	CapsuleID string  `json:"capsuleId"`
	Period    Period  `json:"period"`
	Type      string  `json:"type"`
	Rank      int     `json:"rank"`
	PostID    *string `json:"postId,omitempty"`
	Quote     *string `json:"quote,omitempty"`
	Source    string  `json:"source"`
	Note      *string `json:"note,omitempty"`
	CreatedBy string  `json:"createdBy"`
	CreatedAt int64   `json:"createdAt"`
}

// Exclusion removes a post from generation for one period.
type Exclusion struct {
	ID        string  `json:"id"`
	CapsuleID string  `json:"capsuleId"`
	Period    Period  `json:"period"`
	PostID    string  `json:"postId"`
	Reason    *string `json:"reason,omitempty"`
	CreatedBy string  `json:"createdBy"`
	CreatedAt int64   `json:"createdAt"`
}

// SectionSettings holds per-period editorial settings.
type SectionSettings struct {
	CapsuleID           string            `json:"capsuleId"`
	Period              Period            `json:"period"`
	Notes               *string           `json:"notes,omitempty"`
	ExcludedPostIDs     []string          `json:"excludedPostIds"`
	TemplateID          *string           `json:"templateId,omitempty"`
	Tone                *string           `json:"tone,omitempty"`
	PromptOverrides     map[string]string `json:"promptOverrides,omitempty"`
	Coverage            *Coverage         `json:"coverage,omitempty"`
	DiscussionThreadURL *string           `json:"discussionThreadUrl,omitempty"`
	Metadata            map[string]any    `json:"metadata,omitempty"`
	UpdatedBy           *string           `json:"updatedBy,omitempty"`
	UpdatedAt           int64             `json:"updatedAt"`
}

// Edit change types.
const (
	ChangePublish         = "publish"
	ChangePinAdd          = "pin_add"
	ChangePinRemove       = "pin_remove"
	ChangeExclusionAdd    = "exclusion_add"
	ChangeExclusionRemove = "exclusion_remove"
	ChangeSettingsUpdate  = "settings_update"
	ChangePromptUpdate    = "prompt_update"
	ChangeRefine          = "refine"
)

// Edit is an append-only audit row.
type Edit struct {
	ID         string          `json:"id"`
	CapsuleID  string          `json:"capsuleId"`
	Period     *Period         `json:"period,omitempty"`
	EditorID   string          `json:"editorId"`
	ChangeType string          `json:"changeType"`
	Reason     *string         `json:"reason,omitempty"`
	Payload    map[string]any  `json:"payload,omitempty"`
	Snapshot   *StoredSnapshot `json:"snapshot,omitempty"`
	CreatedAt  int64           `json:"createdAt"`
}

// CoverageMetric is one entry of a coverage dimension.
type CoverageMetric struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Covered bool    `json:"covered"`
	Weight  float64 `json:"weight"`
}

// Coverage describes how much of a period's activity the narrative reflects.
type Coverage struct {
	Completeness float64          `json:"completeness"`
	Authors      []CoverageMetric `json:"authors"`
	Themes       []CoverageMetric `json:"themes"`
	TimeSpans    []CoverageMetric `json:"timeSpans"`
}

// PromptMemory is capsule-wide guidance fed into every model pass.
type PromptMemory struct {
	Guidelines string   `json:"guidelines,omitempty"`
	Tone       string   `json:"tone,omitempty"`
	Audience   string   `json:"audience,omitempty"`
	Avoid      []string `json:"avoid,omitempty"`
}

// IsZero reports whether no guidance is set.
func (m PromptMemory) IsZero() bool {
	return m.Guidelines == "" && m.Tone == "" && m.Audience == "" && len(m.Avoid) == 0
}

// SnapshotRecord is the persisted history row for one capsule.
type SnapshotRecord struct {
	CapsuleID string

	Suggested             *StoredSnapshot
	SuggestedGeneratedAt  *time.Time
	SuggestedLatestPostAt *time.Time
	SuggestedPostCount    int
	SuggestedPeriodHashes map[Period]string

	Published             *StoredSnapshot
	PublishedGeneratedAt  *time.Time
	PublishedLatestPostAt *time.Time
	PublishedPeriodHashes map[Period]string
	PublishedBy           *string

	PromptMemory *PromptMemory
	Templates    map[Period]string
	Coverage     map[Period]Coverage

	UpdatedAt int64
}
