package history

import (
	"sort"
	"time"
	"unicode/utf8"
)

// MinCandidateHighlightChars is the shortest highlight offered as a curation candidate.
const MinCandidateHighlightChars = 40

// Candidate is raw material offered to editors for manual curation.
type Candidate struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Text      string        `json:"text"`
	PostID    *string       `json:"postId,omitempty"`
	SourceIDs []string      `json:"sourceIds"`
	Author    *string       `json:"author,omitempty"`
	CreatedAt *time.Time    `json:"createdAt,omitempty"`
	Permalink *string       `json:"permalink,omitempty"`
	Metrics   SourceMetrics `json:"metrics"`
	Pinned    bool          `json:"pinned"`
}

// Version is an edit log entry as shown in a section's history.
type Version struct {
	ID         string  `json:"id"`
	EditorID   string  `json:"editorId"`
	ChangeType string  `json:"changeType"`
	Reason     *string `json:"reason,omitempty"`
	CreatedAt  int64   `json:"createdAt"`
}

// Section is one fully composed period.
type Section struct {
	Period            Period          `json:"period"`
	Title             string          `json:"title"`
	Suggested         StoredSection   `json:"suggested"`
	Published         *StoredSection  `json:"published"`
	Coverage          Coverage        `json:"coverage"`
	Settings          SectionSettings `json:"settings"`
	TemplateID        string          `json:"templateId"`
	ExcludedPostIDs   []string        `json:"excludedPostIds"`
	Pins              []Pin           `json:"pins"`
	DetachedPinIDs    []string        `json:"detachedPinIds"`
	Candidates        []Candidate     `json:"candidates"`
	Versions          []Version       `json:"versions"`
	FirstEditedAt     *int64          `json:"firstEditedAt"`
	LastEditedAt      *int64          `json:"lastEditedAt"`
	LastEditedBy      *string         `json:"lastEditedBy"`
	PublishedOutdated bool            `json:"publishedOutdated"`
}

// Effective returns the published section when present, else the suggested one.
func (s *Section) Effective() StoredSection {
	if s.Published != nil {
		return *s.Published
	}
	return s.Suggested
}

// Snapshot is the composed history returned to callers.
type Snapshot struct {
	CapsuleID            string            `json:"capsuleId"`
	CapsuleName          *string           `json:"capsuleName"`
	SuggestedGeneratedAt *time.Time        `json:"suggestedGeneratedAt"`
	PublishedGeneratedAt *time.Time        `json:"publishedGeneratedAt"`
	PublishedBy          *string           `json:"publishedBy"`
	LatestPostAt         *time.Time        `json:"latestPostAt"`
	PostCount            int               `json:"postCount"`
	PromptMemory         PromptMemory      `json:"promptMemory"`
	CapsuleTemplates     map[Period]string `json:"capsuleTemplates"`
	Templates            []Template        `json:"templates"`
	Sources              map[string]Source `json:"sources"`
	Sections             []Section         `json:"sections"`
}

// Section returns the composed section for a period.
func (s *Snapshot) Section(p Period) (*Section, bool) {
	for i := range s.Sections {
		if s.Sections[i].Period == p {
			return &s.Sections[i], true
		}
	}
	return nil, false
}

// ComposeInput carries persisted state and editorial overlays for composition.
type ComposeInput struct {
	CapsuleID   string
	CapsuleName *string
	Record      *SnapshotRecord
	Settings    []SectionSettings
	Pins        []Pin
	Exclusions  []Exclusion
	Edits       []Edit
	Now         time.Time
}

// Compose merges suggested and published snapshots with overlays.
// Every period is always present in the result.
func Compose(in ComposeInput) *Snapshot {
	rec := in.Record
	if rec == nil {
		rec = &SnapshotRecord{CapsuleID: in.CapsuleID}
	}
	out := &Snapshot{
		CapsuleID:            in.CapsuleID,
		CapsuleName:          in.CapsuleName,
		SuggestedGeneratedAt: rec.SuggestedGeneratedAt,
		PublishedGeneratedAt: rec.PublishedGeneratedAt,
		PublishedBy:          rec.PublishedBy,
		LatestPostAt:         rec.SuggestedLatestPostAt,
		PostCount:            rec.SuggestedPostCount,
		CapsuleTemplates:     map[Period]string{},
		Sources:              map[string]Source{},
	}
	if rec.PromptMemory != nil {
		out.PromptMemory = *rec.PromptMemory
	}
	for p, id := range rec.Templates {
		out.CapsuleTemplates[p] = id
	}
	if all, err := Templates(); err == nil {
		out.Templates = all
	}
	if rec.Suggested != nil {
		for id, src := range rec.Suggested.Sources {
			out.Sources[id] = src
		}
	}
	if rec.Published != nil {
		for id, src := range rec.Published.Sources {
			if _, ok := out.Sources[id]; !ok {
				out.Sources[id] = src
			}
		}
	}

	excluded := ExcludedByPeriod(in.Exclusions, in.Settings)
	name := ""
	if in.CapsuleName != nil {
		name = *in.CapsuleName
	}
	for _, p := range Periods {
		out.Sections = append(out.Sections, composeSection(p, in, rec, excluded[p], out.Sources, name))
	}
	return out
}

func composeSection(p Period, in ComposeInput, rec *SnapshotRecord, excluded map[string]bool, sources map[string]Source, capsuleName string) Section {
	sec := Section{
		Period:          p,
		Title:           p.Title(),
		Pins:            []Pin{},
		DetachedPinIDs:  []string{},
		Candidates:      []Candidate{},
		Versions:        []Version{},
		ExcludedPostIDs: []string{},
	}

	if stored, ok := rec.Suggested.Section(p); ok {
		sec.Suggested = CloneSection(*stored)
	} else {
		sec.Suggested = BuildFallbackSection(Timeframe{Period: p, End: in.Now, Posts: []Post{}}, capsuleName)
	}
	if stored, ok := rec.Published.Section(p); ok {
		published := CloneSection(*stored)
		sec.Published = &published
	}

	if cov, ok := rec.Coverage[p]; ok {
		sec.Coverage = cov
	} else {
		sec.Coverage = EmptyCoverage()
	}

	sec.Settings = SectionSettings{CapsuleID: in.CapsuleID, Period: p}
	for _, s := range in.Settings {
		if s.Period == p {
			sec.Settings = s
			break
		}
	}
	sec.ExcludedPostIDs = unionExcluded(sec.Settings.ExcludedPostIDs, in.Exclusions, p)
	sec.Settings.ExcludedPostIDs = sec.ExcludedPostIDs
	sec.TemplateID = ResolveTemplate(sec.Settings.TemplateID, rec.Templates[p]).ID

	for _, pin := range in.Pins {
		if pin.Period == p {
			sec.Pins = append(sec.Pins, pin)
		}
	}
	sort.SliceStable(sec.Pins, func(i, j int) bool { return sec.Pins[i].Rank < sec.Pins[j].Rank })
	if detached := ApplyPins(&sec.Suggested, sec.Pins); detached != nil {
		sec.DetachedPinIDs = detached
	}
	if sec.Published != nil {
		ApplyPins(sec.Published, sec.Pins)
	}

	sec.Candidates = buildCandidates(sec.Suggested, excluded, sources)
	applyVersions(&sec, in.Edits)

	pub, sug := rec.PublishedPeriodHashes[p], rec.SuggestedPeriodHashes[p]
	sec.PublishedOutdated = sec.Published != nil && pub != "" && sug != "" && pub != sug
	return sec
}

// unionExcluded returns the de-duplicated union of the settings projection
// and the discrete exclusion rows for a period.
func unionExcluded(fromSettings []string, exclusions []Exclusion, p Period) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range fromSettings {
		add(id)
	}
	for _, e := range exclusions {
		if e.Period == p {
			add(e.PostID)
		}
	}
	return out
}

func candidateFromSource(c *Candidate, sources map[string]Source) {
	for _, id := range c.SourceIDs {
		src, ok := sources[id]
		if !ok {
			continue
		}
		c.Metrics = src.Metrics
		if c.Author == nil {
			c.Author = src.Author
		}
		if c.CreatedAt == nil {
			c.CreatedAt = src.CreatedAt
		}
		if c.PostID == nil {
			postID := src.PostID
			c.PostID = &postID
		}
		if c.Permalink == nil && src.Permalink != "" {
			permalink := src.Permalink
			c.Permalink = &permalink
		}
		return
	}
}

func sourcesExcluded(ids []string, sources map[string]Source, excluded map[string]bool) bool {
	for _, id := range ids {
		if src, ok := sources[id]; ok && excluded[src.PostID] {
			return true
		}
	}
	return false
}

func buildCandidates(s StoredSection, excluded map[string]bool, sources map[string]Source) []Candidate {
	out := []Candidate{}
	seen := make(map[string]bool)
	for _, e := range s.Timeline {
		if seen[e.ID] || (e.PostID != nil && excluded[*e.PostID]) {
			continue
		}
		seen[e.ID] = true
		c := Candidate{
			ID:        e.ID,
			Kind:      PinTimeline,
			Text:      e.Detail,
			PostID:    e.PostID,
			SourceIDs: append([]string{}, e.SourceIDs...),
			CreatedAt: e.Timestamp,
			Permalink: e.Permalink,
			Pinned:    e.Pinned,
		}
		candidateFromSource(&c, sources)
		out = append(out, c)
	}
	for _, h := range s.Highlights {
		if seen[h.ID] || utf8.RuneCountInString(h.Text) < MinCandidateHighlightChars {
			continue
		}
		if sourcesExcluded(h.SourceIDs, sources, excluded) {
			continue
		}
		seen[h.ID] = true
		c := Candidate{
			ID:        h.ID,
			Kind:      PinHighlight,
			Text:      h.Text,
			SourceIDs: append([]string{}, h.SourceIDs...),
			Pinned:    h.Pinned,
		}
		candidateFromSource(&c, sources)
		out = append(out, c)
	}
	return out
}

// applyVersions attaches the period's edit log, newest first.
func applyVersions(sec *Section, edits []Edit) {
	var mine []Edit
	for _, e := range edits {
		if e.Period != nil && *e.Period == sec.Period {
			mine = append(mine, e)
		}
	}
	if len(mine) == 0 {
		return
	}
	sort.SliceStable(mine, func(i, j int) bool {
		if mine[i].CreatedAt != mine[j].CreatedAt {
			return mine[i].CreatedAt < mine[j].CreatedAt
		}
		return mine[i].ID < mine[j].ID
	})

	first, last := mine[0], mine[len(mine)-1]
	sec.FirstEditedAt = &first.CreatedAt
	sec.LastEditedAt = &last.CreatedAt
	sec.LastEditedBy = &last.EditorID

	for i := len(mine) - 1; i >= 0; i-- {
		e := mine[i]
		sec.Versions = append(sec.Versions, Version{
			ID:         e.ID,
			EditorID:   e.EditorID,
			ChangeType: e.ChangeType,
			Reason:     e.Reason,
			CreatedAt:  e.CreatedAt,
		})
	}
}
