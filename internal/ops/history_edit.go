package ops

import (
	"context"
	"database/sql"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
)

// Editorial field limits.
const (
	MaxQuoteChars    = 1000
	MaxToneChars     = 60
	MaxAudienceChars = 200
	MaxAvoidItems    = 20
	MaxOverrideKeys  = 20
	MaxPinRank       = 1000
)

// Pin sources.
const (
	pinSourceSuggested = "suggested"
	pinSourcePublished = "published"
)

// newEdit builds an audit row stamped with the service clock.
func (s *HistoryService) newEdit(capsuleID string, period *history.Period, actorID, changeType string, reason *string, payload map[string]any) (*history.Edit, error) {
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &history.Edit{
		ID:         id,
		CapsuleID:  capsuleID,
		Period:     period,
		EditorID:   actorID,
		ChangeType: changeType,
		Reason:     reason,
		Payload:    payload,
		CreatedAt:  s.now().Unix(),
	}, nil
}

// mutated invalidates the capsule's cached composition. Mutations never regenerate.
func (s *HistoryService) mutated(capsuleID, actorID, changeType string) {
	s.invalidate(capsuleID)
	historyMutations.WithLabelValues(changeType).Inc()
	s.logger.Debug("history mutated",
		zap.String("capsule_id", capsuleID),
		zap.String("actor_id", actorID),
		zap.String("change_type", changeType))
}

// cleanLimited trims an optional value and enforces a rune limit.
func cleanLimited(field string, s *string, max int) (*string, error) {
	v := cleanOptionalString(s)
	if v != nil && capsule.CountChars(*v) > max {
		return nil, errors.NewInvalidRequest(field + " is too long")
	}
	return v, nil
}

func validThreadURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}

// PublishSectionInput contains parameters for the PublishSection operation.
type PublishSectionInput struct {
	CapsuleID string
	ActorID   string
	Period    string
	Content   *history.StoredSection // custom content; nil publishes the suggested section
	Reason    *string
}

// PublishSectionOutput contains the result of the PublishSection operation.
type PublishSectionOutput struct {
	Period      history.Period        `json:"period"`
	Section     history.StoredSection `json:"section"`
	Custom      bool                  `json:"custom"`
	PublishedAt time.Time             `json:"published_at"`
}

// PublishSection promotes one period into the published snapshot.
// The other published periods are kept as they are.
func (s *HistoryService) PublishSection(ctx context.Context, input PublishSectionInput) (*PublishSectionOutput, error) {
	c, err := requireEditor(ctx, s.db, input.CapsuleID, input.ActorID)
	if err != nil {
		return nil, err
	}
	p, err := parsePeriod(input.Period)
	if err != nil {
		return nil, err
	}
	reason, err := cleanLimited("reason", input.Reason, MaxReasonChars)
	if err != nil {
		return nil, err
	}

	rec, err := db.GetSnapshot(ctx, s.db, c.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &history.SnapshotRecord{CapsuleID: c.ID}
	}

	var section history.StoredSection
	custom := input.Content != nil
	if custom {
		section, err = history.SanitizeEditorSection(p, *input.Content)
		if err != nil {
			return nil, errors.NewInvalidRequest(err.Error())
		}
	} else {
		stored, ok := rec.Suggested.Section(p)
		if !ok {
			return nil, errors.NewConflict("no suggested " + string(p) + " section to publish yet")
		}
		section = history.CloneSection(*stored)
	}

	now := s.now().UTC().Truncate(time.Second)
	name := c.Name
	published := &history.StoredSnapshot{
		CapsuleID:   c.ID,
		CapsuleName: &name,
		GeneratedAt: now,
		Sources:     map[string]history.Source{},
	}
	if rec.Published != nil {
		for id, src := range rec.Published.Sources {
			published.Sources[id] = src
		}
	}
	if rec.Suggested != nil {
		for id, src := range rec.Suggested.Sources {
			published.Sources[id] = src
		}
	}
	for _, period := range history.Periods {
		if period == p {
			published.Sections = append(published.Sections, section)
		} else if prev, ok := rec.Published.Section(period); ok {
			published.Sections = append(published.Sections, *prev)
		}
	}

	hashes := map[history.Period]string{}
	for period, h := range rec.PublishedPeriodHashes {
		hashes[period] = h
	}
	if h := rec.SuggestedPeriodHashes[p]; h != "" {
		hashes[p] = h
	}

	edit, err := s.newEdit(c.ID, &p, input.ActorID, history.ChangePublish, reason, map[string]any{"custom": custom})
	if err != nil {
		return nil, err
	}
	edit.Snapshot = published

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := db.UpdatePublished(ctx, tx, db.PublishedWrite{
			CapsuleID:    c.ID,
			Snapshot:     published,
			GeneratedAt:  now,
			LatestPostAt: rec.SuggestedLatestPostAt,
			PeriodHashes: hashes,
			EditorID:     input.ActorID,
			Reason:       reason,
		}); err != nil {
			return err
		}
		return db.InsertEdit(ctx, tx, edit)
	})
	if err != nil {
		return nil, err
	}
	s.mutated(c.ID, input.ActorID, history.ChangePublish)

	return &PublishSectionOutput{Period: p, Section: section, Custom: custom, PublishedAt: now}, nil
}

// AddPinInput contains parameters for the AddPin operation.
type AddPinInput struct {
	CapsuleID string
	ActorID   string
	Period    string
	Type      string  // summary, highlight, timeline, next_focus
	PostID    *string // matched against block sources or timeline post ids
	Quote     *string // matched against block text
	Note      *string // shown with the pinned block
	Source    string  // "suggested" (default) or "published"
	Rank      *int    // default: after the period's existing pins
}

// AddPin stores a pin. Matching against content happens at composition.
func (s *HistoryService) AddPin(ctx context.Context, input AddPinInput) (*history.Pin, error) {
	c, err := requireEditor(ctx, s.db, input.CapsuleID, input.ActorID)
	if err != nil {
		return nil, err
	}
	p, err := parsePeriod(input.Period)
	if err != nil {
		return nil, err
	}
	pinType := strings.TrimSpace(input.Type)
	if !history.ValidPinType(pinType) {
		return nil, errors.NewInvalidRequest("type must be one of: summary, highlight, timeline, next_focus")
	}
	postID := cleanOptionalString(input.PostID)
	quote, err := cleanLimited("quote", input.Quote, MaxQuoteChars)
	if err != nil {
		return nil, err
	}
	note, err := cleanLimited("note", input.Note, MaxNoteChars)
	if err != nil {
		return nil, err
	}
	if pinType != history.PinSummary && postID == nil && quote == nil {
		return nil, errors.NewInvalidRequest(pinType + " pins need a post_id or a quote")
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = pinSourceSuggested
	}
	if source != pinSourceSuggested && source != pinSourcePublished {
		return nil, errors.NewInvalidRequest("source must be one of: suggested, published")
	}
	if input.Rank != nil && (*input.Rank < 0 || *input.Rank > MaxPinRank) {
		return nil, errors.NewInvalidRequest("rank must be between 0 and 1000")
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	pin := &history.Pin{
		ID:        id,
		CapsuleID: c.ID,
		Period:    p,
		Type:      pinType,
		PostID:    postID,
		Quote:     quote,
		Source:    source,
		Note:      note,
		CreatedBy: input.ActorID,
		CreatedAt: s.now().Unix(),
	}
	edit, err := s.newEdit(c.ID, &p, input.ActorID, history.ChangePinAdd, nil,
		map[string]any{"pinId": id, "type": pinType})
	if err != nil {
		return nil, err
	}

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if input.Rank != nil {
			pin.Rank = *input.Rank
		} else {
			rank, err := db.NextPinRank(ctx, tx, c.ID, p)
			if err != nil {
				return err
			}
			pin.Rank = rank
		}
		if err := db.InsertPin(ctx, tx, pin); err != nil {
			return err
		}
		return db.InsertEdit(ctx, tx, edit)
	})
	if err != nil {
		return nil, err
	}
	s.mutated(c.ID, input.ActorID, history.ChangePinAdd)
	return pin, nil
}

// RemovePinInput contains parameters for the RemovePin operation.
type RemovePinInput struct {
	CapsuleID string
	ActorID   string
	PinID     string
}

// RemovePin deletes a pin of the capsule.
func (s *HistoryService) RemovePin(ctx context.Context, input RemovePinInput) (*history.Pin, error) {
	c, err := requireEditor(ctx, s.db, input.CapsuleID, input.ActorID)
	if err != nil {
		return nil, err
	}
	pinID, err := requireID("pin_id", input.PinID)
	if err != nil {
		return nil, err
	}
	pin, err := db.GetPin(ctx, s.db, pinID)
	if err != nil {
		return nil, err
	}
	if pin.CapsuleID != c.ID {
		return nil, errors.NewNotFound("pin", pinID)
	}
	period := pin.Period
	edit, err := s.newEdit(c.ID, &period, input.ActorID, history.ChangePinRemove, nil,
		map[string]any{"pinId": pin.ID, "type": pin.Type})
	if err != nil {
		return nil, err
	}

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := db.DeletePin(ctx, tx, pin.ID); err != nil {
			return err
		}
		return db.InsertEdit(ctx, tx, edit)
	})
	if err != nil {
		return nil, err
	}
	s.mutated(c.ID, input.ActorID, history.ChangePinRemove)
	return pin, nil
}

// ExclusionInput contains parameters for AddExclusion and RemoveExclusion.
type ExclusionInput struct {
	CapsuleID string
	ActorID   string
	Period    string
	PostID    string
	Reason    *string
}

// sectionSettingsOrNew loads the settings row of a period, or a blank one.
func sectionSettingsOrNew(ctx context.Context, q db.Querier, capsuleID string, p history.Period) (*history.SectionSettings, error) {
	st, err := db.GetSectionSettings(ctx, q, capsuleID, p)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &history.SectionSettings{CapsuleID: capsuleID, Period: p, ExcludedPostIDs: []string{}}
	}
	return st, nil
}

// AddExclusion removes a post from future generation for a period.
// The discrete row is the source of truth; the settings array is kept as a projection.
func (s *HistoryService) AddExclusion(ctx context.Context, input ExclusionInput) (*history.Exclusion, error) {
	c, err := requireEditor(ctx, s.db, input.CapsuleID, input.ActorID)
	if err != nil {
		return nil, err
	}
	p, err := parsePeriod(input.Period)
	if err != nil {
		return nil, err
	}
	postID, err := requireID("post_id", input.PostID)
	if err != nil {
		return nil, err
	}
	reason, err := cleanLimited("reason", input.Reason, MaxReasonChars)
	if err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := s.now().Unix()
	ex := &history.Exclusion{
		ID:        id,
		CapsuleID: c.ID,
		Period:    p,
		PostID:    postID,
		Reason:    reason,
		CreatedBy: input.ActorID,
		CreatedAt: now,
	}
	edit, err := s.newEdit(c.ID, &p, input.ActorID, history.ChangeExclusionAdd, reason, map[string]any{"postId": postID})
	if err != nil {
		return nil, err
	}

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := db.InsertExclusion(ctx, tx, ex); err != nil {
			if err == db.ErrUniqueConstraint {
				return errors.NewConflict("post " + postID + " is already excluded from " + string(p))
			}
			return err
		}
		st, err := sectionSettingsOrNew(ctx, tx, c.ID, p)
		if err != nil {
			return err
		}
		if !containsString(st.ExcludedPostIDs, postID) {
			st.ExcludedPostIDs = append(st.ExcludedPostIDs, postID)
		}
		st.UpdatedBy = &input.ActorID
		st.UpdatedAt = now
		if err := db.UpsertSectionSettings(ctx, tx, st); err != nil {
			return err
		}
		return db.InsertEdit(ctx, tx, edit)
	})
	if err != nil {
		return nil, err
	}
	s.mutated(c.ID, input.ActorID, history.ChangeExclusionAdd)
	return ex, nil
}

// RemoveExclusion lets a post back into generation for a period.
func (s *HistoryService) RemoveExclusion(ctx context.Context, input ExclusionInput) error {
	c, err := requireEditor(ctx, s.db, input.CapsuleID, input.ActorID)
	if err != nil {
		return err
	}
	p, err := parsePeriod(input.Period)
	if err != nil {
		return err
	}
	postID, err := requireID("post_id", input.PostID)
	if err != nil {
		return err
	}
	edit, err := s.newEdit(c.ID, &p, input.ActorID, history.ChangeExclusionRemove, nil, map[string]any{"postId": postID})
	if err != nil {
		return err
	}

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		removed, err := db.DeleteExclusion(ctx, tx, c.ID, p, postID)
		if err != nil {
			return err
		}
		st, err := db.GetSectionSettings(ctx, tx, c.ID, p)
		if err != nil {
			return err
		}
		projected := st != nil && containsString(st.ExcludedPostIDs, postID)
		if !removed && !projected {
			return errors.NewNotFound("exclusion", postID)
		}
		if projected {
			kept := []string{}
			for _, id := range st.ExcludedPostIDs {
				if id != postID {
					kept = append(kept, id)
				}
			}
			st.ExcludedPostIDs = kept
			st.UpdatedBy = &input.ActorID
			st.UpdatedAt = s.now().Unix()
			if err := db.UpsertSectionSettings(ctx, tx, st); err != nil {
				return err
			}
		}
		return db.InsertEdit(ctx, tx, edit)
	})
	if err != nil {
		return err
	}
	s.mutated(c.ID, input.ActorID, history.ChangeExclusionRemove)
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// UpdateSectionSettingsInput contains parameters for UpdateSectionSettings.
// Nil fields are left unchanged; an empty string or empty map clears a field.
type UpdateSectionSettingsInput struct {
	CapsuleID           string
	ActorID             string
	Period              string
	Notes               *string
	TemplateID          *string
	Tone                *string
	PromptOverrides     map[string]string
	DiscussionThreadURL *string
	Metadata            map[string]any
}

// UpdateSectionSettings applies a partial update to a period's settings.
// New guidance takes effect on the next regeneration.
func (s *HistoryService) UpdateSectionSettings(ctx context.Context, input UpdateSectionSettingsInput) (*history.SectionSettings, error) {
	c, err := requireEditor(ctx, s.db, input.CapsuleID, input.ActorID)
	if err != nil {
		return nil, err
	}
	p, err := parsePeriod(input.Period)
	if err != nil {
		return nil, err
	}

	var fields []string
	notes, err := cleanLimited("notes", input.Notes, MaxNoteChars)
	if err != nil {
		return nil, err
	}
	templateID := cleanOptionalString(input.TemplateID)
	if templateID != nil {
		if _, ok := history.FindTemplate(*templateID); !ok {
			return nil, errors.NewInvalidRequest("unknown template: " + *templateID)
		}
	}
	tone, err := cleanLimited("tone", input.Tone, MaxToneChars)
	if err != nil {
		return nil, err
	}
	threadURL := cleanOptionalString(input.DiscussionThreadURL)
	if threadURL != nil && !validThreadURL(*threadURL) {
		return nil, errors.NewInvalidRequest("discussion_thread_url must be an http(s) URL")
	}
	if len(input.PromptOverrides) > MaxOverrideKeys {
		return nil, errors.NewInvalidRequest("too many prompt overrides")
	}
	overrides := map[string]string{}
	for k, v := range input.PromptOverrides {
		k = strings.TrimSpace(k)
		if k == "" || capsule.CountChars(v) > MaxNoteChars {
			return nil, errors.NewInvalidRequest("prompt overrides need non-empty keys and values under 2000 characters")
		}
		overrides[k] = strings.TrimSpace(v)
	}

	var updated *history.SectionSettings
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		st, err := sectionSettingsOrNew(ctx, tx, c.ID, p)
		if err != nil {
			return err
		}
		if input.Notes != nil {
			st.Notes = notes
			fields = append(fields, "notes")
		}
		if input.TemplateID != nil {
			st.TemplateID = templateID
			fields = append(fields, "template_id")
		}
		if input.Tone != nil {
			st.Tone = tone
			fields = append(fields, "tone")
		}
		if input.PromptOverrides != nil {
			st.PromptOverrides = overrides
			fields = append(fields, "prompt_overrides")
		}
		if input.DiscussionThreadURL != nil {
			st.DiscussionThreadURL = threadURL
			fields = append(fields, "discussion_thread_url")
		}
		if input.Metadata != nil {
			st.Metadata = input.Metadata
			fields = append(fields, "metadata")
		}
		if len(fields) == 0 {
			return errors.NewInvalidRequest("no settings to update")
		}
		st.UpdatedBy = &input.ActorID
		st.UpdatedAt = s.now().Unix()
		if err := db.UpsertSectionSettings(ctx, tx, st); err != nil {
			return err
		}
		edit, err := s.newEdit(c.ID, &p, input.ActorID, history.ChangeSettingsUpdate, nil, map[string]any{"fields": fields})
		if err != nil {
			return err
		}
		updated = st
		return db.InsertEdit(ctx, tx, edit)
	})
	if err != nil {
		return nil, err
	}
	s.mutated(c.ID, input.ActorID, history.ChangeSettingsUpdate)
	return updated, nil
}

// UpdatePromptSettingsInput contains parameters for UpdatePromptSettings.
type UpdatePromptSettingsInput struct {
	CapsuleID    string
	ActorID      string
	PromptMemory *history.PromptMemory // replaces the stored memory when set
	Templates    map[string]string     // period -> template id; "" clears a period
}

// UpdatePromptSettingsOutput contains the stored prompt settings after the update.
type UpdatePromptSettingsOutput struct {
	PromptMemory history.PromptMemory      `json:"prompt_memory"`
	Templates    map[history.Period]string `json:"templates"`
}

// UpdatePromptSettings stores capsule-wide prompt memory and template selection.
func (s *HistoryService) UpdatePromptSettings(ctx context.Context, input UpdatePromptSettingsInput) (*UpdatePromptSettingsOutput, error) {
	c, err := requireEditor(ctx, s.db, input.CapsuleID, input.ActorID)
	if err != nil {
		return nil, err
	}
	if input.PromptMemory == nil && input.Templates == nil {
		return nil, errors.NewInvalidRequest("prompt_memory or templates is required")
	}

	var memory *history.PromptMemory
	if input.PromptMemory != nil {
		m, err := cleanPromptMemory(*input.PromptMemory)
		if err != nil {
			return nil, err
		}
		memory = &m
	}
	changes := map[history.Period]string{}
	for key, id := range input.Templates {
		p, err := parsePeriod(key)
		if err != nil {
			return nil, err
		}
		id = strings.TrimSpace(id)
		if id != "" {
			if _, ok := history.FindTemplate(id); !ok {
				return nil, errors.NewInvalidRequest("unknown template: " + id)
			}
		}
		changes[p] = id
	}

	out := &UpdatePromptSettingsOutput{Templates: map[history.Period]string{}}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rec, err := db.GetSnapshot(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if rec != nil {
			for p, id := range rec.Templates {
				out.Templates[p] = id
			}
			if rec.PromptMemory != nil {
				out.PromptMemory = *rec.PromptMemory
			}
		}
		var templates map[history.Period]string
		if input.Templates != nil {
			for p, id := range changes {
				if id == "" {
					delete(out.Templates, p)
				} else {
					out.Templates[p] = id
				}
			}
			templates = out.Templates
		}
		if memory != nil {
			out.PromptMemory = *memory
		}
		if err := db.UpdatePromptSettings(ctx, tx, c.ID, memory, templates); err != nil {
			return err
		}

		payload := map[string]any{"promptMemory": memory != nil}
		if input.Templates != nil {
			periods := make([]string, 0, len(changes))
			for p := range changes {
				periods = append(periods, string(p))
			}
			sort.Strings(periods)
			payload["templates"] = periods
		}
		edit, err := s.newEdit(c.ID, nil, input.ActorID, history.ChangePromptUpdate, nil, payload)
		if err != nil {
			return err
		}
		return db.InsertEdit(ctx, tx, edit)
	})
	if err != nil {
		return nil, err
	}
	s.mutated(c.ID, input.ActorID, history.ChangePromptUpdate)
	return out, nil
}

func cleanPromptMemory(m history.PromptMemory) (history.PromptMemory, error) {
	out := history.PromptMemory{
		Guidelines: strings.TrimSpace(m.Guidelines),
		Tone:       history.CleanText(m.Tone),
		Audience:   history.CleanText(m.Audience),
	}
	switch {
	case capsule.CountChars(out.Guidelines) > MaxNoteChars:
		return out, errors.NewInvalidRequest("guidelines is too long")
	case capsule.CountChars(out.Tone) > MaxToneChars:
		return out, errors.NewInvalidRequest("tone is too long")
	case capsule.CountChars(out.Audience) > MaxAudienceChars:
		return out, errors.NewInvalidRequest("audience is too long")
	case len(m.Avoid) > MaxAvoidItems:
		return out, errors.NewInvalidRequest("too many avoid entries")
	}
	for _, a := range m.Avoid {
		if a = history.CleanLine(a, history.MaxHighlightChars); a != "" {
			out.Avoid = append(out.Avoid, a)
		}
	}
	return out, nil
}
