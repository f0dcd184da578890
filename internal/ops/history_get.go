package ops

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/history"
)

// Regeneration triggers.
const (
	staleMissing     = "missing"
	staleNewActivity = "new_activity"
	staleMaxAge      = "max_age"
	staleForced      = "forced"
	staleSweep       = "sweep"
)

// GetHistoryInput contains parameters for the GetHistory operation.
type GetHistoryInput struct {
	CapsuleID    string // required
	ViewerID     string // optional; decides CanEdit
	ForceRefresh bool   // editors only; ignored for other viewers
}

// GetHistoryOutput contains the result of the GetHistory operation.
type GetHistoryOutput struct {
	Snapshot *history.Snapshot `json:"snapshot"`
	CanEdit  bool              `json:"can_edit"`
	Cached   bool              `json:"cached"`
}

// GetHistory returns the composed history of a capsule.
// A fresh cache entry is served directly; otherwise persisted state is
// loaded, regenerated when stale, composed with editorial overlays, and cached.
func (s *HistoryService) GetHistory(ctx context.Context, input GetHistoryInput) (*GetHistoryOutput, error) {
	capsuleID, err := requireID("capsule_id", input.CapsuleID)
	if err != nil {
		return nil, err
	}
	c, err := db.GetCapsule(ctx, s.db, capsuleID)
	if err != nil {
		return nil, err
	}
	editor, err := canEdit(ctx, s.db, c, strings.TrimSpace(input.ViewerID))
	if err != nil {
		return nil, err
	}
	activity, err := db.GetActivity(ctx, s.db, c.ID)
	if err != nil {
		return nil, err
	}

	force := input.ForceRefresh && editor
	if !force {
		if entry, ok := s.cache.Get(c.ID); ok {
			if staleReason(entry.GeneratedAt, entry.LatestPostAt, activity, s.now(), s.cfg.MaxAge()) == "" {
				historyCacheLookups.WithLabelValues(cacheHit).Inc()
				return &GetHistoryOutput{Snapshot: entry.Snapshot, CanEdit: editor, Cached: true}, nil
			}
			historyCacheLookups.WithLabelValues(cacheStale).Inc()
		} else {
			historyCacheLookups.WithLabelValues(cacheMiss).Inc()
		}
	}

	entry, err := s.load(ctx, c, activity, force)
	if err != nil {
		return nil, err
	}
	s.cache.Set(c.ID, entry, s.cfg.CacheTTL())
	return &GetHistoryOutput{Snapshot: entry.Snapshot, CanEdit: editor}, nil
}

// staleReason returns why a snapshot must be regenerated, or "" when it is fresh.
// Newer activity and the age ceiling each trigger regeneration on their own.
func staleReason(generatedAt, knownLatest *time.Time, activity db.Activity, now time.Time, maxAge time.Duration) string {
	if generatedAt == nil {
		return staleMissing
	}
	if activity.LatestPostAt != nil && (knownLatest == nil || activity.LatestPostAt.After(*knownLatest)) {
		return staleNewActivity
	}
	if maxAge > 0 && now.Sub(*generatedAt) > maxAge {
		return staleMaxAge
	}
	return ""
}

// overlays is the editorial state composed on top of the persisted snapshot.
type overlays struct {
	settings   []history.SectionSettings
	pins       []history.Pin
	exclusions []history.Exclusion
	edits      []history.Edit
}

func (s *HistoryService) loadOverlays(ctx context.Context, capsuleID string) (*overlays, error) {
	settings, err := db.ListSectionSettings(ctx, s.db, capsuleID)
	if err != nil {
		return nil, err
	}
	pins, err := db.ListPins(ctx, s.db, capsuleID)
	if err != nil {
		return nil, err
	}
	exclusions, err := db.ListExclusions(ctx, s.db, capsuleID)
	if err != nil {
		return nil, err
	}
	edits, err := db.ListEdits(ctx, s.db, capsuleID, 0, false)
	if err != nil {
		return nil, err
	}
	return &overlays{settings: settings, pins: pins, exclusions: exclusions, edits: edits}, nil
}

// load reads persisted state, regenerates when stale, and composes.
// A failed regeneration degrades to the persisted (or placeholder) content
// unless the failure is a configuration error or cancellation.
func (s *HistoryService) load(ctx context.Context, c *capsule.Capsule, activity db.Activity, force bool) (*CachedHistory, error) {
	rec, err := db.GetSnapshot(ctx, s.db, c.ID)
	if err != nil {
		return nil, err
	}
	ov, err := s.loadOverlays(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	reason := staleForced
	if !force {
		var generatedAt, latest *time.Time
		if rec != nil && rec.Suggested != nil {
			generatedAt, latest = rec.SuggestedGeneratedAt, rec.SuggestedLatestPostAt
		}
		reason = staleReason(generatedAt, latest, activity, s.now(), s.cfg.MaxAge())
	}
	if reason != "" {
		historyRegenerations.WithLabelValues(reason).Inc()
		updated, err := s.regenerate(ctx, c, rec, ov, activity)
		switch {
		case err == nil:
			rec = updated
		case isHardError(err):
			return nil, err
		default:
			s.logger.Warn("history regeneration failed, composing persisted state",
				zap.String("capsule_id", c.ID), zap.String("reason", reason), zap.Error(err))
		}
	}

	return s.compose(c, rec, ov), nil
}

func (s *HistoryService) compose(c *capsule.Capsule, rec *history.SnapshotRecord, ov *overlays) *CachedHistory {
	name := c.Name
	snap := history.Compose(history.ComposeInput{
		CapsuleID:   c.ID,
		CapsuleName: &name,
		Record:      rec,
		Settings:    ov.settings,
		Pins:        ov.pins,
		Exclusions:  ov.exclusions,
		Edits:       ov.edits,
		Now:         s.now(),
	})
	entry := &CachedHistory{Snapshot: snap}
	if rec != nil && rec.Suggested != nil {
		entry.GeneratedAt = rec.SuggestedGeneratedAt
		entry.LatestPostAt = rec.SuggestedLatestPostAt
	}
	return entry
}
