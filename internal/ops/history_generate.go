package ops

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
	"github.com/hpungsan/almanac/internal/llm"
)

// generation is the aggregated input of one generation pass.
type generation struct {
	input history.GenerationInput
	posts []history.Post // every fetched post, newest first
}

// aggregate fetches recent posts and buckets them into timeframes with
// exclusions removed per period.
func (s *HistoryService) aggregate(ctx context.Context, c *capsule.Capsule, rec *history.SnapshotRecord, ov *overlays) (*generation, error) {
	rows, err := db.ListRecentPosts(ctx, s.db, c.ID, s.postLimit())
	if err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}
	posts := make([]history.Post, 0, len(rows))
	for _, row := range rows {
		posts = append(posts, history.NormalizePost(c.ID, row))
	}
	history.SortNewestFirst(posts)

	now := s.now().UTC().Truncate(time.Second)
	frames := history.BuildTimeframes(posts, now)
	excluded := history.ExcludedByPeriod(ov.exclusions, ov.settings)
	for i := range frames {
		frames[i] = frames[i].WithoutPosts(excluded[frames[i].Period])
	}

	name := c.Name
	in := history.GenerationInput{
		CapsuleID:   c.ID,
		CapsuleName: &name,
		Frames:      frames,
		Guidance:    guidanceFor(rec, ov.settings),
		Now:         now,
	}
	if rec != nil && rec.PromptMemory != nil {
		in.PromptMemory = *rec.PromptMemory
	}
	return &generation{input: in, posts: posts}, nil
}

// guidanceFor resolves each period's template and editorial direction.
func guidanceFor(rec *history.SnapshotRecord, settings []history.SectionSettings) map[history.Period]history.PeriodGuidance {
	out := make(map[history.Period]history.PeriodGuidance, len(history.Periods))
	for _, p := range history.Periods {
		capsuleTemplate := ""
		if rec != nil {
			capsuleTemplate = rec.Templates[p]
		}
		var g history.PeriodGuidance
		var sectionTemplate *string
		for _, st := range settings {
			if st.Period != p {
				continue
			}
			sectionTemplate = st.TemplateID
			if st.Tone != nil {
				g.Tone = *st.Tone
			}
			if st.Notes != nil {
				g.Notes = *st.Notes
			}
			g.PromptOverrides = st.PromptOverrides
		}
		g.Template = history.ResolveTemplate(sectionTemplate, capsuleTemplate)
		out[p] = g
	}
	return out
}

// complete calls the model collaborator. Configuration errors and
// cancellation are returned as hard errors; any other failure is transient.
func (s *HistoryService) complete(ctx context.Context, req llm.Request) (string, error) {
	raw, err := s.model.Complete(ctx, req)
	if err == nil {
		historyModelCalls.WithLabelValues(modelOK).Inc()
		return raw, nil
	}
	if llm.IsConfigError(err) {
		historyModelCalls.WithLabelValues(modelConfigError).Inc()
		return "", err
	}
	if ctx.Err() != nil {
		return "", errors.NewCancelled("history generation")
	}
	if llm.IsDisabled(err) {
		historyModelCalls.WithLabelValues(modelDisabled).Inc()
		return "", err
	}
	historyModelCalls.WithLabelValues(modelUnavailable).Inc()
	return "", fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
}

// logModelSkip logs a degraded model call. Running without a provider is
// the configured mode, so it is only logged at debug level.
func (s *HistoryService) logModelSkip(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if llm.IsDisabled(err) {
		s.logger.Debug(msg, fields...)
		return
	}
	s.logger.Warn(msg, fields...)
}

// isHardError reports whether err must not degrade to fallback content.
func isHardError(err error) bool {
	return llm.IsConfigError(err) || errors.Is(err, errors.ErrCancelled)
}

// modelSections runs the full-history model pass. A nil map with a nil
// error means every section falls back to the deterministic narrative.
func (s *HistoryService) modelSections(ctx context.Context, in history.GenerationInput) (map[history.Period]map[string]any, error) {
	payload, err := history.BuildPayload(in)
	if err != nil {
		return nil, err
	}
	raw, err := s.complete(ctx, llm.Request{
		System:      history.SystemPrompt(),
		User:        string(payload),
		Schema:      history.ResponseSchema(),
		Temperature: s.temperature(),
		MaxTokens:   s.cfg.Model.MaxTokens,
	})
	if err != nil {
		if isHardError(err) {
			return nil, err
		}
		s.logModelSkip("model call failed, using deterministic history", err,
			zap.String("capsule_id", in.CapsuleID))
		return nil, nil
	}
	sections, err := history.ParseModelOutput(raw)
	if err != nil {
		historyModelCalls.WithLabelValues(modelUnusable).Inc()
		s.logger.Warn("model output unusable, using deterministic history",
			zap.String("capsule_id", in.CapsuleID), zap.Error(err))
		return nil, nil
	}
	return sections, nil
}

// regenerate runs the full pipeline and persists a new suggested snapshot.
func (s *HistoryService) regenerate(ctx context.Context, c *capsule.Capsule, rec *history.SnapshotRecord, ov *overlays, activity db.Activity) (*history.SnapshotRecord, error) {
	started := time.Now()
	defer func() {
		historyGenerationDuration.WithLabelValues("full").Observe(time.Since(started).Seconds())
	}()

	gen, err := s.aggregate(ctx, c, rec, ov)
	if err != nil {
		return nil, err
	}
	model, err := s.modelSections(ctx, gen.input)
	if err != nil {
		return nil, err
	}

	in := gen.input
	snap := history.AssembleSnapshot(in, history.BuildSources(gen.posts), model)
	postCount := activity.PostCount
	if len(gen.posts) > postCount {
		postCount = len(gen.posts)
	}
	err = db.UpsertSuggested(ctx, s.db, db.SuggestedWrite{
		CapsuleID:    c.ID,
		Snapshot:     snap,
		GeneratedAt:  in.Now,
		LatestPostAt: history.LatestPostAt(gen.posts),
		PostCount:    postCount,
		PeriodHashes: history.PeriodHashes(in.Frames),
		Coverage:     history.ComputeCoverageMap(in.Frames, snap),
	})
	if err != nil {
		return nil, err
	}

	origins := make([]string, 0, len(snap.Sections))
	for _, sec := range snap.Sections {
		origins = append(origins, string(sec.Period)+"="+sec.Origin)
	}
	s.logger.Info("history regenerated",
		zap.String("capsule_id", c.ID),
		zap.Int("posts", len(gen.posts)),
		zap.Strings("origins", origins),
		zap.Duration("elapsed", time.Since(started)))

	return db.GetSnapshot(ctx, s.db, c.ID)
}
