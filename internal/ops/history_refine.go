package ops

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
	"github.com/hpungsan/almanac/internal/llm"
)

// RefineSectionInput contains parameters for the RefineSection operation.
type RefineSectionInput struct {
	CapsuleID    string
	ActorID      string
	Period       string
	Instructions string // required editor direction for the model
}

// RefineSectionOutput contains the result of the RefineSection operation.
// Applied is false when the model was unavailable or its output unusable;
// the suggested section is then left untouched.
type RefineSectionOutput struct {
	Period  history.Period        `json:"period"`
	Applied bool                  `json:"applied"`
	Section history.StoredSection `json:"section"`
}

// RefineSection runs a single-period model pass with editor instructions
// and replaces the suggested section with the result.
func (s *HistoryService) RefineSection(ctx context.Context, input RefineSectionInput) (*RefineSectionOutput, error) {
	c, err := requireEditor(ctx, s.db, input.CapsuleID, input.ActorID)
	if err != nil {
		return nil, err
	}
	p, err := parsePeriod(input.Period)
	if err != nil {
		return nil, err
	}
	instructions := strings.TrimSpace(input.Instructions)
	if instructions == "" {
		return nil, errors.NewInvalidRequest("instructions is required")
	}
	if capsule.CountChars(instructions) > MaxInstructionsChars {
		return nil, errors.NewInvalidRequest("instructions is too long")
	}

	rec, err := db.GetSnapshot(ctx, s.db, c.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Suggested == nil {
		return nil, errors.NewConflict("history has not been generated yet")
	}
	current, ok := rec.Suggested.Section(p)
	if !ok {
		return nil, errors.NewConflict("no suggested " + string(p) + " section to refine yet")
	}
	ov, err := s.loadOverlays(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer func() {
		historyGenerationDuration.WithLabelValues("refine").Observe(time.Since(started).Seconds())
	}()

	gen, err := s.aggregate(ctx, c, rec, ov)
	if err != nil {
		return nil, err
	}
	var tf history.Timeframe
	for _, f := range gen.input.Frames {
		if f.Period == p {
			tf = f
		}
	}

	unchanged := &RefineSectionOutput{Period: p, Section: *current}
	payload, err := history.BuildRefinePayload(gen.input, p, *current, instructions)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	raw, err := s.complete(ctx, llm.Request{
		System:      history.RefineSystemPrompt(),
		User:        string(payload),
		Schema:      history.RefineSchema(),
		Temperature: s.temperature(),
		MaxTokens:   s.cfg.Model.MaxTokens,
	})
	if err != nil {
		if isHardError(err) {
			return nil, err
		}
		s.logModelSkip("refine model call failed, keeping section", err,
			zap.String("capsule_id", c.ID), zap.String("period", string(p)))
		return unchanged, nil
	}
	fields, err := history.ParseRefineOutput(raw)
	if err != nil {
		historyModelCalls.WithLabelValues(modelUnusable).Inc()
		s.logger.Warn("refine output unusable, keeping section",
			zap.String("capsule_id", c.ID), zap.String("period", string(p)), zap.Error(err))
		return unchanged, nil
	}

	refined := history.MergeSection(history.CloneSection(*current), fields, tf)
	snap := *rec.Suggested
	snap.Sections = make([]history.StoredSection, len(rec.Suggested.Sections))
	for i, sec := range rec.Suggested.Sections {
		if sec.Period == p {
			sec = refined
		}
		snap.Sections[i] = sec
	}
	coverage := map[history.Period]history.Coverage{}
	for period, cov := range rec.Coverage {
		coverage[period] = cov
	}
	coverage[p] = history.ComputeCoverage(tf, refined)

	edit, err := s.newEdit(c.ID, &p, input.ActorID, history.ChangeRefine, nil,
		map[string]any{"instructions": instructions, "origin": refined.Origin})
	if err != nil {
		return nil, err
	}
	generatedAt := s.now().UTC().Truncate(time.Second)
	if rec.SuggestedGeneratedAt != nil {
		generatedAt = *rec.SuggestedGeneratedAt
	}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := db.UpsertSuggested(ctx, tx, db.SuggestedWrite{
			CapsuleID:    c.ID,
			Snapshot:     &snap,
			GeneratedAt:  generatedAt,
			LatestPostAt: rec.SuggestedLatestPostAt,
			PostCount:    rec.SuggestedPostCount,
			PeriodHashes: rec.SuggestedPeriodHashes,
			Coverage:     coverage,
		}); err != nil {
			return err
		}
		return db.InsertEdit(ctx, tx, edit)
	})
	if err != nil {
		return nil, err
	}
	s.mutated(c.ID, input.ActorID, history.ChangeRefine)
	return &RefineSectionOutput{Period: p, Applied: true, Section: refined}, nil
}
