package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
)

const settingsColumns = `capsule_id, period, notes, excluded_post_ids_json, template_id, tone,
	prompt_overrides_json, coverage_json, discussion_thread_url, metadata_json, updated_by, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row rowScanner) (*history.SectionSettings, error) {
	var (
		s                                         history.SectionSettings
		period                                    string
		notes, templateID, tone, threadURL, by    sql.NullString
		excludedJSON                              string
		overridesJSON, coverageJSON, metadataJSON sql.NullString
	)
	if err := row.Scan(&s.CapsuleID, &period, &notes, &excludedJSON, &templateID, &tone,
		&overridesJSON, &coverageJSON, &threadURL, &metadataJSON, &by, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Period = history.Period(period)
	s.Notes = fromNullString(notes)
	s.TemplateID = fromNullString(templateID)
	s.Tone = fromNullString(tone)
	s.DiscussionThreadURL = fromNullString(threadURL)
	s.UpdatedBy = fromNullString(by)

	s.ExcludedPostIDs = []string{}
	if err := fromNullJSON(sql.NullString{String: excludedJSON, Valid: true}, &s.ExcludedPostIDs); err != nil {
		return nil, err
	}
	if err := fromNullJSON(overridesJSON, &s.PromptOverrides); err != nil {
		return nil, err
	}
	if err := fromNullJSON(metadataJSON, &s.Metadata); err != nil {
		return nil, err
	}
	if coverageJSON.Valid {
		s.Coverage = &history.Coverage{}
		if err := fromNullJSON(coverageJSON, s.Coverage); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// ListSectionSettings returns every settings row of a capsule.
func ListSectionSettings(ctx context.Context, q Querier, capsuleID string) ([]history.SectionSettings, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+settingsColumns+`
		FROM capsule_history_section_settings
		WHERE capsule_id = ?
		ORDER BY period
	`, capsuleID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []history.SectionSettings{}
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// GetSectionSettings returns one settings row, or nil when none exists.
func GetSectionSettings(ctx context.Context, q Querier, capsuleID string, period history.Period) (*history.SectionSettings, error) {
	row := q.QueryRowContext(ctx, `SELECT `+settingsColumns+`
		FROM capsule_history_section_settings
		WHERE capsule_id = ? AND period = ?
	`, capsuleID, string(period))
	s, err := scanSettings(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// UpsertSectionSettings writes the full settings row for (capsule, period).
func UpsertSectionSettings(ctx context.Context, q Querier, s *history.SectionSettings) error {
	excluded := s.ExcludedPostIDs
	if excluded == nil {
		excluded = []string{}
	}
	excludedJSON, err := toNullJSON(excluded, false)
	if err != nil {
		return err
	}
	overrides, err := toNullJSON(s.PromptOverrides, len(s.PromptOverrides) == 0)
	if err != nil {
		return err
	}
	coverage, err := toNullJSON(s.Coverage, s.Coverage == nil)
	if err != nil {
		return err
	}
	metadata, err := toNullJSON(s.Metadata, len(s.Metadata) == 0)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO capsule_history_section_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(capsule_id, period) DO UPDATE SET
			notes = excluded.notes,
			excluded_post_ids_json = excluded.excluded_post_ids_json,
			template_id = excluded.template_id,
			tone = excluded.tone,
			prompt_overrides_json = excluded.prompt_overrides_json,
			coverage_json = excluded.coverage_json,
			discussion_thread_url = excluded.discussion_thread_url,
			metadata_json = excluded.metadata_json,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`, s.CapsuleID, string(s.Period), toNullString(s.Notes), excludedJSON.String,
		toNullString(s.TemplateID), toNullString(s.Tone), overrides, coverage,
		toNullString(s.DiscussionThreadURL), metadata, toNullString(s.UpdatedBy), s.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
