package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
)

// SuggestedWrite is the payload of UpsertSuggested.
// Nil PromptMemory, Templates and Coverage keep the stored values.
type SuggestedWrite struct {
	CapsuleID    string
	Snapshot     *history.StoredSnapshot
	GeneratedAt  time.Time
	LatestPostAt *time.Time
	PostCount    int
	PeriodHashes map[history.Period]string
	PromptMemory *history.PromptMemory
	Templates    map[history.Period]string
	Coverage     map[history.Period]history.Coverage
}

// PublishedWrite is the payload of UpdatePublished.
type PublishedWrite struct {
	CapsuleID    string
	Snapshot     *history.StoredSnapshot
	GeneratedAt  time.Time
	LatestPostAt *time.Time
	PeriodHashes map[history.Period]string
	EditorID     string
	Reason       *string
}

// GetSnapshot returns the persisted history row, or nil when none exists.
func GetSnapshot(ctx context.Context, q Querier, capsuleID string) (*history.SnapshotRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT capsule_id,
			suggested_json, suggested_generated_at, suggested_latest_post_at, suggested_post_count, suggested_hashes_json,
			published_json, published_generated_at, published_latest_post_at, published_hashes_json, published_by,
			prompt_memory_json, templates_json, coverage_json, updated_at
		FROM capsule_history_snapshots
		WHERE capsule_id = ?
	`, capsuleID)

	var (
		rec                                                  history.SnapshotRecord
		suggestedJSON, suggestedHashes                       sql.NullString
		publishedJSON, publishedHashes, publishedBy          sql.NullString
		promptJSON, templatesJSON, coverageJSON              sql.NullString
		suggestedAt, suggestedLatest, publishedAt, pubLatest sql.NullInt64
	)
	err := row.Scan(&rec.CapsuleID,
		&suggestedJSON, &suggestedAt, &suggestedLatest, &rec.SuggestedPostCount, &suggestedHashes,
		&publishedJSON, &publishedAt, &pubLatest, &publishedHashes, &publishedBy,
		&promptJSON, &templatesJSON, &coverageJSON, &rec.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if suggestedJSON.Valid {
		rec.Suggested = &history.StoredSnapshot{}
		if err := fromNullJSON(suggestedJSON, rec.Suggested); err != nil {
			return nil, err
		}
	}
	if publishedJSON.Valid {
		rec.Published = &history.StoredSnapshot{}
		if err := fromNullJSON(publishedJSON, rec.Published); err != nil {
			return nil, err
		}
	}
	if promptJSON.Valid {
		rec.PromptMemory = &history.PromptMemory{}
		if err := fromNullJSON(promptJSON, rec.PromptMemory); err != nil {
			return nil, err
		}
	}
	for _, col := range []struct {
		ns  sql.NullString
		dst any
	}{
		{suggestedHashes, &rec.SuggestedPeriodHashes},
		{publishedHashes, &rec.PublishedPeriodHashes},
		{templatesJSON, &rec.Templates},
		{coverageJSON, &rec.Coverage},
	} {
		if err := fromNullJSON(col.ns, col.dst); err != nil {
			return nil, err
		}
	}

	rec.SuggestedGeneratedAt = fromNullTime(suggestedAt)
	rec.SuggestedLatestPostAt = fromNullTime(suggestedLatest)
	rec.PublishedGeneratedAt = fromNullTime(publishedAt)
	rec.PublishedLatestPostAt = fromNullTime(pubLatest)
	rec.PublishedBy = fromNullString(publishedBy)
	return &rec, nil
}

// UpsertSuggested replaces the suggested side of a capsule's history row.
func UpsertSuggested(ctx context.Context, q Querier, w SuggestedWrite) error {
	snapshot, err := toNullJSON(w.Snapshot, w.Snapshot == nil)
	if err != nil {
		return err
	}
	hashes, err := toNullJSON(w.PeriodHashes, w.PeriodHashes == nil)
	if err != nil {
		return err
	}
	prompt, err := toNullJSON(w.PromptMemory, w.PromptMemory == nil)
	if err != nil {
		return err
	}
	templates, err := toNullJSON(w.Templates, w.Templates == nil)
	if err != nil {
		return err
	}
	coverage, err := toNullJSON(w.Coverage, w.Coverage == nil)
	if err != nil {
		return err
	}
	generatedAt := w.GeneratedAt

	_, err = q.ExecContext(ctx, `
		INSERT INTO capsule_history_snapshots (
			capsule_id, suggested_json, suggested_generated_at, suggested_latest_post_at,
			suggested_post_count, suggested_hashes_json, prompt_memory_json, templates_json,
			coverage_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(capsule_id) DO UPDATE SET
			suggested_json = excluded.suggested_json,
			suggested_generated_at = excluded.suggested_generated_at,
			suggested_latest_post_at = excluded.suggested_latest_post_at,
			suggested_post_count = excluded.suggested_post_count,
			suggested_hashes_json = excluded.suggested_hashes_json,
			prompt_memory_json = COALESCE(excluded.prompt_memory_json, prompt_memory_json),
			templates_json = COALESCE(excluded.templates_json, templates_json),
			coverage_json = COALESCE(excluded.coverage_json, coverage_json),
			updated_at = excluded.updated_at
	`, w.CapsuleID, snapshot, toNullTime(&generatedAt), toNullTime(w.LatestPostAt),
		w.PostCount, hashes, prompt, templates, coverage, time.Now().Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// UpdatePublished replaces the published side of a capsule's history row.
func UpdatePublished(ctx context.Context, q Querier, w PublishedWrite) error {
	snapshot, err := toNullJSON(w.Snapshot, w.Snapshot == nil)
	if err != nil {
		return err
	}
	hashes, err := toNullJSON(w.PeriodHashes, w.PeriodHashes == nil)
	if err != nil {
		return err
	}
	generatedAt := w.GeneratedAt

	_, err = q.ExecContext(ctx, `
		INSERT INTO capsule_history_snapshots (
			capsule_id, published_json, published_generated_at, published_latest_post_at,
			published_hashes_json, published_by, published_reason, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(capsule_id) DO UPDATE SET
			published_json = excluded.published_json,
			published_generated_at = excluded.published_generated_at,
			published_latest_post_at = excluded.published_latest_post_at,
			published_hashes_json = excluded.published_hashes_json,
			published_by = excluded.published_by,
			published_reason = excluded.published_reason,
			updated_at = excluded.updated_at
	`, w.CapsuleID, snapshot, toNullTime(&generatedAt), toNullTime(w.LatestPostAt),
		hashes, w.EditorID, toNullString(w.Reason), time.Now().Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// UpdatePromptSettings stores capsule-wide prompt memory and template selection.
// Nil arguments keep the stored values.
func UpdatePromptSettings(ctx context.Context, q Querier, capsuleID string, memory *history.PromptMemory, templates map[history.Period]string) error {
	prompt, err := toNullJSON(memory, memory == nil)
	if err != nil {
		return err
	}
	tmpl, err := toNullJSON(templates, templates == nil)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO capsule_history_snapshots (capsule_id, prompt_memory_json, templates_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(capsule_id) DO UPDATE SET
			prompt_memory_json = COALESCE(excluded.prompt_memory_json, prompt_memory_json),
			templates_json = COALESCE(excluded.templates_json, templates_json),
			updated_at = excluded.updated_at
	`, capsuleID, prompt, tmpl, time.Now().Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListStaleCapsules returns capsules whose suggested snapshot was generated
// before olderThan or never, oldest first.
func ListStaleCapsules(ctx context.Context, q Querier, olderThan time.Time, limit int) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id
		FROM capsules c
		LEFT JOIN capsule_history_snapshots s ON s.capsule_id = c.id
		WHERE s.suggested_generated_at IS NULL OR s.suggested_generated_at < ?
		ORDER BY COALESCE(s.suggested_generated_at, 0) ASC, c.id ASC
		LIMIT ?
	`, olderThan.Unix(), limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}
