package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
)

// InsertExclusion stores a new exclusion row.
// Returns ErrUniqueConstraint when the post is already excluded for the period.
func InsertExclusion(ctx context.Context, q Querier, e *history.Exclusion) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO capsule_history_exclusions (id, capsule_id, period, post_id, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CapsuleID, string(e.Period), e.PostID, toNullString(e.Reason), e.CreatedBy, e.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// ListExclusions returns a capsule's exclusion rows.
func ListExclusions(ctx context.Context, q Querier, capsuleID string) ([]history.Exclusion, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, capsule_id, period, post_id, reason, created_by, created_at
		FROM capsule_history_exclusions
		WHERE capsule_id = ?
		ORDER BY period, created_at, id
	`, capsuleID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []history.Exclusion{}
	for rows.Next() {
		var e history.Exclusion
		var period string
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.CapsuleID, &period, &e.PostID, &reason, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		e.Period = history.Period(period)
		e.Reason = fromNullString(reason)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// DeleteExclusion removes the exclusion of a post for a period.
// It reports whether a row existed.
func DeleteExclusion(ctx context.Context, q Querier, capsuleID string, period history.Period, postID string) (bool, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM capsule_history_exclusions WHERE capsule_id = ? AND period = ? AND post_id = ?
	`, capsuleID, string(period), postID)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}
