package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
)

// InsertEdit appends an audit row. Edits are never updated or deleted.
func InsertEdit(ctx context.Context, q Querier, e *history.Edit) error {
	var period sql.NullString
	if e.Period != nil {
		period = sql.NullString{String: string(*e.Period), Valid: true}
	}
	payload, err := toNullJSON(e.Payload, len(e.Payload) == 0)
	if err != nil {
		return err
	}
	snapshot, err := toNullJSON(e.Snapshot, e.Snapshot == nil)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO capsule_history_edits (id, capsule_id, period, editor_id, change_type, reason, payload_json, snapshot_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CapsuleID, period, e.EditorID, e.ChangeType, toNullString(e.Reason), payload, snapshot, e.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListEdits returns a capsule's edit log, newest first. Snapshots are not loaded
// unless withSnapshots is set. A limit of 0 returns every row.
func ListEdits(ctx context.Context, q Querier, capsuleID string, limit int, withSnapshots bool) ([]history.Edit, error) {
	snapshotCol := "NULL"
	if withSnapshots {
		snapshotCol = "snapshot_json"
	}
	query := `
		SELECT id, capsule_id, period, editor_id, change_type, reason, payload_json, ` + snapshotCol + `, created_at
		FROM capsule_history_edits
		WHERE capsule_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{capsuleID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []history.Edit{}
	for rows.Next() {
		var e history.Edit
		var period, reason, payload, snapshot sql.NullString
		if err := rows.Scan(&e.ID, &e.CapsuleID, &period, &e.EditorID, &e.ChangeType, &reason, &payload, &snapshot, &e.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		if period.Valid {
			p := history.Period(period.String)
			e.Period = &p
		}
		e.Reason = fromNullString(reason)
		if err := fromNullJSON(payload, &e.Payload); err != nil {
			return nil, err
		}
		if snapshot.Valid {
			e.Snapshot = &history.StoredSnapshot{}
			if err := fromNullJSON(snapshot, e.Snapshot); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
