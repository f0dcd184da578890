package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
)

const pinColumns = `id, capsule_id, period, type, rank, post_id, quote, source, note, created_by, created_at`

func scanPin(row rowScanner) (*history.Pin, error) {
	var p history.Pin
	var period string
	var postID, quote, note sql.NullString
	if err := row.Scan(&p.ID, &p.CapsuleID, &period, &p.Type, &p.Rank, &postID, &quote,
		&p.Source, &note, &p.CreatedBy, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Period = history.Period(period)
	p.PostID = fromNullString(postID)
	p.Quote = fromNullString(quote)
	p.Note = fromNullString(note)
	return &p, nil
}

// InsertPin stores a new pin.
func InsertPin(ctx context.Context, q Querier, p *history.Pin) error {
	_, err := q.ExecContext(ctx, `INSERT INTO capsule_history_pins (`+pinColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.CapsuleID, string(p.Period), p.Type, p.Rank, toNullString(p.PostID),
		toNullString(p.Quote), p.Source, toNullString(p.Note), p.CreatedBy, p.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetPin retrieves a pin by id.
func GetPin(ctx context.Context, q Querier, id string) (*history.Pin, error) {
	row := q.QueryRowContext(ctx, `SELECT `+pinColumns+` FROM capsule_history_pins WHERE id = ?`, id)
	p, err := scanPin(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("pin", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return p, nil
}

// ListPins returns a capsule's pins ordered by period and rank.
func ListPins(ctx context.Context, q Querier, capsuleID string) ([]history.Pin, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+pinColumns+`
		FROM capsule_history_pins
		WHERE capsule_id = ?
		ORDER BY period, rank, created_at, id
	`, capsuleID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []history.Pin{}
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// NextPinRank returns one past the highest rank used in (capsule, period).
func NextPinRank(ctx context.Context, q Querier, capsuleID string, period history.Period) (int, error) {
	var maxRank sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(rank) FROM capsule_history_pins WHERE capsule_id = ? AND period = ?
	`, capsuleID, string(period)).Scan(&maxRank)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	if !maxRank.Valid {
		return 0, nil
	}
	return int(maxRank.Int64) + 1, nil
}

// DeletePin removes a pin; a missing pin is NOT_FOUND.
func DeletePin(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM capsule_history_pins WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("pin", id)
	}
	return nil
}
