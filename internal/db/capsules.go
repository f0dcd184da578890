package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/errors"
)

// InsertCapsule stores a new capsule.
func InsertCapsule(ctx context.Context, q Querier, c *capsule.Capsule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO capsules (id, name, name_norm, owner_id, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.NameNorm, c.OwnerID, toNullString(c.Description), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetCapsule retrieves a capsule by id.
func GetCapsule(ctx context.Context, q Querier, id string) (*capsule.Capsule, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, name_norm, owner_id, description, created_at, updated_at
		FROM capsules
		WHERE id = ?
	`, id)

	var c capsule.Capsule
	var description sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.NameNorm, &c.OwnerID, &description, &c.CreatedAt, &c.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("capsule", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c.Description = fromNullString(description)
	return &c, nil
}

// ListCapsules returns every capsule, newest first.
func ListCapsules(ctx context.Context, q Querier) ([]capsule.Capsule, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, name_norm, owner_id, description, created_at, updated_at
		FROM capsules
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []capsule.Capsule{}
	for rows.Next() {
		var c capsule.Capsule
		var description sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.NameNorm, &c.OwnerID, &description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		c.Description = fromNullString(description)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// UpsertMember adds a member or changes their role.
func UpsertMember(ctx context.Context, q Querier, m *capsule.Member) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO capsule_members (capsule_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(capsule_id, user_id) DO UPDATE SET role = excluded.role
	`, m.CapsuleID, m.UserID, string(m.Role), m.JoinedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetMemberRole returns the user's role in a capsule; ok is false for non-members.
func GetMemberRole(ctx context.Context, q Querier, capsuleID, userID string) (capsule.Role, bool, error) {
	var role string
	err := q.QueryRowContext(ctx, `
		SELECT role FROM capsule_members WHERE capsule_id = ? AND user_id = ?
	`, capsuleID, userID).Scan(&role)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return capsule.Role(role), true, nil
}
