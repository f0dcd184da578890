package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/errors"
)

// Activity is the cheap freshness probe for a capsule's posts.
type Activity struct {
	LatestPostAt *time.Time
	PostCount    int
}

// InsertPost stores a new post.
func InsertPost(ctx context.Context, q Querier, p *capsule.Post) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO posts (id, capsule_id, author_id, author_name, kind, content, media_count, likes, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.CapsuleID, p.AuthorID, toNullString(p.AuthorName), p.Kind, toNullString(p.Content),
		p.MediaCount, p.Likes, p.Comments, p.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// ListRecentPosts returns up to limit posts of a capsule, newest first.
func ListRecentPosts(ctx context.Context, q Querier, capsuleID string, limit int) ([]capsule.Post, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, capsule_id, author_id, author_name, kind, content, media_count, likes, comments, created_at
		FROM posts
		WHERE capsule_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, capsuleID, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []capsule.Post{}
	for rows.Next() {
		var p capsule.Post
		var authorName, content sql.NullString
		if err := rows.Scan(&p.ID, &p.CapsuleID, &p.AuthorID, &authorName, &p.Kind, &content,
			&p.MediaCount, &p.Likes, &p.Comments, &p.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		p.AuthorName = fromNullString(authorName)
		p.Content = fromNullString(content)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// GetActivity returns the newest post time and post count for a capsule.
// Posts dated at or before the epoch carry no usable time, the same as in
// history.NormalizePost, so they never count as the newest post.
func GetActivity(ctx context.Context, q Querier, capsuleID string) (Activity, error) {
	var latest sql.NullInt64
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT MAX(CASE WHEN created_at > 0 THEN created_at END), COUNT(*)
		FROM posts WHERE capsule_id = ?
	`, capsuleID).Scan(&latest, &count)
	if err != nil {
		return Activity{}, errors.NewInternal(err)
	}
	return Activity{LatestPostAt: fromNullTime(latest), PostCount: count}, nil
}
