package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
)

// CreateCapsuleInput contains parameters for the CreateCapsule operation.
type CreateCapsuleInput struct {
	Name        string  // required, unique after normalization
	OwnerID     string  // required
	Description *string // optional
}

// CreateCapsule creates a capsule and records the owner as a member.
func CreateCapsule(ctx context.Context, database *sql.DB, input CreateCapsuleInput) (*capsule.Capsule, error) {
	name := capsule.CollapseWhitespace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	ownerID, err := requireID("owner_id", input.OwnerID)
	if err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()
	c := &capsule.Capsule{
		ID:          id,
		Name:        name,
		NameNorm:    capsule.Normalize(name),
		OwnerID:     ownerID,
		Description: cleanOptionalString(input.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = db.WithTx(ctx, database, func(tx *sql.Tx) error {
		if err := db.InsertCapsule(ctx, tx, c); err != nil {
			if err == db.ErrUniqueConstraint {
				return errors.NewConflict("a capsule named " + name + " already exists")
			}
			return err
		}
		return db.UpsertMember(ctx, tx, &capsule.Member{
			CapsuleID: id,
			UserID:    ownerID,
			Role:      capsule.RoleOwner,
			JoinedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AddMemberInput contains parameters for the AddMember operation.
type AddMemberInput struct {
	CapsuleID string
	ActorID   string // must be the owner or an admin
	UserID    string
	Role      string
}

// AddMember adds a member or changes an existing member's role.
func AddMember(ctx context.Context, database *sql.DB, input AddMemberInput) (*capsule.Member, error) {
	capsuleID, err := requireID("capsule_id", input.CapsuleID)
	if err != nil {
		return nil, err
	}
	userID, err := requireID("user_id", input.UserID)
	if err != nil {
		return nil, err
	}
	role, ok := capsule.ParseRole(input.Role)
	if !ok {
		return nil, errors.NewInvalidRequest("role must be one of: owner, admin, moderator, member")
	}

	c, err := db.GetCapsule(ctx, database, capsuleID)
	if err != nil {
		return nil, err
	}
	actorRole := capsule.Role("")
	if input.ActorID == c.OwnerID {
		actorRole = capsule.RoleOwner
	} else if r, ok, err := db.GetMemberRole(ctx, database, capsuleID, input.ActorID); err != nil {
		return nil, err
	} else if ok {
		actorRole = r
	}
	if actorRole != capsule.RoleOwner && actorRole != capsule.RoleAdmin {
		return nil, errors.NewForbidden(input.ActorID, capsuleID)
	}
	if role == capsule.RoleOwner && userID != c.OwnerID {
		return nil, errors.NewInvalidRequest("a capsule has exactly one owner")
	}

	m := &capsule.Member{
		CapsuleID: capsuleID,
		UserID:    userID,
		Role:      role,
		JoinedAt:  time.Now().Unix(),
	}
	if err := db.UpsertMember(ctx, database, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddPostInput contains parameters for the AddPost operation.
type AddPostInput struct {
	CapsuleID  string
	AuthorID   string
	AuthorName *string
	Kind       string // default: "text"
	Content    *string
	MediaCount int
	CreatedAt  *time.Time // default: now
}

// AddPost stores a post. The history picks it up on the next staleness check.
func AddPost(ctx context.Context, database *sql.DB, input AddPostInput) (*capsule.Post, error) {
	capsuleID, err := requireID("capsule_id", input.CapsuleID)
	if err != nil {
		return nil, err
	}
	authorID, err := requireID("author_id", input.AuthorID)
	if err != nil {
		return nil, err
	}
	if input.MediaCount < 0 {
		return nil, errors.NewInvalidRequest("media_count must not be negative")
	}
	content := cleanOptionalString(input.Content)
	if content == nil && input.MediaCount == 0 {
		return nil, errors.NewInvalidRequest("a post needs content or media")
	}
	if _, err := db.GetCapsule(ctx, database, capsuleID); err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	createdAt := time.Now()
	if input.CreatedAt != nil {
		createdAt = *input.CreatedAt
	}
	if createdAt.Unix() <= 0 {
		return nil, errors.NewInvalidRequest("created_at must be after 1970-01-01T00:00:00Z")
	}
	p := &capsule.Post{
		ID:         id,
		CapsuleID:  capsuleID,
		AuthorID:   authorID,
		AuthorName: cleanOptionalString(input.AuthorName),
		Kind:       capsule.NormalizeKind(input.Kind),
		Content:    content,
		MediaCount: input.MediaCount,
		CreatedAt:  createdAt.Unix(),
	}
	if err := db.InsertPost(ctx, database, p); err != nil {
		return nil, err
	}
	return p, nil
}
