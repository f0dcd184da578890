// Package ops implements the public operation surface: capsule history
// reads, editorial mutations, refinement, and the stale history sweep.
package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
)

// Limits
const (
	DefaultPostLimit     = 200
	DefaultSweepLimit    = 25
	MaxSweepLimit        = 500
	DefaultStaleAfter    = 360 // minutes
	MaxReasonChars       = 500
	MaxInstructionsChars = 2000
	MaxNoteChars         = 2000
)

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// cleanOptionalString trims s and maps blank values to nil.
func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// parsePeriod validates a period parameter.
func parsePeriod(s string) (history.Period, error) {
	p, ok := history.ParsePeriod(strings.TrimSpace(s))
	if !ok {
		return "", errors.NewInvalidRequest("period must be one of: weekly, monthly, all_time")
	}
	return p, nil
}

// requireID validates a required identifier parameter.
func requireID(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", errors.NewInvalidRequest(field + " is required")
	}
	return v, nil
}

// canEdit reports whether userID may curate the capsule's history.
// The owner always can; other members need an editorial role.
func canEdit(ctx context.Context, q db.Querier, c *capsule.Capsule, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if c.OwnerID == userID {
		return true, nil
	}
	role, ok, err := db.GetMemberRole(ctx, q, c.ID, userID)
	if err != nil || !ok {
		return false, err
	}
	return role.CanEditHistory(), nil
}

// requireEditor loads the capsule and checks the actor's role.
func requireEditor(ctx context.Context, database *sql.DB, capsuleID, actorID string) (*capsule.Capsule, error) {
	capsuleID, err := requireID("capsule_id", capsuleID)
	if err != nil {
		return nil, err
	}
	actorID, err = requireID("actor_id", actorID)
	if err != nil {
		return nil, err
	}
	c, err := db.GetCapsule(ctx, database, capsuleID)
	if err != nil {
		return nil, err
	}
	ok, err := canEdit(ctx, database, c, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewForbidden(actorID, capsuleID)
	}
	return c, nil
}
