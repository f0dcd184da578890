package ops

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
)

// RefreshStaleInput contains parameters for the RefreshStaleHistories operation.
type RefreshStaleInput struct {
	Limit             int // default: 25, max: 500
	StaleAfterMinutes int // default: 360
	Concurrency       int // default: 1
}

// RefreshFailure records one capsule the sweep could not refresh.
type RefreshFailure struct {
	CapsuleID string `json:"capsule_id"`
	Error     string `json:"error"`
}

// RefreshStaleOutput contains the result of the RefreshStaleHistories operation.
type RefreshStaleOutput struct {
	Checked   int              `json:"checked"`
	Refreshed []string         `json:"refreshed"`
	Failed    []RefreshFailure `json:"failed"`
}

// RefreshStaleHistories regenerates capsules whose suggested snapshot is
// older than the threshold or missing, oldest first. Per-capsule failures
// are recorded and the sweep continues; a configuration error aborts it.
func (s *HistoryService) RefreshStaleHistories(ctx context.Context, input RefreshStaleInput) (*RefreshStaleOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	if limit > MaxSweepLimit {
		limit = MaxSweepLimit
	}
	staleAfter := input.StaleAfterMinutes
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	concurrency := input.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	threshold := s.now().Add(-time.Duration(staleAfter) * time.Minute)
	ids, err := db.ListStaleCapsules(ctx, s.db, threshold, limit)
	if err != nil {
		return nil, err
	}

	out := &RefreshStaleOutput{Checked: len(ids), Refreshed: []string{}, Failed: []RefreshFailure{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := s.refreshCapsule(gctx, id)
			if err != nil && isHardError(err) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("stale history refresh failed", zap.String("capsule_id", id), zap.Error(err))
				out.Failed = append(out.Failed, RefreshFailure{CapsuleID: id, Error: err.Error()})
				return nil
			}
			out.Refreshed = append(out.Refreshed, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && !isHardError(err) {
			return nil, errors.NewCancelled("stale history refresh")
		}
		return nil, err
	}

	sort.Strings(out.Refreshed)
	sort.Slice(out.Failed, func(i, j int) bool { return out.Failed[i].CapsuleID < out.Failed[j].CapsuleID })
	s.logger.Info("stale history sweep finished",
		zap.Int("checked", out.Checked),
		zap.Int("refreshed", len(out.Refreshed)),
		zap.Int("failed", len(out.Failed)))
	return out, nil
}

// refreshCapsule regenerates one capsule unconditionally and drops its cache entry.
func (s *HistoryService) refreshCapsule(ctx context.Context, capsuleID string) error {
	c, err := db.GetCapsule(ctx, s.db, capsuleID)
	if err != nil {
		return err
	}
	rec, err := db.GetSnapshot(ctx, s.db, c.ID)
	if err != nil {
		return err
	}
	ov, err := s.loadOverlays(ctx, c.ID)
	if err != nil {
		return err
	}
	activity, err := db.GetActivity(ctx, s.db, c.ID)
	if err != nil {
		return err
	}
	historyRegenerations.WithLabelValues(staleSweep).Inc()
	if _, err := s.regenerate(ctx, c, rec, ov, activity); err != nil {
		return err
	}
	s.invalidate(c.ID)
	return nil
}
