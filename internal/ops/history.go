package ops

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/cache"
	"github.com/hpungsan/almanac/internal/config"
	"github.com/hpungsan/almanac/internal/history"
	"github.com/hpungsan/almanac/internal/llm"
)

// CachedHistory is a composed history plus the freshness facts it was built from.
// Cached snapshots are shared between readers and must not be mutated.
type CachedHistory struct {
	Snapshot     *history.Snapshot
	LatestPostAt *time.Time
	GeneratedAt  *time.Time
}

// HistoryService serves capsule histories and their editorial mutations.
type HistoryService struct {
	db     *sql.DB
	cfg    *config.Config
	model  llm.Client
	cache  cache.Cache[*CachedHistory]
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a HistoryService.
type Option func(*HistoryService)

// WithModel sets the model collaborator. The default is llm.Disabled.
func WithModel(m llm.Client) Option {
	return func(s *HistoryService) { s.model = m }
}

// WithCache replaces the in-process history cache.
func WithCache(c cache.Cache[*CachedHistory]) Option {
	return func(s *HistoryService) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *HistoryService) { s.logger = l }
}

// WithClock overrides the time source for staleness and cache TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *HistoryService) { s.now = now }
}

// NewHistoryService builds the service over an initialized database.
func NewHistoryService(database *sql.DB, cfg *config.Config, opts ...Option) (*HistoryService, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &HistoryService{
		db:     database,
		cfg:    cfg,
		model:  llm.Disabled{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cache == nil {
		size := cfg.HistoryCacheSize
		if size <= 0 {
			size = config.DefaultConfig().HistoryCacheSize
		}
		lru, err := cache.NewLRU[*CachedHistory](size, cache.WithClock(s.now))
		if err != nil {
			return nil, fmt.Errorf("history cache: %w", err)
		}
		s.cache = lru
	}
	return s, nil
}

func (s *HistoryService) postLimit() int {
	if s.cfg.HistoryPostLimit > 0 {
		return s.cfg.HistoryPostLimit
	}
	return DefaultPostLimit
}

func (s *HistoryService) temperature() float64 {
	if s.cfg.Model.Temperature > 0 {
		return s.cfg.Model.Temperature
	}
	return history.ModelTemperature
}

// invalidate drops the capsule's cached composition after a mutation.
func (s *HistoryService) invalidate(capsuleID string) {
	s.cache.Invalidate(capsuleID)
}
