package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	historyCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_history_cache_lookups_total",
		Help: "History cache lookups by result (hit, miss, stale)",
	}, []string{"result"})

	historyRegenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_history_regenerations_total",
		Help: "History regenerations by trigger",
	}, []string{"reason"})

	historyModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_history_model_calls_total",
		Help: "Model collaborator calls by outcome",
	}, []string{"outcome"})

	historyGenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "almanac_history_generation_duration_seconds",
		Help:    "Duration of history generation passes",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
	}, []string{"kind"})

	historyMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_history_mutations_total",
		Help: "Editorial mutations by change type",
	}, []string{"change_type"})
)

// Cache lookup results.
const (
	cacheHit   = "hit"
	cacheMiss  = "miss"
	cacheStale = "stale"
)

// Model call outcomes.
const (
	modelOK          = "ok"
	modelUnavailable = "unavailable"
	modelUnusable    = "unusable"
	modelConfigError = "config_error"
	modelDisabled    = "disabled"
)
