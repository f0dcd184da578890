package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Model provider names.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds application configuration.
type Config struct {
	// HistoryCacheTTLSeconds is how long a composed history stays in the in-process cache.
	HistoryCacheTTLSeconds int `json:"history_cache_ttl_seconds"`

	// HistoryCacheSize bounds the number of capsules held in the in-process cache.
	HistoryCacheSize int `json:"history_cache_size"`

	// HistoryMaxAgeDays forces regeneration once a suggested snapshot is older than this.
	HistoryMaxAgeDays int `json:"history_max_age_days"`

	// HistoryPostLimit is the number of most recent posts fetched per generation pass.
	HistoryPostLimit int `json:"history_post_limit"`

	// Model configures the language-model collaborator used for narrative generation.
	Model ModelConfig `json:"model"`

	// Sweep configures the scheduled refresh of stale histories (serve mode only).
	Sweep SweepConfig `json:"sweep"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "history", "capsule". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `json:"debug,omitempty"`
}

// ModelConfig selects and tunes the model collaborator.
type ModelConfig struct {
	// Provider is one of "none", "anthropic", "gemini".
	// "none" disables model calls; every section then uses the deterministic narrative.
	Provider string `json:"provider"`

	// Name is the provider-specific model identifier.
	Name string `json:"name,omitempty"`

	// APIKey is the provider credential. When empty, APIKeyEnv is consulted.
	APIKey string `json:"api_key,omitempty"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `json:"api_key_env,omitempty"`

	// Temperature must be in (0, 2]. Zero in a config file reads as
	// omitted and keeps the default.
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
}

// SweepConfig configures the stale history sweep.
type SweepConfig struct {
	// Schedule is a cron expression ("*/30 * * * *"). Empty disables the sweep.
	Schedule          string `json:"schedule,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
	Limit             int    `json:"limit,omitempty"`
	StaleAfterMinutes int    `json:"stale_after_minutes,omitempty"`
	Concurrency       int    `json:"concurrency,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		HistoryCacheTTLSeconds: 300,
		HistoryCacheSize:       512,
		HistoryMaxAgeDays:      7,
		HistoryPostLimit:       200,
		Model: ModelConfig{
			Provider:       ProviderNone,
			Temperature:    0.4,
			MaxTokens:      4096,
			TimeoutSeconds: 60,
		},
		Sweep: SweepConfig{
			Schedule:          "*/30 * * * *",
			Timezone:          "UTC",
			Limit:             25,
			StaleAfterMinutes: 360,
			Concurrency:       1,
		},
	}
}

// CacheTTL returns the history cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.HistoryCacheTTLSeconds) * time.Second
}

// MaxAge returns the suggested snapshot age ceiling as a duration.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.HistoryMaxAgeDays) * 24 * time.Hour
}

// ResolveAPIKey returns the configured model credential, falling back to the
// environment variable named by APIKeyEnv (or the provider's conventional one).
func (m ModelConfig) ResolveAPIKey() string {
	if strings.TrimSpace(m.APIKey) != "" {
		return strings.TrimSpace(m.APIKey)
	}
	env := m.APIKeyEnv
	if env == "" {
		switch m.Provider {
		case ProviderAnthropic:
			env = "ANTHROPIC_API_KEY"
		case ProviderGemini:
			env = "GEMINI_API_KEY"
		}
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderNone, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unknown model provider: %q", c.Model.Provider)
	}
	if c.Model.Temperature <= 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model temperature out of range (0, 2]: %v", c.Model.Temperature)
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.almanac.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.almanac) and repo (.almanac) directories.
// Repo config is found by walking upward from startDir to find the nearest .almanac/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .almanac/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".almanac", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.HistoryCacheTTLSeconds = pickInt(overlay.HistoryCacheTTLSeconds, base.HistoryCacheTTLSeconds)
	result.HistoryCacheSize = pickInt(overlay.HistoryCacheSize, base.HistoryCacheSize)
	result.HistoryMaxAgeDays = pickInt(overlay.HistoryMaxAgeDays, base.HistoryMaxAgeDays)
	result.HistoryPostLimit = pickInt(overlay.HistoryPostLimit, base.HistoryPostLimit)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.Model = ModelConfig{
		Provider:       pickString(overlay.Model.Provider, base.Model.Provider),
		Name:           pickString(overlay.Model.Name, base.Model.Name),
		APIKey:         pickString(overlay.Model.APIKey, base.Model.APIKey),
		APIKeyEnv:      pickString(overlay.Model.APIKeyEnv, base.Model.APIKeyEnv),
		Temperature:    base.Model.Temperature,
		MaxTokens:      pickInt(overlay.Model.MaxTokens, base.Model.MaxTokens),
		TimeoutSeconds: pickInt(overlay.Model.TimeoutSeconds, base.Model.TimeoutSeconds),
	}
	if overlay.Model.Temperature != 0 {
		result.Model.Temperature = overlay.Model.Temperature
	}

	result.Sweep = SweepConfig{
		Schedule:          pickString(overlay.Sweep.Schedule, base.Sweep.Schedule),
		Timezone:          pickString(overlay.Sweep.Timezone, base.Sweep.Timezone),
		Limit:             pickInt(overlay.Sweep.Limit, base.Sweep.Limit),
		StaleAfterMinutes: pickInt(overlay.Sweep.StaleAfterMinutes, base.Sweep.StaleAfterMinutes),
		Concurrency:       pickInt(overlay.Sweep.Concurrency, base.Sweep.Concurrency),
	}

	// Booleans: overlay wins if true, else base
	result.Debug = base.Debug || overlay.Debug

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return strings.TrimSpace(overlay)
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
