// Package llm adapts hosted language models to the narrow completion
// contract used by history generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/config"
	almanacerrors "github.com/hpungsan/almanac/internal/errors"
)

// ErrUnavailable marks a transient model failure. Callers degrade to
// deterministic content when they see it.
var ErrUnavailable = errors.New("model unavailable")

// ErrDisabled is returned when no provider is configured. It wraps
// ErrUnavailable, so generation degrades the same way, but it is expected
// rather than a failure.
var ErrDisabled = fmt.Errorf("%w: no provider configured", ErrUnavailable)

// Request is one completion call: a system instruction plus a single JSON user payload.
type Request struct {
	System      string
	User        string
	Schema      map[string]any
	Temperature float64
	MaxTokens   int
}

// Client completes a request and returns the raw model text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New builds the client selected by cfg.
// A provider without credentials yields a client whose every call fails with
// MODEL_NOT_CONFIGURED; an unknown provider is a startup error.
func New(ctx context.Context, cfg config.ModelConfig, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	switch cfg.Provider {
	case "", config.ProviderNone:
		return Disabled{}, nil
	case config.ProviderAnthropic, config.ProviderGemini:
	default:
		return nil, fmt.Errorf("unknown model provider: %q", cfg.Provider)
	}

	key := cfg.ResolveAPIKey()
	if key == "" {
		logger.Warn("model credentials missing", zap.String("provider", cfg.Provider))
		return Misconfigured{Reason: fmt.Sprintf("no API key for provider %q", cfg.Provider)}, nil
	}

	if cfg.Provider == config.ProviderAnthropic {
		return NewAnthropic(key, cfg.Name, timeout, logger), nil
	}
	return NewGemini(ctx, key, cfg.Name, timeout, logger)
}

// Disabled is the client used when no provider is configured.
type Disabled struct{}

// Complete always returns ErrDisabled.
func (Disabled) Complete(context.Context, Request) (string, error) {
	return "", ErrDisabled
}

// Misconfigured is the client used when a provider is selected but unusable.
type Misconfigured struct {
	Reason string
}

// Complete always fails with a non-degradable configuration error.
func (m Misconfigured) Complete(context.Context, Request) (string, error) {
	return "", almanacerrors.NewModelNotConfigured(m.Reason)
}

// IsConfigError reports whether err must not be degraded to fallback content.
func IsConfigError(err error) bool {
	return almanacerrors.Is(err, almanacerrors.ErrModelNotConfigured)
}

// IsDisabled reports whether err comes from the Disabled client.
func IsDisabled(err error) bool {
	return errors.Is(err, ErrDisabled)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyStatus maps a provider HTTP status to the error taxonomy.
func classifyStatus(provider string, status int, err error) error {
	if status == 401 || status == 403 {
		return almanacerrors.NewModelNotConfigured(fmt.Sprintf("%s rejected credentials (status %d)", provider, status))
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, provider, err)
}
