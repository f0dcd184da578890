package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// Anthropic completes requests with Claude.
type Anthropic struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewAnthropic creates a Claude-backed client.
func NewAnthropic(apiKey, model string, timeout time.Duration, logger *zap.Logger) *Anthropic {
	if model == "" {
		model = defaultAnthropicModel
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &Anthropic{client: &client, model: model, timeout: timeout, logger: logger}
}

// Complete sends the request and returns the JSON body of the reply.
// The schema is carried in the system prompt and the reply is prefilled with
// "{" so Claude continues straight into the object.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	system := req.System
	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return "", fmt.Errorf("marshal schema: %w", err)
		}
		system += "\n\nThe JSON object must match this JSON schema:\n" + string(schema)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	start := time.Now()
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock("{")),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus("anthropic", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("%w: anthropic: %v", ErrUnavailable, err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	a.logger.Debug("anthropic completion",
		zap.String("model", a.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(text)))

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: anthropic returned empty response", ErrUnavailable)
	}
	// The reply continues after the prefilled brace.
	return "{" + text, nil
}
