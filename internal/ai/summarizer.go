// Package ai wraps the Anthropic API as the channel summarizer.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/shipwatch/shipwatch/internal/cost"
	"github.com/shipwatch/shipwatch/internal/types"
)

// DefaultModel is used when no model is configured
const DefaultModel = "claude-sonnet-4-5-20250929"

// ErrNoAPIKey is returned by NewSummarizer without credentials
var ErrNoAPIKey = errors.New("ANTHROPIC_API_KEY not set")

// Config holds summarizer configuration
type Config struct {
	APIKey    string // Anthropic API key
	Model     string // Model to use (default: DefaultModel)
	MaxTokens int64  // Response budget (default: 1024)
	// BaseURL overrides the API endpoint (tests, proxies)
	BaseURL string
	Retry   RetryConfig // Retry configuration (uses defaults if MaxRetries is 0)
	// Budget, when set, is checked before every call and charged after it
	Budget *cost.Tracker
}

// Summarizer turns a formatted batch of channel activity into a summary
type Summarizer struct {
	client         anthropic.Client
	model          string
	maxTokens      int64
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	budget         *cost.Tracker
	logger         zerolog.Logger
}

// NewSummarizer creates a summarizer. Retries are handled here, so the SDK's
// own retry loop is disabled.
func NewSummarizer(cfg Config, logger zerolog.Logger) (*Summarizer, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	logger = logger.With().Str("component", "ai").Str("model", model).Logger()

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	s := &Summarizer{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		retry:     retry,
		budget:    cfg.Budget,
		logger:    logger,
	}
	if retry.CircuitBreakerEnabled {
		s.circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout, logger)
	}
	if retry.MaxConcurrentCalls > 0 {
		s.concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	return s, nil
}

// Summarize asks the model for a summary of text, the formatted activity of channel
func (s *Summarizer) Summarize(ctx context.Context, channel types.ChannelID, text string) (string, error) {
	if s.budget != nil {
		if err := s.budget.CanProceed(); err != nil {
			return "", err
		}
	}

	prompt := BuildPrompt(channel, text)

	var response *anthropic.Message
	err := s.retryWithBackoff(ctx, "summarize", func(attemptCtx context.Context) error {
		resp, apiErr := s.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(s.model),
			MaxTokens: s.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}
	if s.budget != nil {
		s.budget.RecordUsage(channel.String(), response.Usage.InputTokens, response.Usage.OutputTokens)
	}

	var b strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return "", fmt.Errorf("empty summary from model")
	}

	s.logger.Debug().
		Str("channel", channel.String()).
		Int64("input_tokens", response.Usage.InputTokens).
		Int64("output_tokens", response.Usage.OutputTokens).
		Msg("summarized channel")
	return summary, nil
}
