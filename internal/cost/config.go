package cost

import (
	"fmt"
	"time"
)

// Config holds summarization budget configuration
type Config struct {
	// MaxTokensPerHour is the maximum number of tokens (input + output) allowed per window
	// 0 = unlimited
	// Default: 100000
	MaxTokensPerHour int64 `json:"max_tokens_per_hour"`

	// MaxCostPerHour is the maximum cost in USD allowed per window
	// 0.0 = unlimited (use token limits instead)
	// Default: 1.50
	MaxCostPerHour float64 `json:"max_cost_per_hour"`

	// AlertThreshold is the fraction of budget usage that logs a warning
	// Default: 0.80 (80%)
	AlertThreshold float64 `json:"alert_threshold"`

	// BudgetResetInterval is how often the hourly budget resets
	// Default: 1 hour
	BudgetResetInterval time.Duration `json:"budget_reset_interval"`

	// PersistStatePath is where budget state is persisted (for restart recovery
	// and for 'shipwatch status'). Empty disables persistence.
	PersistStatePath string `json:"persist_state_path"`

	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $3.00 for Claude Sonnet 4.5
	InputTokenCost float64 `json:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $15.00 for Claude Sonnet 4.5
	OutputTokenCost float64 `json:"output_token_cost"`
}

// DefaultConfig returns default budget configuration
func DefaultConfig() *Config {
	return &Config{
		MaxTokensPerHour:    100000,
		MaxCostPerHour:      1.50, // ~$36/day max
		AlertThreshold:      0.80,
		BudgetResetInterval: time.Hour,
		InputTokenCost:      3.00,
		OutputTokenCost:     15.00,
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if c.MaxTokensPerHour < 0 {
		return fmt.Errorf("max_tokens_per_hour must be non-negative, got %d", c.MaxTokensPerHour)
	}

	if c.MaxCostPerHour < 0 {
		return fmt.Errorf("max_cost_per_hour must be non-negative, got %.2f", c.MaxCostPerHour)
	}

	if c.AlertThreshold <= 0 || c.AlertThreshold > 1.0 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}

	if c.BudgetResetInterval <= 0 {
		return fmt.Errorf("budget_reset_interval must be positive, got %v", c.BudgetResetInterval)
	}

	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}

	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}

	return nil
}
