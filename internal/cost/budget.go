// Package cost tracks summarization token usage against an hourly budget.
package cost

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrBudgetExceeded is returned by CanProceed while the current window is over budget
var ErrBudgetExceeded = errors.New("summarization budget exceeded")

// StateFileName is the persisted state file inside the state directory
const StateFileName = "cost_state.json"

const (
	// stateLockWait bounds how long an update waits for another process
	stateLockWait = 5 * time.Second
	// stateLockStale is the age after which a leftover lock file is ignored
	stateLockStale = 30 * time.Second
)

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates approaching budget limits (>80% by default)
	BudgetWarning
	// BudgetExceeded indicates budget limits have been exceeded
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// BudgetState represents the persisted budget tracking state
type BudgetState struct {
	// Hourly tracking
	HourlyTokensUsed int64     `json:"hourly_tokens_used"`
	HourlyCostUsed   float64   `json:"hourly_cost_used"`
	WindowStartTime  time.Time `json:"window_start_time"`

	// Per-channel tokens, all time
	ChannelTokensUsed map[string]int64 `json:"channel_tokens_used"`

	TotalTokensUsed int64   `json:"total_tokens_used"`
	TotalCostUsed   float64 `json:"total_cost_used"`

	LastUpdated time.Time `json:"last_updated"`
}

// Tracker tracks summarization spend and enforces the hourly limits.
//
// With PersistStatePath set, the file is the source of truth: every check
// reloads it and every update is a locked read-modify-write, so processes
// sharing the file share one window.
type Tracker struct {
	config *Config
	state  *BudgetState
	logger zerolog.Logger
	now    func() time.Time
	mu     sync.Mutex

	// warningLogged avoids repeating the threshold warning within a window
	warningLogged bool
}

// NewTracker creates a tracker, restoring persisted state when present
func NewTracker(cfg *Config, logger zerolog.Logger) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	t := &Tracker{
		config: cfg,
		logger: logger.With().Str("component", "cost").Logger(),
		now:    time.Now,
	}
	t.state = newState(t.now())

	if cfg.PersistStatePath != "" {
		state, err := LoadState(cfg.PersistStatePath)
		if err != nil {
			t.logger.Warn().Err(err).Str("path", cfg.PersistStatePath).Msg("Failed to load cost state, starting fresh")
		} else if state != nil {
			t.state = state
		}
	}

	t.mu.Lock()
	t.checkAndResetWindow()
	t.mu.Unlock()

	return t, nil
}

func newState(now time.Time) *BudgetState {
	return &BudgetState{
		WindowStartTime:   now,
		ChannelTokensUsed: make(map[string]int64),
		LastUpdated:       now,
	}
}

// RecordUsage records the tokens of one model call made for channel and
// returns the budget status afterwards.
func (t *Tracker) RecordUsage(channel string, inputTokens, outputTokens int64) BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	totalTokens := inputTokens + outputTokens
	cost := t.calculateCost(inputTokens, outputTokens)

	unlock, err := lockStateFile(t.config.PersistStatePath)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Updating cost state without the file lock")
		unlock = func() {}
	}
	defer unlock()

	t.reloadState()
	t.checkAndResetWindow()

	t.state.HourlyTokensUsed += totalTokens
	t.state.HourlyCostUsed += cost
	t.state.TotalTokensUsed += totalTokens
	t.state.TotalCostUsed += cost
	t.state.ChannelTokensUsed[channel] += totalTokens
	t.state.LastUpdated = t.now()

	if err := t.persistState(); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist cost state")
	}

	status := t.getBudgetStatusLocked()
	switch {
	case status == BudgetExceeded:
		t.logger.Warn().
			Int64("hourly_tokens", t.state.HourlyTokensUsed).
			Float64("hourly_cost", t.state.HourlyCostUsed).
			Time("window_reset", t.state.WindowStartTime.Add(t.config.BudgetResetInterval)).
			Msg("Summarization budget exceeded; analyses wait for the next window")
	case status == BudgetWarning && !t.warningLogged:
		t.warningLogged = true
		t.logger.Warn().
			Int64("hourly_tokens", t.state.HourlyTokensUsed).
			Int64("max_tokens", t.config.MaxTokensPerHour).
			Msg("Summarization budget nearly used")
	}
	return status
}

// CanProceed returns nil when another model call fits in the current window
func (t *Tracker) CanProceed() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reloadState()
	t.checkAndResetWindow()

	if t.isHourlyTokenLimitExceeded() {
		return fmt.Errorf("%w: hourly token budget used (%d/%d tokens)",
			ErrBudgetExceeded, t.state.HourlyTokensUsed, t.config.MaxTokensPerHour)
	}
	if t.isHourlyCostLimitExceeded() {
		return fmt.Errorf("%w: hourly cost budget used ($%.2f/$%.2f)",
			ErrBudgetExceeded, t.state.HourlyCostUsed, t.config.MaxCostPerHour)
	}
	return nil
}

// GetStats returns current budget statistics
func (t *Tracker) GetStats() BudgetStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reloadState()
	t.checkAndResetWindow()
	return statsOf(t.state, t.getBudgetStatusLocked(), *t.config)
}

// BudgetStats contains budget statistics
type BudgetStats struct {
	Status           BudgetStatus `json:"status"`
	HourlyTokensUsed int64        `json:"hourly_tokens_used"`
	HourlyCostUsed   float64      `json:"hourly_cost_used"`
	TotalTokensUsed  int64        `json:"total_tokens_used"`
	TotalCostUsed    float64      `json:"total_cost_used"`
	WindowStartTime  time.Time    `json:"window_start_time"`
	LastUpdated      time.Time    `json:"last_updated"`
	Config           Config       `json:"config"`
}

func statsOf(s *BudgetState, status BudgetStatus, cfg Config) BudgetStats {
	return BudgetStats{
		Status:           status,
		HourlyTokensUsed: s.HourlyTokensUsed,
		HourlyCostUsed:   s.HourlyCostUsed,
		TotalTokensUsed:  s.TotalTokensUsed,
		TotalCostUsed:    s.TotalCostUsed,
		WindowStartTime:  s.WindowStartTime,
		LastUpdated:      s.LastUpdated,
		Config:           cfg,
	}
}

// getBudgetStatusLocked returns the current budget status (must be called with lock held)
func (t *Tracker) getBudgetStatusLocked() BudgetStatus {
	if t.isHourlyTokenLimitExceeded() || t.isHourlyCostLimitExceeded() {
		return BudgetExceeded
	}

	if t.config.MaxTokensPerHour > 0 &&
		float64(t.state.HourlyTokensUsed)/float64(t.config.MaxTokensPerHour) >= t.config.AlertThreshold {
		return BudgetWarning
	}
	if t.config.MaxCostPerHour > 0 &&
		t.state.HourlyCostUsed/t.config.MaxCostPerHour >= t.config.AlertThreshold {
		return BudgetWarning
	}

	return BudgetHealthy
}

func (t *Tracker) isHourlyTokenLimitExceeded() bool {
	return t.config.MaxTokensPerHour > 0 && t.state.HourlyTokensUsed >= t.config.MaxTokensPerHour
}

func (t *Tracker) isHourlyCostLimitExceeded() bool {
	return t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed >= t.config.MaxCostPerHour
}

// calculateCost calculates the cost in USD for given token usage
func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * t.config.InputTokenCost / 1_000_000
	outputCost := float64(outputTokens) * t.config.OutputTokenCost / 1_000_000
	return inputCost + outputCost
}

// checkAndResetWindow starts a new window once the current one has expired.
// MUST be called with mu held.
func (t *Tracker) checkAndResetWindow() {
	now := t.now()
	if now.Sub(t.state.WindowStartTime) >= t.config.BudgetResetInterval {
		t.state.HourlyTokensUsed = 0
		t.state.HourlyCostUsed = 0
		t.state.WindowStartTime = now
		t.warningLogged = false
	}
}

// reloadState picks up spend recorded by other processes. A missing or
// unreadable file keeps the in-memory state. MUST be called with mu held.
func (t *Tracker) reloadState() {
	if t.config.PersistStatePath == "" {
		return
	}
	state, err := LoadState(t.config.PersistStatePath)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to reload cost state")
		return
	}
	if state != nil {
		t.state = state
	}
}

// lockStateFile takes the exclusive lock guarding path's read-modify-write.
// The returned func releases it.
func lockStateFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	lockPath := path + ".lock"
	deadline := time.Now().Add(stateLockWait)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to lock cost state: %w", err)
		}

		// A holder that crashed leaves the file behind
		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > stateLockStale {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for cost state lock %s", lockPath)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// persistState saves the budget state to disk
func (t *Tracker) persistState() error {
	if t.config.PersistStatePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write then rename so a reader never sees a partial file
	tmp := t.config.PersistStatePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, t.config.PersistStatePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// LoadState reads persisted state. A missing file returns nil, nil.
func LoadState(path string) (*BudgetState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state BudgetState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	if state.ChannelTokensUsed == nil {
		state.ChannelTokensUsed = make(map[string]int64)
	}
	return &state, nil
}

// ReadStats reports the persisted budget of another process (e.g. a running
// 'shipwatch run') as of now. A missing file returns nil, nil.
func ReadStats(cfg *Config, now time.Time) (*BudgetStats, error) {
	if cfg.PersistStatePath == "" {
		return nil, nil
	}
	state, err := LoadState(cfg.PersistStatePath)
	if err != nil || state == nil {
		return nil, err
	}

	t := &Tracker{config: cfg, state: state, now: func() time.Time { return now }}
	t.checkAndResetWindow()
	stats := statsOf(t.state, t.getBudgetStatusLocked(), *cfg)
	return &stats, nil
}

// StatePath returns the state file location inside stateDir
func StatePath(stateDir string) string {
	return filepath.Join(stateDir, StateFileName)
}
