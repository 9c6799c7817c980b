package cost

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, cfg *Config, now *time.Time) *Tracker {
	t.Helper()
	tr, err := NewTracker(cfg, zerolog.Nop())
	require.NoError(t, err)
	tr.now = func() time.Time { return *now }
	tr.state.WindowStartTime = *now
	return tr
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unlimited", func(c *Config) { c.MaxTokensPerHour = 0; c.MaxCostPerHour = 0 }, ""},
		{"negative tokens", func(c *Config) { c.MaxTokensPerHour = -1 }, "max_tokens_per_hour"},
		{"negative cost", func(c *Config) { c.MaxCostPerHour = -1 }, "max_cost_per_hour"},
		{"threshold zero", func(c *Config) { c.AlertThreshold = 0 }, "alert_threshold"},
		{"threshold above one", func(c *Config) { c.AlertThreshold = 1.5 }, "alert_threshold"},
		{"zero interval", func(c *Config) { c.BudgetResetInterval = 0 }, "budget_reset_interval"},
		{"negative input price", func(c *Config) { c.InputTokenCost = -3 }, "input_token_cost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTokenBudget(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.MaxTokensPerHour = 1000
	cfg.MaxCostPerHour = 0
	tr := newTestTracker(t, cfg, &now)

	assert.Equal(t, BudgetHealthy, tr.RecordUsage("~zod/general", 300, 100))
	require.NoError(t, tr.CanProceed())

	assert.Equal(t, BudgetWarning, tr.RecordUsage("~zod/general", 400, 50))
	require.NoError(t, tr.CanProceed())

	assert.Equal(t, BudgetExceeded, tr.RecordUsage("~bus/dev", 150, 50))
	err := tr.CanProceed()
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "1050/1000")

	// A new window clears the hourly counters but keeps the totals
	now = now.Add(time.Hour)
	require.NoError(t, tr.CanProceed())
	stats := tr.GetStats()
	assert.Equal(t, BudgetHealthy, stats.Status)
	assert.Zero(t, stats.HourlyTokensUsed)
	assert.Equal(t, int64(1050), stats.TotalTokensUsed)
	assert.Equal(t, int64(850), tr.state.ChannelTokensUsed["~zod/general"])
}

func TestCostBudget(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.MaxTokensPerHour = 0
	cfg.MaxCostPerHour = 0.03
	tr := newTestTracker(t, cfg, &now)

	// 10k input tokens at $3/M is $0.03
	assert.Equal(t, BudgetExceeded, tr.RecordUsage("~zod/general", 10_000, 0))
	err := tr.CanProceed()
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "cost")
	assert.InDelta(t, 0.03, tr.GetStats().HourlyCostUsed, 1e-9)
}

func TestUnlimitedBudget(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MaxTokensPerHour = 0
	cfg.MaxCostPerHour = 0
	tr := newTestTracker(t, cfg, &now)

	assert.Equal(t, BudgetHealthy, tr.RecordUsage("~zod/general", 1_000_000, 1_000_000))
	assert.NoError(t, tr.CanProceed())
}

func TestStatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.PersistStatePath = path
	cfg.MaxTokensPerHour = 1000

	tr := newTestTracker(t, cfg, &now)
	tr.RecordUsage("~zod/general", 900, 200)

	// Another process reading the file sees the spend
	stats, err := ReadStats(cfg, now.Add(10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, BudgetExceeded, stats.Status)
	assert.Equal(t, int64(1100), stats.HourlyTokensUsed)

	// After the window it reads as reset
	stats, err = ReadStats(cfg, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.HourlyTokensUsed)
	assert.Equal(t, int64(1100), stats.TotalTokensUsed)

	// A restarted tracker resumes the totals
	restored, err := NewTracker(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(1100), restored.GetStats().TotalTokensUsed)
}

func TestReadStatsMissingFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistStatePath = filepath.Join(t.TempDir(), StateFileName)
	stats, err := ReadStats(cfg, time.Now())
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestTrackersSharingStateShareTheWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.PersistStatePath = filepath.Join(t.TempDir(), StateFileName)
	cfg.MaxTokensPerHour = 100000
	cfg.MaxCostPerHour = 0

	// e.g. 'shipwatch run' and a one-off 'shipwatch analyze'
	run := newTestTracker(t, cfg, &now)
	analyze := newTestTracker(t, cfg, &now)

	analyze.RecordUsage("~zod/general", 60000, 0)
	assert.Equal(t, BudgetExceeded, run.RecordUsage("~bus/dev", 60000, 0))

	require.ErrorIs(t, run.CanProceed(), ErrBudgetExceeded)
	require.ErrorIs(t, analyze.CanProceed(), ErrBudgetExceeded)

	stats, err := ReadStats(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, int64(120000), stats.HourlyTokensUsed)

	_, err = os.Stat(cfg.PersistStatePath + ".lock")
	assert.True(t, os.IsNotExist(err), "lock released after each update")
}

func TestConcurrentTrackersLoseNoUsage(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.PersistStatePath = filepath.Join(t.TempDir(), StateFileName)
	cfg.MaxTokensPerHour = 0
	cfg.MaxCostPerHour = 0

	trackers := []*Tracker{newTestTracker(t, cfg, &now), newTestTracker(t, cfg, &now)}
	var wg sync.WaitGroup
	for _, tr := range trackers {
		wg.Add(1)
		go func(tr *Tracker) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				tr.RecordUsage("~zod/general", 7, 3)
			}
		}(tr)
	}
	wg.Wait()

	stats, err := ReadStats(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, int64(400), stats.TotalTokensUsed)
}

func TestStaleStateLockIsBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	lockPath := path + ".lock"
	require.NoError(t, os.WriteFile(lockPath, nil, 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	unlock, err := lockStateFile(path)
	require.NoError(t, err)
	unlock()
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}
