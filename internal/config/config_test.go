package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/types"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60*time.Minute, cfg.Poll.Interval)
	assert.Equal(t, 5, cfg.Analysis.MinMessages)
	assert.Contains(t, cfg.Discovery.CommonNames, "uf-public")
	assert.Contains(t, cfg.Channels, types.MustParseChannelID("~zod/general"))
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
ship:
  url: https://sampel-palnet.arvo.network
  timeout: 10s
poll:
  interval: 2h
  concurrency: 4
  delay: 500ms
discovery:
  enabled: false
  interval: 1d
  hubs: ["~nattyv/urbit"]
  max_probes_per_run: 20
analysis:
  min_messages: 10
  max_batch_events: 50
  max_cost_per_hour: 0
channels:
  - "/ship/~zod/general"
  - "~halbex-palheb/uf-public/general"
log:
  format: json
database: /tmp/x.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://sampel-palnet.arvo.network", cfg.Ship.URL)
	assert.Equal(t, 10*time.Second, cfg.Ship.Timeout)
	assert.Equal(t, 100, cfg.Ship.FetchCount, "unset fields keep defaults")
	assert.Equal(t, 2*time.Hour, cfg.Poll.Interval)
	assert.Equal(t, 4, cfg.Poll.Concurrency)
	assert.InDelta(t, 2.0, cfg.Poll.RequestsPerSecond(), 1e-9)
	assert.False(t, cfg.Discovery.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Discovery.Interval)
	assert.Equal(t, []types.ChannelID{types.MustParseChannelID("~nattyv/urbit")}, cfg.Discovery.Hubs)
	assert.Equal(t, 20, cfg.Discovery.MaxProbesPerRun)
	assert.Equal(t, 10, cfg.Analysis.MinMessages)
	assert.Zero(t, cfg.Analysis.MaxCostPerHour, "explicit 0 disables the cost limit")
	assert.Equal(t, int64(100000), cfg.Analysis.MaxTokensPerHour)
	assert.Equal(t, []types.ChannelID{
		types.MustParseChannelID("~zod/general"),
		types.MustParseChannelID("~halbex-palheb/uf-public/general"),
	}, cfg.Channels)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/tmp/x.db", cfg.DatabasePath)
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "ship: [", "parsing config file"},
		{"bad duration", "poll:\n  interval: soon\n", "invalid poll.interval"},
		{"bad day duration", "discovery:\n  interval: xd\n", "invalid discovery.interval"},
		{"bad channel", "channels: [\"zod/general\"]\n", "invalid channels entry"},
		{"bad hub", "discovery:\n  hubs: [\"~zod\"]\n", "invalid discovery.hubs entry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty ship url", func(c *Config) { c.Ship.URL = "" }, "ship.url"},
		{"fetch count", func(c *Config) { c.Ship.FetchCount = 5000 }, "ship.fetch_count"},
		{"poll concurrency", func(c *Config) { c.Poll.Concurrency = 0 }, "poll.concurrency"},
		{"negative delay", func(c *Config) { c.Poll.Delay = -time.Second }, "poll.delay"},
		{"known host", func(c *Config) { c.Discovery.KnownHosts = []string{"zod"} }, "known_hosts"},
		{"probe budget", func(c *Config) { c.Discovery.MaxProbesPerRun = 0 }, "max_probes_per_run"},
		{"min messages", func(c *Config) { c.Analysis.MinMessages = 0 }, "min_messages"},
		{"batch below threshold", func(c *Config) { c.Analysis.MaxBatchEvents = 2 }, "max_batch_events"},
		{"negative token budget", func(c *Config) { c.Analysis.MaxTokensPerHour = -1 }, "max_tokens_per_hour"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "overrides",
			envVars: map[string]string{
				"SHIPWATCH_SHIP_URL":          "http://ship:8080",
				"SHIPWATCH_SESSION_COOKIE":    "0v1.secret",
				"SHIPWATCH_POLL_INTERVAL":     "15m",
				"SHIPWATCH_POLL_CONCURRENCY":  "3",
				"SHIPWATCH_DISCOVERY_ENABLED": "false",
				"SHIPWATCH_MIN_MESSAGES":      "8",
				"ANTHROPIC_API_KEY":           "sk-test",
				"SHIPWATCH_DB_PATH":           "/data/sw.db",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://ship:8080", cfg.Ship.URL)
				assert.Equal(t, "0v1.secret", cfg.Ship.SessionCookie)
				assert.Equal(t, 15*time.Minute, cfg.Poll.Interval)
				assert.Equal(t, 3, cfg.Poll.Concurrency)
				assert.False(t, cfg.Discovery.Enabled)
				assert.Equal(t, 8, cfg.Analysis.MinMessages)
				assert.Equal(t, "sk-test", cfg.Analysis.APIKey)
				assert.Equal(t, "/data/sw.db", cfg.DatabasePath)
			},
		},
		{
			name: "legacy names are a fallback",
			envVars: map[string]string{
				"URBIT_SHIP_URL":       "http://legacy:8080",
				"URBIT_SESSION_COOKIE": "legacy",
				"SHIPWATCH_SHIP_URL":   "",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://legacy:8080", cfg.Ship.URL)
				assert.Equal(t, "legacy", cfg.Ship.SessionCookie)
			},
		},
		{
			name:    "invalid int",
			envVars: map[string]string{"SHIPWATCH_MIN_MESSAGES": "five"},
			wantErr: true,
		},
		{
			name:    "invalid bool",
			envVars: map[string]string{"SHIPWATCH_DISCOVERY_ENABLED": "maybe"},
			wantErr: true,
		},
		{
			name:    "invalid duration",
			envVars: map[string]string{"SHIPWATCH_POLL_INTERVAL": "often"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := Default()
			err := ApplyEnv(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"),
		[]byte("SHIPWATCH_SHIP_NAME=from-dotenv\nSHIPWATCH_MODEL=from-dotenv\n"), 0600))

	// Registered with t.Setenv so both are restored after the test.
	t.Setenv("SHIPWATCH_SHIP_NAME", "")
	require.NoError(t, os.Unsetenv("SHIPWATCH_SHIP_NAME"))
	t.Setenv("SHIPWATCH_MODEL", "from-env")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Ship.Name)
	assert.Equal(t, "from-env", cfg.Analysis.Model)
}

func TestWriteExample(t *testing.T) {
	root := t.TempDir()
	path := Path(root)

	written, err := WriteExample(path)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = WriteExample(path)
	require.NoError(t, err)
	assert.False(t, written, "existing file is left alone")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.Poll.Delay)
}

func TestStringHidesSecrets(t *testing.T) {
	cfg := Default()
	cfg.Ship.SessionCookie = "0v1.very-secret"
	cfg.Analysis.APIKey = "sk-very-secret"

	s := cfg.String()
	assert.False(t, strings.Contains(s, "very-secret"))
	assert.Contains(t, s, "cookie set")
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "90s", want: 90 * time.Second},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "0d", want: 0},
		{in: "1.5d", wantErr: true},
		{in: "3xd", wantErr: true},
		{in: "-2d", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "d", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
