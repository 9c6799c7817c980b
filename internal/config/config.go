// Package config loads shipwatch settings from .shipwatch/config.yaml, a
// project .env file and SHIPWATCH_* environment variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

// Config is the resolved configuration handed to the components
type Config struct {
	Ship      ShipConfig
	Poll      PollConfig
	Discovery DiscoveryConfig
	Analysis  AnalysisConfig

	// Channels are seeded into the registry with discovery method "static"
	Channels []types.ChannelID

	LogLevel  string
	LogFormat string

	// DatabasePath overrides database discovery when set
	DatabasePath string
}

// ShipConfig locates the ship we read through
type ShipConfig struct {
	URL  string
	Name string
	// SessionCookie is the opaque urbauth value; never logged
	SessionCookie string
	// FetchCount is how many of the newest nodes each fetch requests
	// Default: 100, Range: 1-1000
	FetchCount int
	// Timeout bounds one HTTP request
	Timeout time.Duration
}

// PollConfig controls the poll pass
type PollConfig struct {
	Interval time.Duration
	// ChannelTimeout bounds the fetch and append of one channel
	ChannelTimeout time.Duration
	// Concurrency is how many channels are polled at once
	// Default: 1, Range: 1-32
	Concurrency int
	// Delay spaces out requests to the ship; 0 disables spacing
	Delay time.Duration
}

// DiscoveryConfig controls the discovery pass
type DiscoveryConfig struct {
	Enabled  bool
	Interval time.Duration

	KnownHosts       []string
	CommonNames      []string
	Hubs             []types.ChannelID
	HubSubChannels   []string
	ExplorationNames []string

	MaxGuessesPerHost   int
	MaxConcurrentProbes int
	ProbesPerSecond     float64
	MaxProbesPerRun     int
	ProbeTimeout        time.Duration
}

// AnalysisConfig controls the analysis trigger and the summarizer
type AnalysisConfig struct {
	Interval time.Duration
	// MinMessages is the unanalyzed event count that makes a channel pending
	// Default: 5
	MinMessages int
	// MaxBatchEvents caps the events sent in one summarization call
	MaxBatchEvents int
	// Timeout bounds one summarization attempt
	Timeout time.Duration

	APIKey             string
	Model              string
	MaxTokens          int
	MaxConcurrentCalls int

	// MaxTokensPerHour and MaxCostPerHour bound summarization spend; 0 = unlimited
	MaxTokensPerHour int64
	MaxCostPerHour   float64
}

// Default returns the built-in configuration. The channel and name lists are
// the groups the project has tracked so far.
func Default() *Config {
	return &Config{
		Ship: ShipConfig{
			URL:        "http://localhost:8080",
			FetchCount: 100,
			Timeout:    30 * time.Second,
		},
		Poll: PollConfig{
			Interval:       60 * time.Minute,
			ChannelTimeout: 45 * time.Second,
			Concurrency:    1,
		},
		Discovery: DiscoveryConfig{
			Enabled:     true,
			Interval:    6 * time.Hour,
			KnownHosts:  []string{"~halbex-palheb"},
			CommonNames: defaultCommonNames(),
			Hubs: mustParseAll(
				"~bitbet-bolbel/urbit-community",
				"~darrux-landes/the-forge",
				"~libset-rirbep/landscape",
				"~dister-dozzod-basbys/urbitfoundation",
				"~sogryp-dister-dozzod-dozzod/network-states",
				"~pindet-timmut/hackroom",
				"~haddef-sigwen/tlon",
				"~nattyv/urbit",
				"~solfer-magfed/foundation",
			),
			HubSubChannels: []string{"general", "chat", "announcements", "dev"},
			ExplorationNames: []string{
				"public", "general", "community", "chat", "main", "lobby",
				"announcements", "welcome", "intro", "discussion", "random",
			},
			MaxGuessesPerHost:   11,
			MaxConcurrentProbes: 4,
			ProbesPerSecond:     2,
			MaxProbesPerRun:     300,
			ProbeTimeout:        5 * time.Second,
		},
		Analysis: AnalysisConfig{
			Interval:           60 * time.Minute,
			MinMessages:        5,
			MaxBatchEvents:     200,
			Timeout:            2 * time.Minute,
			Model:              "claude-sonnet-4-5-20250929",
			MaxTokens:          1024,
			MaxConcurrentCalls: 2,
			MaxTokensPerHour:   100000,
			MaxCostPerHour:     1.50,
		},
		Channels: mustParseAll(
			"~bitbet-bolbel/urbit-community",
			"~darrux-landes/the-forge",
			"~halbex-palheb/uf-public/announcements",
			"~halbex-palheb/uf-public/general",
			"~halbex-palheb/uf-public/chat",
			"~litmyl-nopmet/general",
			"~zod/general",
		),
		LogLevel:  "info",
		LogFormat: "console",
	}
}

func defaultCommonNames() []string {
	return []string{
		"general", "random", "help", "chat", "dev", "testing",
		"announcements", "updates", "public", "main", "lobby",
		"uf-public", "urbit-public", "community", "discussion",
	}
}

func mustParseAll(ids ...string) []types.ChannelID {
	out := make([]types.ChannelID, 0, len(ids))
	for _, s := range ids {
		out = append(out, types.MustParseChannelID(s))
	}
	return out
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.Ship.URL == "" {
		return fmt.Errorf("ship.url is required")
	}
	if c.Ship.FetchCount < 1 || c.Ship.FetchCount > 1000 {
		return fmt.Errorf("ship.fetch_count must be between 1 and 1000 (got %d)", c.Ship.FetchCount)
	}
	if c.Ship.Timeout <= 0 {
		return fmt.Errorf("ship.timeout must be positive (got %s)", c.Ship.Timeout)
	}

	if c.Poll.Interval < time.Second {
		return fmt.Errorf("poll.interval must be at least 1s (got %s)", c.Poll.Interval)
	}
	if c.Poll.ChannelTimeout <= 0 {
		return fmt.Errorf("poll.channel_timeout must be positive (got %s)", c.Poll.ChannelTimeout)
	}
	if c.Poll.Concurrency < 1 || c.Poll.Concurrency > 32 {
		return fmt.Errorf("poll.concurrency must be between 1 and 32 (got %d)", c.Poll.Concurrency)
	}
	if c.Poll.Delay < 0 {
		return fmt.Errorf("poll.delay cannot be negative (got %s)", c.Poll.Delay)
	}

	d := c.Discovery
	if d.Enabled && d.Interval < time.Second {
		return fmt.Errorf("discovery.interval must be at least 1s (got %s)", d.Interval)
	}
	for _, h := range d.KnownHosts {
		if !strings.HasPrefix(h, "~") {
			return fmt.Errorf("discovery.known_hosts: %q must start with ~", h)
		}
	}
	if d.MaxGuessesPerHost < 0 {
		return fmt.Errorf("discovery.max_guesses_per_host cannot be negative (got %d)", d.MaxGuessesPerHost)
	}
	if d.MaxConcurrentProbes < 1 {
		return fmt.Errorf("discovery.max_concurrent_probes must be at least 1 (got %d)", d.MaxConcurrentProbes)
	}
	if d.ProbesPerSecond < 0 {
		return fmt.Errorf("discovery.probes_per_second cannot be negative (got %g)", d.ProbesPerSecond)
	}
	if d.MaxProbesPerRun < 1 {
		return fmt.Errorf("discovery.max_probes_per_run must be at least 1 (got %d)", d.MaxProbesPerRun)
	}
	if d.ProbeTimeout <= 0 {
		return fmt.Errorf("discovery.probe_timeout must be positive (got %s)", d.ProbeTimeout)
	}

	a := c.Analysis
	if a.Interval < time.Second {
		return fmt.Errorf("analysis.interval must be at least 1s (got %s)", a.Interval)
	}
	if a.MinMessages < 1 {
		return fmt.Errorf("analysis.min_messages must be at least 1 (got %d)", a.MinMessages)
	}
	if a.MaxBatchEvents < a.MinMessages {
		return fmt.Errorf("analysis.max_batch_events (%d) must be >= analysis.min_messages (%d)",
			a.MaxBatchEvents, a.MinMessages)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("analysis.timeout must be positive (got %s)", a.Timeout)
	}
	if a.MaxTokens < 1 {
		return fmt.Errorf("analysis.max_tokens must be at least 1 (got %d)", a.MaxTokens)
	}
	if a.MaxConcurrentCalls < 1 {
		return fmt.Errorf("analysis.max_concurrent_calls must be at least 1 (got %d)", a.MaxConcurrentCalls)
	}
	if a.MaxTokensPerHour < 0 {
		return fmt.Errorf("analysis.max_tokens_per_hour cannot be negative (got %d)", a.MaxTokensPerHour)
	}
	if a.MaxCostPerHour < 0 {
		return fmt.Errorf("analysis.max_cost_per_hour cannot be negative (got %g)", a.MaxCostPerHour)
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be 'console' or 'json' (got %q)", c.LogFormat)
	}

	return nil
}

// String returns a human-readable representation of the config. The session
// cookie and API key are reported only as set or unset.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Ship: %s (cookie %s), Poll: every %s x%d, Discovery: %t every %s (budget %d), "+
			"Analysis: every %s min %d (key %s), Channels: %d}",
		c.Ship.URL, setOrUnset(c.Ship.SessionCookie),
		c.Poll.Interval, c.Poll.Concurrency,
		c.Discovery.Enabled, c.Discovery.Interval, c.Discovery.MaxProbesPerRun,
		c.Analysis.Interval, c.Analysis.MinMessages, setOrUnset(c.Analysis.APIKey),
		len(c.Channels),
	)
}

func setOrUnset(s string) string {
	if s == "" {
		return "unset"
	}
	return "set"
}

// RequestsPerSecond converts the poll delay into a ship request rate
func (p PollConfig) RequestsPerSecond() float64 {
	if p.Delay <= 0 {
		return 0
	}
	return float64(time.Second) / float64(p.Delay)
}
