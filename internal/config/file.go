package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shipwatch/shipwatch/internal/types"
)

// FileName is the config file inside the state directory
const FileName = "config.yaml"

// ConfigFile represents the structure of .shipwatch/config.yaml
type ConfigFile struct {
	Ship      ShipSection      `yaml:"ship"`
	Poll      PollSection      `yaml:"poll"`
	Discovery DiscoverySection `yaml:"discovery"`
	Analysis  AnalysisSection  `yaml:"analysis"`

	// Channels replaces the built-in static channel list when non-empty
	Channels []string `yaml:"channels"`

	Log      LogSection `yaml:"log"`
	Database string     `yaml:"database"`
}

// ShipSection is the ship block of the config file
type ShipSection struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	SessionCookie string `yaml:"session_cookie"`
	FetchCount    int    `yaml:"fetch_count"`
	Timeout       string `yaml:"timeout"` // Duration string like "30s"
}

// PollSection is the poll block of the config file
type PollSection struct {
	Interval       string `yaml:"interval"`
	ChannelTimeout string `yaml:"channel_timeout"`
	Concurrency    int    `yaml:"concurrency"`
	Delay          string `yaml:"delay"`
}

// DiscoverySection is the discovery block of the config file
type DiscoverySection struct {
	Enabled  *bool  `yaml:"enabled"`
	Interval string `yaml:"interval"`

	KnownHosts       []string `yaml:"known_hosts"`
	CommonNames      []string `yaml:"common_names"`
	Hubs             []string `yaml:"hubs"`
	HubSubChannels   []string `yaml:"hub_sub_channels"`
	ExplorationNames []string `yaml:"exploration_names"`

	MaxGuessesPerHost   int     `yaml:"max_guesses_per_host"`
	MaxConcurrentProbes int     `yaml:"max_concurrent_probes"`
	ProbesPerSecond     float64 `yaml:"probes_per_second"`
	MaxProbesPerRun     int     `yaml:"max_probes_per_run"`
	ProbeTimeout        string  `yaml:"probe_timeout"`
}

// AnalysisSection is the analysis block of the config file
type AnalysisSection struct {
	Interval           string `yaml:"interval"`
	MinMessages        int    `yaml:"min_messages"`
	MaxBatchEvents     int    `yaml:"max_batch_events"`
	Timeout            string `yaml:"timeout"`
	Model              string `yaml:"model"`
	MaxTokens          int    `yaml:"max_tokens"`
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
	// Pointers so an explicit 0 (unlimited) differs from unset
	MaxTokensPerHour *int64   `yaml:"max_tokens_per_hour"`
	MaxCostPerHour   *float64 `yaml:"max_cost_per_hour"`
}

// LogSection is the log block of the config file
type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadFile loads configuration from path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var configFile ConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return configFile.ToConfig()
}

// ToConfig converts a ConfigFile to a Config, starting from the defaults
func (cf *ConfigFile) ToConfig() (*Config, error) {
	config := Default()

	// Ship
	if cf.Ship.URL != "" {
		config.Ship.URL = cf.Ship.URL
	}
	if cf.Ship.Name != "" {
		config.Ship.Name = cf.Ship.Name
	}
	if cf.Ship.SessionCookie != "" {
		config.Ship.SessionCookie = cf.Ship.SessionCookie
	}
	if cf.Ship.FetchCount > 0 {
		config.Ship.FetchCount = cf.Ship.FetchCount
	}
	if err := setDuration("ship.timeout", cf.Ship.Timeout, &config.Ship.Timeout); err != nil {
		return nil, err
	}

	// Poll
	if err := setDuration("poll.interval", cf.Poll.Interval, &config.Poll.Interval); err != nil {
		return nil, err
	}
	if err := setDuration("poll.channel_timeout", cf.Poll.ChannelTimeout, &config.Poll.ChannelTimeout); err != nil {
		return nil, err
	}
	if cf.Poll.Concurrency > 0 {
		config.Poll.Concurrency = cf.Poll.Concurrency
	}
	if err := setDuration("poll.delay", cf.Poll.Delay, &config.Poll.Delay); err != nil {
		return nil, err
	}

	// Discovery
	d := &config.Discovery
	if cf.Discovery.Enabled != nil {
		d.Enabled = *cf.Discovery.Enabled
	}
	if err := setDuration("discovery.interval", cf.Discovery.Interval, &d.Interval); err != nil {
		return nil, err
	}
	if len(cf.Discovery.KnownHosts) > 0 {
		d.KnownHosts = cf.Discovery.KnownHosts
	}
	if len(cf.Discovery.CommonNames) > 0 {
		d.CommonNames = cf.Discovery.CommonNames
	}
	if len(cf.Discovery.Hubs) > 0 {
		hubs, err := parseChannelIDs("discovery.hubs", cf.Discovery.Hubs)
		if err != nil {
			return nil, err
		}
		d.Hubs = hubs
	}
	if len(cf.Discovery.HubSubChannels) > 0 {
		d.HubSubChannels = cf.Discovery.HubSubChannels
	}
	if len(cf.Discovery.ExplorationNames) > 0 {
		d.ExplorationNames = cf.Discovery.ExplorationNames
	}
	if cf.Discovery.MaxGuessesPerHost > 0 {
		d.MaxGuessesPerHost = cf.Discovery.MaxGuessesPerHost
	}
	if cf.Discovery.MaxConcurrentProbes > 0 {
		d.MaxConcurrentProbes = cf.Discovery.MaxConcurrentProbes
	}
	if cf.Discovery.ProbesPerSecond > 0 {
		d.ProbesPerSecond = cf.Discovery.ProbesPerSecond
	}
	if cf.Discovery.MaxProbesPerRun > 0 {
		d.MaxProbesPerRun = cf.Discovery.MaxProbesPerRun
	}
	if err := setDuration("discovery.probe_timeout", cf.Discovery.ProbeTimeout, &d.ProbeTimeout); err != nil {
		return nil, err
	}

	// Analysis
	a := &config.Analysis
	if err := setDuration("analysis.interval", cf.Analysis.Interval, &a.Interval); err != nil {
		return nil, err
	}
	if cf.Analysis.MinMessages > 0 {
		a.MinMessages = cf.Analysis.MinMessages
	}
	if cf.Analysis.MaxBatchEvents > 0 {
		a.MaxBatchEvents = cf.Analysis.MaxBatchEvents
	}
	if err := setDuration("analysis.timeout", cf.Analysis.Timeout, &a.Timeout); err != nil {
		return nil, err
	}
	if cf.Analysis.Model != "" {
		a.Model = cf.Analysis.Model
	}
	if cf.Analysis.MaxTokens > 0 {
		a.MaxTokens = cf.Analysis.MaxTokens
	}
	if cf.Analysis.MaxConcurrentCalls > 0 {
		a.MaxConcurrentCalls = cf.Analysis.MaxConcurrentCalls
	}
	if cf.Analysis.MaxTokensPerHour != nil {
		a.MaxTokensPerHour = *cf.Analysis.MaxTokensPerHour
	}
	if cf.Analysis.MaxCostPerHour != nil {
		a.MaxCostPerHour = *cf.Analysis.MaxCostPerHour
	}

	// Static channels
	if len(cf.Channels) > 0 {
		channels, err := parseChannelIDs("channels", cf.Channels)
		if err != nil {
			return nil, err
		}
		config.Channels = channels
	}

	if cf.Log.Level != "" {
		config.LogLevel = cf.Log.Level
	}
	if cf.Log.Format != "" {
		config.LogFormat = cf.Log.Format
	}
	config.DatabasePath = cf.Database

	return config, nil
}

// WriteExample writes ExampleConfigFile to path unless a file already exists.
// It reports whether a file was written.
func WriteExample(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(ExampleConfigFile()), 0600); err != nil {
		return false, fmt.Errorf("writing config file: %w", err)
	}
	return true, nil
}

// ExampleConfigFile returns an example configuration file content.
func ExampleConfigFile() string {
	return `# shipwatch configuration
# Values left out fall back to the built-in defaults.

ship:
  url: http://localhost:8080
  # name: sampel-palnet      # derived from the URL host when empty
  # session_cookie: ...      # prefer SHIPWATCH_SESSION_COOKIE in .env
  fetch_count: 100
  timeout: 30s

poll:
  interval: 60m
  channel_timeout: 45s
  concurrency: 1
  delay: 2s                  # spacing between requests to the ship

discovery:
  enabled: true
  interval: 6h
  known_hosts:
    - "~halbex-palheb"
  hub_sub_channels: [general, chat, announcements, dev]
  max_guesses_per_host: 11
  max_concurrent_probes: 4
  probes_per_second: 2
  max_probes_per_run: 300
  probe_timeout: 5s

analysis:
  interval: 60m
  min_messages: 5
  max_batch_events: 200
  timeout: 2m
  model: claude-sonnet-4-5-20250929
  max_tokens: 1024
  max_tokens_per_hour: 100000   # 0 = unlimited
  max_cost_per_hour: 1.50       # USD, 0 = unlimited

# Channels seeded into the registry at startup
channels:
  - "~halbex-palheb/uf-public/general"
  - "~zod/general"

log:
  level: info
  format: console
`
}

func setDuration(field, value string, dest *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dest = d
	return nil
}

func parseChannelIDs(field string, raw []string) ([]types.ChannelID, error) {
	ids := make([]types.ChannelID, 0, len(raw))
	for _, s := range raw {
		id, err := types.ParseChannelID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry: %w", field, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseDuration parses non-negative duration strings like "5m", "1h", "7d"
func parseDuration(s string) (time.Duration, error) {
	// Handle day suffix
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	// Use standard time.ParseDuration for other formats
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration: %s is negative", s)
	}
	return d, nil
}
