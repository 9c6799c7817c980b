package discovery

import (
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

// Config defines the full discovery configuration.
type Config struct {
	// Pattern expansion: KnownHosts x CommonNames
	KnownHosts  []string
	CommonNames []string

	// Hub expansion: each hub, then hub/<sub> for every hub that answered
	Hubs           []types.ChannelID
	HubSubChannels []string

	// Exploration: registered hosts x ExplorationNames
	ExplorationNames  []string
	MaxGuessesPerHost int

	// HighPriorityHosts get priority high on registration.
	// Default: the hosts of Hubs
	HighPriorityHosts []string

	// Rate policy
	MaxConcurrentProbes int
	ProbesPerSecond     float64 // 0 disables spacing
	MaxProbesPerRun     int
	ProbeTimeout        time.Duration
}

// DefaultConfig returns the default discovery configuration.
func DefaultConfig() *Config {
	return &Config{
		KnownHosts:          []string{"~halbex-palheb"},
		CommonNames:         []string{"general", "chat", "announcements", "dev", "public", "community"},
		HubSubChannels:      []string{"general", "chat", "announcements", "dev"},
		ExplorationNames:    []string{"public", "general", "community", "chat", "main", "lobby"},
		MaxGuessesPerHost:   6,
		MaxConcurrentProbes: 4,
		ProbesPerSecond:     2,
		MaxProbesPerRun:     300,
		ProbeTimeout:        5 * time.Second,
	}
}

// withDefaults fills zero-valued limits from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentProbes < 1 {
		c.MaxConcurrentProbes = def.MaxConcurrentProbes
	}
	if c.MaxProbesPerRun < 1 {
		c.MaxProbesPerRun = def.MaxProbesPerRun
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.MaxGuessesPerHost < 0 {
		c.MaxGuessesPerHost = 0
	}
	if c.HighPriorityHosts == nil {
		seen := make(map[string]bool)
		for _, hub := range c.Hubs {
			if !seen[hub.Host] {
				seen[hub.Host] = true
				c.HighPriorityHosts = append(c.HighPriorityHosts, hub.Host)
			}
		}
	}
	return c
}
