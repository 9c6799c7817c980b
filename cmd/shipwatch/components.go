package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shipwatch/shipwatch/internal/ai"
	"github.com/shipwatch/shipwatch/internal/config"
	"github.com/shipwatch/shipwatch/internal/cost"
	"github.com/shipwatch/shipwatch/internal/discovery"
	"github.com/shipwatch/shipwatch/internal/metrics"
	"github.com/shipwatch/shipwatch/internal/poller"
	"github.com/shipwatch/shipwatch/internal/trigger"
	"github.com/shipwatch/shipwatch/internal/urbit"
)

func newUrbitClient(c *config.Config) (*urbit.Client, error) {
	client, err := urbit.New(urbit.Config{
		ShipURL:           c.Ship.URL,
		ShipName:          c.Ship.Name,
		SessionCookie:     c.Ship.SessionCookie,
		FetchCount:        c.Ship.FetchCount,
		Timeout:           c.Ship.Timeout,
		RequestsPerSecond: c.Poll.RequestsPerSecond(),
		UserAgent:         "shipwatch/" + version,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating urbit client: %w", err)
	}
	return client, nil
}

func newPoller(c *config.Config, client *urbit.Client, m *metrics.Metrics) *poller.Poller {
	return poller.New(store, client, poller.Config{
		ChannelTimeout: c.Poll.ChannelTimeout,
		Concurrency:    c.Poll.Concurrency,
	}, m, logger)
}

func discoveryConfig(c *config.Config) *discovery.Config {
	d := c.Discovery
	return &discovery.Config{
		KnownHosts:          d.KnownHosts,
		CommonNames:         d.CommonNames,
		Hubs:                d.Hubs,
		HubSubChannels:      d.HubSubChannels,
		ExplorationNames:    d.ExplorationNames,
		MaxGuessesPerHost:   d.MaxGuessesPerHost,
		MaxConcurrentProbes: d.MaxConcurrentProbes,
		ProbesPerSecond:     d.ProbesPerSecond,
		MaxProbesPerRun:     d.MaxProbesPerRun,
		ProbeTimeout:        d.ProbeTimeout,
	}
}

func newDiscoveryEngine(c *config.Config, client *urbit.Client, m *metrics.Metrics) *discovery.Engine {
	return discovery.NewEngine(store, client, discoveryConfig(c), m, logger)
}

// budgetConfig keeps the budget state next to the database, so every command
// against the same database shares one hourly window.
func budgetConfig(c *config.Config) *cost.Config {
	b := cost.DefaultConfig()
	b.MaxTokensPerHour = c.Analysis.MaxTokensPerHour
	b.MaxCostPerHour = c.Analysis.MaxCostPerHour
	if dbPath != "" && dbPath != ":memory:" {
		b.PersistStatePath = cost.StatePath(filepath.Dir(dbPath))
	}
	return b
}

func newTrigger(c *config.Config, m *metrics.Metrics) (*trigger.Trigger, error) {
	retry := ai.DefaultRetryConfig()
	retry.MaxConcurrentCalls = c.Analysis.MaxConcurrentCalls

	budget, err := cost.NewTracker(budgetConfig(c), logger)
	if err != nil {
		return nil, fmt.Errorf("creating budget tracker: %w", err)
	}

	summarizer, err := ai.NewSummarizer(ai.Config{
		APIKey:    c.Analysis.APIKey,
		Model:     c.Analysis.Model,
		MaxTokens: int64(c.Analysis.MaxTokens),
		Retry:     retry,
		Budget:    budget,
	}, logger)
	if errors.Is(err, ai.ErrNoAPIKey) {
		return nil, errors.New("analysis needs an Anthropic API key: set ANTHROPIC_API_KEY (or put it in .env)")
	}
	if err != nil {
		return nil, fmt.Errorf("creating summarizer: %w", err)
	}

	return trigger.New(store, summarizer, trigger.Config{
		MinMessages:    c.Analysis.MinMessages,
		MaxBatchEvents: c.Analysis.MaxBatchEvents,
		Timeout:        c.Analysis.Timeout,
	}, m, logger), nil
}
