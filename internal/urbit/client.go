// Package urbit talks to an Urbit ship over its HTTP interface: graph-store
// scries for channel activity and the groups app for reachability probes.
package urbit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shipwatch/shipwatch/internal/types"
)

// Config configures the client
type Config struct {
	// ShipURL is the base URL of the ship we are logged into, e.g. http://localhost:8080
	ShipURL string
	// ShipName is our ship (without "~"); derived from ShipURL's host when empty
	ShipName string
	// SessionCookie is the opaque urbauth value
	SessionCookie string

	// FetchCount is how many of the newest nodes each fetch asks for (default 100)
	FetchCount int
	// Timeout bounds a single HTTP request (default 30s)
	Timeout time.Duration
	// RequestsPerSecond spaces out requests to the ship; 0 disables the limit
	RequestsPerSecond float64
	// MaxBodyBytes caps a response body (default 10MB)
	MaxBodyBytes int64
	UserAgent    string
}

func (c *Config) defaults() {
	if c.FetchCount <= 0 {
		c.FetchCount = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "shipwatch/1.0"
	}
}

// Client fetches channel activity and probes channels on one ship
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New validates cfg and builds a client
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	cfg.defaults()

	base, err := url.Parse(strings.TrimSuffix(cfg.ShipURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ship URL %q", cfg.ShipURL)
	}
	if cfg.ShipName == "" {
		cfg.ShipName = shipNameFromHost(base.Hostname())
	}
	cfg.ShipName = strings.TrimPrefix(cfg.ShipName, "~")

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "urbit").Str("ship", cfg.ShipName).Logger(),
	}, nil
}

// shipNameFromHost takes "sampel-palnet.arvo.network" to "sampel-palnet"
func shipNameFromHost(host string) string {
	name, _, _ := strings.Cut(host, ".")
	return name
}

// FetchSince returns the channel's events with cursor > since, oldest first.
// Only the newest FetchCount nodes are requested, so a long outage can leave
// a gap; the store tolerates gaps.
func (c *Client) FetchSince(ctx context.Context, id types.ChannelID, since int64) ([]types.ActivityEvent, error) {
	path := fmt.Sprintf("/~/scry/graph-store/newest/%s/%s/%d.json", id.Host, id.Name, c.cfg.FetchCount)

	body, status, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: HTTP %d", types.ErrUnreachable, id, status)
	}

	events, err := parseAddNodes(id, body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}

	newer := events[:0]
	for _, ev := range events {
		if ev.Cursor > since {
			newer = append(newer, ev)
		}
	}

	c.logger.Debug().
		Str("channel", id.String()).
		Int("received", len(events)).
		Int("new", len(newer)).
		Msg("fetched channel")
	return newer, nil
}

// Probe reports whether the channel exists on its host. The groups app answers
// 403 for private groups, which still counts as reachable.
func (c *Client) Probe(ctx context.Context, id types.ChannelID) (bool, error) {
	path := fmt.Sprintf("/apps/groups/groups/ship/%s/%s", id.Host, id.Name)

	_, status, err := c.get(ctx, path)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", id, err)
	}

	switch status {
	case http.StatusOK, http.StatusForbidden:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: probe %s: HTTP %d", types.ErrUnreachable, id, status)
	}
}

// get issues an authenticated GET. Transport failures, limiter waits cut short
// by ctx, and 401s are reported as ErrUnreachable.
func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: rate limiter: %w", types.ErrUnreachable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.cfg.SessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: "urbauth-~" + c.cfg.ShipName, Value: c.cfg.SessionCookie})
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	c.logger.Trace().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request")

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, resp.StatusCode, fmt.Errorf("%w: session rejected (HTTP 401)", types.ErrUnreachable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %w", types.ErrUnreachable, err)
	}
	return body, resp.StatusCode, nil
}
