package types

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// CursorStart is the cursor that precedes every stored event.
// EventsSince(ch, CursorStart) yields a channel's complete history.
const CursorStart int64 = math.MinInt64

// legacyPathPrefix is the "/ship/~host/name" form used by older configs.
const legacyPathPrefix = "/ship/"

var hostPattern = regexp.MustCompile(`^~[\w-]+$`)

// ChannelID identifies a remote group channel: the hosting ship plus the
// channel name. Name may contain '/' (group/channel).
//
// Identity is exact-match: no case folding or spelling normalization is applied.
type ChannelID struct {
	Host string `json:"host"`
	Name string `json:"name"`
}

// NewChannelID builds a ChannelID without validation
func NewChannelID(host, name string) ChannelID {
	return ChannelID{Host: host, Name: name}
}

// ParseChannelID parses "~host/name" or the legacy "/ship/~host/name" form.
func ParseChannelID(s string) (ChannelID, error) {
	raw := strings.TrimPrefix(s, legacyPathPrefix)
	host, name, ok := strings.Cut(raw, "/")
	if !ok {
		return ChannelID{}, fmt.Errorf("invalid channel id %q: expected ~host/name", s)
	}
	id := ChannelID{Host: host, Name: name}
	if err := id.Validate(); err != nil {
		return ChannelID{}, err
	}
	return id, nil
}

// MustParseChannelID is ParseChannelID for static tables and tests.
func MustParseChannelID(s string) ChannelID {
	id, err := ParseChannelID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical "~host/name" form. This is the registry's dedup key.
func (c ChannelID) String() string {
	return c.Host + "/" + c.Name
}

// IsZero reports whether the id is unset
func (c ChannelID) IsZero() bool {
	return c.Host == "" && c.Name == ""
}

// Validate checks host and name syntax
func (c ChannelID) Validate() error {
	if !hostPattern.MatchString(c.Host) {
		return fmt.Errorf("invalid channel host %q: must look like ~sampel-palnet", c.Host)
	}
	if c.Name == "" {
		return fmt.Errorf("channel name is required")
	}
	for _, seg := range strings.Split(c.Name, "/") {
		if seg == "" {
			return fmt.Errorf("invalid channel name %q: empty path segment", c.Name)
		}
		if strings.ContainsAny(seg, " \t\r\n") {
			return fmt.Errorf("invalid channel name %q: contains whitespace", c.Name)
		}
	}
	return nil
}

// WithName returns a sibling channel on the same host
func (c ChannelID) WithName(name string) ChannelID {
	return ChannelID{Host: c.Host, Name: name}
}

// MarshalText implements encoding.TextMarshaler so ids round-trip as strings
// in JSON and YAML.
func (c ChannelID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *ChannelID) UnmarshalText(b []byte) error {
	id, err := ParseChannelID(string(b))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// Channel is a monitored (or formerly monitored) remote channel.
// Channels are never deleted, only disabled.
type Channel struct {
	ID              ChannelID       `json:"id"`
	DiscoveryMethod DiscoveryMethod `json:"discovery_method"`
	FirstSeen       time.Time       `json:"first_seen"`
	Enabled         bool            `json:"enabled"`
	Priority        Priority        `json:"priority"`
}

// Validate checks if the channel has valid field values
func (c *Channel) Validate() error {
	if err := c.ID.Validate(); err != nil {
		return err
	}
	if !c.DiscoveryMethod.IsValid() {
		return fmt.Errorf("invalid discovery method: %s", c.DiscoveryMethod)
	}
	if !c.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", c.Priority)
	}
	return nil
}

// DiscoveryMethod records how a channel entered the registry
type DiscoveryMethod string

const (
	MethodStatic      DiscoveryMethod = "static"      // seeded from configuration
	MethodManual      DiscoveryMethod = "manual"      // added from the CLI
	MethodPattern     DiscoveryMethod = "pattern"     // known host x common name
	MethodHub         DiscoveryMethod = "hub"         // curated community hub
	MethodExploration DiscoveryMethod = "exploration" // guesses on registered hosts
)

// IsValid checks if the discovery method value is valid
func (m DiscoveryMethod) IsValid() bool {
	switch m {
	case MethodStatic, MethodManual, MethodPattern, MethodHub, MethodExploration:
		return true
	}
	return false
}

// Priority tags a channel for reporting order
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal:
		return true
	}
	return false
}

// ActivityEvent is one message observed in a channel. Immutable once stored.
type ActivityEvent struct {
	Channel   ChannelID `json:"channel"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	// Cursor is the per-channel monotonic position used for "since" queries and dedup.
	Cursor int64 `json:"cursor"`
}

// Validate rejects the reserved CursorStart, which EventsSince could never return
func (e ActivityEvent) Validate() error {
	if e.Cursor == CursorStart {
		return fmt.Errorf("%w: cursor %d is reserved", ErrInvalidEvent, e.Cursor)
	}
	return nil
}

// ValidateEvents returns the first invalid event's error
func ValidateEvents(events []ActivityEvent) error {
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AnalysisState is the per-channel analysis trigger state
type AnalysisState string

const (
	AnalysisIdle    AnalysisState = "idle"
	AnalysisPending AnalysisState = "pending"
)

// PollStatus is the outcome of the most recent poll of a channel
type PollStatus string

const (
	PollNever       PollStatus = "never"
	PollOK          PollStatus = "ok"
	PollUnreachable PollStatus = "unreachable"
	PollMalformed   PollStatus = "malformed"
)

// ChannelAggregate holds derived counters for a channel. It is a cache over
// the channel's events and can be rebuilt from them.
type ChannelAggregate struct {
	Channel         ChannelID  `json:"channel"`
	TotalEvents     int        `json:"total_events"`
	DistinctAuthors int        `json:"distinct_authors"`
	LastEventAt     *time.Time `json:"last_event_at,omitempty"`
	// LastCursor is the highest cursor stored, or CursorStart when empty.
	LastCursor int64 `json:"last_cursor"`

	// Owned by the analysis trigger.
	LastAnalyzedCursor int64         `json:"last_analyzed_cursor"`
	AnalysisState      AnalysisState `json:"analysis_state"`
	AnalysisFailures   int           `json:"analysis_failures"`
	LastAnalysisError  string        `json:"last_analysis_error,omitempty"`
	LastAnalyzedAt     *time.Time    `json:"last_analyzed_at,omitempty"`

	// Owned by the poller.
	LastPolledAt        *time.Time `json:"last_polled_at,omitempty"`
	LastPollStatus      PollStatus `json:"last_poll_status"`
	LastPollError       string     `json:"last_poll_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// EmptyAggregate returns the aggregate of a channel with no stored events
func EmptyAggregate(id ChannelID) *ChannelAggregate {
	return &ChannelAggregate{
		Channel:            id,
		LastCursor:         CursorStart,
		LastAnalyzedCursor: CursorStart,
		AnalysisState:      AnalysisIdle,
		LastPollStatus:     PollNever,
	}
}

// Analysis is a stored summary covering a cursor range of one channel
type Analysis struct {
	ID         string    `json:"id"`
	Channel    ChannelID `json:"channel"`
	FromCursor int64     `json:"from_cursor"`
	ToCursor   int64     `json:"to_cursor"`
	EventCount int       `json:"event_count"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
}

// Verdict is the reachability outcome of a discovery probe
type Verdict string

const (
	VerdictConfirmed   Verdict = "confirmed"
	VerdictUnreachable Verdict = "unreachable"
	// VerdictUnknown marks candidates that were not probed (budget exhausted or shutdown).
	VerdictUnknown Verdict = "unknown"
)

// MergeOutcome records what happened to a confirmed candidate in the registry
type MergeOutcome string

const (
	MergeNone           MergeOutcome = ""
	MergeInserted       MergeOutcome = "inserted"
	MergeAlreadyPresent MergeOutcome = "already-present"
)

// DiscoveryResult is one candidate's outcome in a discovery run
type DiscoveryResult struct {
	Candidate ChannelID       `json:"candidate"`
	Method    DiscoveryMethod `json:"method"`
	Verdict   Verdict         `json:"verdict"`
	Merge     MergeOutcome    `json:"merge,omitempty"`
	ProbedAt  time.Time       `json:"probed_at,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ProbeRecord is the persisted last probe of a candidate
type ProbeRecord struct {
	Candidate ChannelID       `json:"candidate"`
	Method    DiscoveryMethod `json:"method"`
	Verdict   Verdict         `json:"verdict"`
	ProbedAt  time.Time       `json:"probed_at"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
}

// PassKind names the periodic tasks
type PassKind string

const (
	PassPoll     PassKind = "poll"
	PassDiscover PassKind = "discover"
	PassAnalyze  PassKind = "analyze"
)

// PassRecord is a persisted pass summary
type PassRecord struct {
	ID         string    `json:"id"`
	Kind       PassKind  `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Summary is the JSON-encoded pass summary.
	Summary string `json:"summary"`
}
