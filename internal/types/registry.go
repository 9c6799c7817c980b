package types

import "errors"

// ErrNotFound is returned by registry lookups that require the channel to exist
var ErrNotFound = errors.New("channel not found")

// RegisterStatus reports the outcome of an idempotent registration
type RegisterStatus string

const (
	RegisterInserted       RegisterStatus = "inserted"
	RegisterAlreadyPresent RegisterStatus = "already-present"
)

// ListFilter selects channels from the registry
type ListFilter int

const (
	FilterEnabled ListFilter = iota // monitoring-enabled channels only
	FilterAll                       // every channel ever registered
)

// String returns the flag spelling of the filter
func (f ListFilter) String() string {
	switch f {
	case FilterEnabled:
		return "enabled"
	case FilterAll:
		return "all"
	default:
		return "unknown"
	}
}
