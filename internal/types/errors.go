package types

import "errors"

// Failure taxonomy shared by the collaborators and the passes.
// Nothing here is fatal: each error is scoped to one channel or one candidate.
var (
	// ErrUnreachable covers transport, auth and timeout failures. Retried on the next scheduled pass.
	ErrUnreachable = errors.New("channel source unreachable")

	// ErrMalformedResponse means the payload had an unexpected shape. The unit is skipped for this pass.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrInvalidEvent rejects an event no store may hold, such as one at the reserved CursorStart.
	ErrInvalidEvent = errors.New("invalid activity event")

	// ErrBudgetExhausted stops a discovery run early. Reported as a flag, never returned to callers.
	ErrBudgetExhausted = errors.New("probe budget exhausted")
)

// IsMalformed reports whether err is a malformed-response failure
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}
