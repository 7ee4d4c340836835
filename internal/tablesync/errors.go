package tablesync

import "errors"

var (
	// ErrNetworkUnavailable means the table service could not be reached.
	ErrNetworkUnavailable = errors.New("tablesync: table service unavailable")

	// ErrInvalidAction means the table service rejected the action as
	// malformed or illegal in the current spot (for example a check while
	// facing a bet).
	ErrInvalidAction = errors.New("tablesync: invalid action")

	// ErrNotYourTurn means the acting seat is not the seat to act.
	ErrNotYourTurn = errors.New("tablesync: not your turn")

	// ErrNotReady means the cards required for the current street have not
	// been detected yet. The action was not sent.
	ErrNotReady = errors.New("tablesync: cards not ready")
)

// RejectedError carries the table service's rejection text verbatim. It
// unwraps to [ErrInvalidAction] or [ErrNotYourTurn].
type RejectedError struct {
	Kind   error
	Reason string
}

func (e *RejectedError) Error() string {
	return "tablesync: action rejected: " + e.Reason
}

func (e *RejectedError) Unwrap() error { return e.Kind }
