package fetch

import (
	"context"
	"time"
)

// Commander is the request/response half of the backend contract. Both calls
// may fail independently of the session itself.
type Commander interface {
	// StartFetch begins a session with the given options. An error here
	// means the backend never acknowledged the session.
	StartFetch(ctx context.Context, opts Options) error
	// CancelFetch requests cancellation of the active session. Cancellation
	// is cooperative: an Ack does not mean the session has stopped.
	CancelFetch(ctx context.Context) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints session identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
