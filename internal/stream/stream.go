// Package stream defines the push half of the backend contract: an
// unbounded, at-least-once stream of progress snapshots on one logical
// subject for the process lifetime.
package stream

import (
	"context"

	"github.com/arxivist/fetchsession/internal/fetch"
)

// Subject is the single logical topic progress snapshots travel on.
const Subject = "fetch.progress"

// Handler consumes one progress snapshot. Handlers must not block; the
// listener applies each snapshot to session state and returns.
type Handler func(fetch.Status)

// Stream publishes and subscribes progress snapshots. Implementations may
// reorder or redeliver; consumers correct both through Status.Seq.
type Stream interface {
	// Publish emits one snapshot on the subject.
	Publish(ctx context.Context, st fetch.Status) error
	// Subscribe registers a handler for the process lifetime and returns a
	// cancel function. The transport's own reconnection is the only retry.
	Subscribe(ctx context.Context, h Handler) (func(), error)
}

// HealthReporter is optionally implemented by transports that can report
// connection state, so subscription loss can surface as a degraded-mode
// condition instead of a silent capability loss.
type HealthReporter interface {
	Connected() bool
}
