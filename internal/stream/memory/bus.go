// Package memory provides an in-process stream implementation for
// single-binary deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/stream"
)

const defaultBufferSize = 256

// Bus fans snapshots out to subscribers over buffered channels. Each
// subscriber has a dedicated delivery goroutine, so emission order is
// preserved per subscriber and Publish never blocks on a slow consumer; a
// full buffer drops the snapshot with a warning (Seq lets the consumer
// notice the gap).
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan fetch.Status
	nextSub int
	closed  bool
	logger  *zap.Logger
}

// NewBus constructs an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[int]chan fetch.Status),
		logger: logger,
	}
}

// Publish delivers the snapshot to every subscriber buffer.
func (b *Bus) Publish(_ context.Context, st fetch.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publish on closed bus")
	}
	for id, ch := range b.subs {
		select {
		case ch <- st:
		default:
			b.logger.Warn("subscriber buffer full, snapshot dropped",
				zap.Int("subscriber", id),
				zap.Uint64("seq", st.Seq),
			)
		}
	}
	return nil
}

// Subscribe registers h and starts its delivery goroutine. The returned
// cancel function stops delivery; ctx cancellation does the same.
func (b *Bus) Subscribe(ctx context.Context, h stream.Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("subscribe on closed bus")
	}
	id := b.nextSub
	b.nextSub++
	ch := make(chan fetch.Status, defaultBufferSize)
	b.subs[id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
		<-done
	}

	go func() {
		defer close(done)
		for {
			select {
			case st, ok := <-ch:
				if !ok {
					return
				}
				h(st)
			case <-ctx.Done():
				b.mu.Lock()
				if _, ok := b.subs[id]; ok {
					delete(b.subs, id)
					close(ch)
				}
				b.mu.Unlock()
				// Drain so the cancel path cannot leak buffered snapshots.
				for range ch {
				}
				return
			}
		}
	}()
	return cancel, nil
}

// Connected always reports true; the in-process bus cannot lose its link.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Close drops all subscribers. Mainly for tests.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
