package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/session"
	streammem "github.com/arxivist/fetchsession/internal/stream/memory"
)

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func newFixture(t *testing.T) (*streammem.Bus, *session.Store, func()) {
	t.Helper()

	bus := streammem.NewBus(nil)
	store := session.NewStore(systemClock{}, nil)
	l := New(bus, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	cleanup := func() {
		cancel()
		<-done
		bus.Close()
	}
	return bus, store, cleanup
}

func TestListenerAppliesInOrder(t *testing.T) {
	t.Parallel()

	bus, store, cleanup := newFixture(t)
	defer cleanup()

	require.NoError(t, store.StartSession())
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, bus.Publish(context.Background(), fetch.Status{
			Seq:      seq,
			Phase:    fetch.PhaseFetching,
			Progress: float64(seq) / 10,
		}))
	}

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return snap.Latest != nil && snap.Latest.Seq == 5
	}, time.Second, 5*time.Millisecond)
}

// Duplicate and out-of-order snapshots must be dropped; the final state
// reflects the highest sequence applied.
func TestListenerDropsStaleSnapshots(t *testing.T) {
	t.Parallel()

	bus, store, cleanup := newFixture(t)
	defer cleanup()

	require.NoError(t, store.StartSession())

	publish := func(seq uint64, progress float64) {
		require.NoError(t, bus.Publish(context.Background(), fetch.Status{
			Seq:      seq,
			Phase:    fetch.PhaseFetching,
			Progress: progress,
		}))
	}

	publish(3, 0.3)
	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return snap.Latest != nil && snap.Latest.Seq == 3
	}, time.Second, 5*time.Millisecond)

	publish(2, 0.2) // out of order
	publish(3, 0.3) // duplicate
	publish(4, 0.4)

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return snap.Latest != nil && snap.Latest.Seq == 4
	}, time.Second, 5*time.Millisecond)

	snap := store.Snapshot()
	require.InDelta(t, 0.4, snap.Latest.Progress, 1e-9)
}

func TestListenerDiscardsInvalidSnapshots(t *testing.T) {
	t.Parallel()

	bus, store, cleanup := newFixture(t)
	defer cleanup()

	require.NoError(t, store.StartSession())
	require.NoError(t, bus.Publish(context.Background(), fetch.Status{Seq: 1, Phase: "bogus"}))
	require.NoError(t, bus.Publish(context.Background(), fetch.Status{Seq: 2, Phase: fetch.PhaseFetching, Progress: 0.5}))

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return snap.Latest != nil && snap.Latest.Seq == 2
	}, time.Second, 5*time.Millisecond)
}

func TestListenerConnectedLifecycle(t *testing.T) {
	t.Parallel()

	bus := streammem.NewBus(nil)
	store := session.NewStore(systemClock{}, nil)
	l := New(bus, store, nil)

	require.False(t, l.Connected())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	bus.Close()
	require.False(t, l.Connected())
}
