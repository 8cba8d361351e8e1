package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldsync/pkg/events"
	"github.com/fieldops/fieldsync/pkg/remote"
	"github.com/fieldops/fieldsync/pkg/store"
	"github.com/fieldops/fieldsync/pkg/types"
)

type fakeApplier struct {
	mu      sync.Mutex
	applied []*types.PendingMutation
	fn      func(m *types.PendingMutation) (types.Record, error)
	delay   time.Duration
}

func (f *fakeApplier) Apply(ctx context.Context, m *types.PendingMutation) (types.Record, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.applied = append(f.applied, m)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(m)
	}
	return types.Record{"id": float64(100)}, nil
}

func (f *fakeApplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func newEngine(t *testing.T, applier Applier, cfg Config) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewEngine(st, applier, broker, cfg), st
}

func TestDrainArchivesSuccessfulItems(t *testing.T) {
	applier := &fakeApplier{}
	engine, st := newEngine(t, applier, Config{})

	_, err := st.Enqueue("risk.create", types.Record{"name": "river"})
	require.NoError(t, err)
	_, err = st.Enqueue("hazard.create", types.Record{"name": "cliff"})
	require.NoError(t, err)

	require.NoError(t, engine.Drain(context.Background()))

	pending, err := st.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	synced, err := st.ListSynced()
	require.NoError(t, err)
	assert.Len(t, synced, 2)
}

func TestPartialFailureIsolation(t *testing.T) {
	applier := &fakeApplier{fn: func(m *types.PendingMutation) (types.Record, error) {
		if m.Payload["name"] == "flaky" {
			return nil, errors.New("connection reset")
		}
		return types.Record{"id": float64(1)}, nil
	}}
	engine, st := newEngine(t, applier, Config{})

	_, err := st.Enqueue("risk.create", types.Record{"name": "first"})
	require.NoError(t, err)
	flakyID, err := st.Enqueue("risk.create", types.Record{"name": "flaky"})
	require.NoError(t, err)
	_, err = st.Enqueue("risk.create", types.Record{"name": "third"})
	require.NoError(t, err)

	require.NoError(t, engine.Drain(context.Background()))

	// The failing item did not block the one after it.
	assert.Equal(t, 3, applier.count())

	pending, err := st.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, flakyID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)

	synced, err := st.ListSynced()
	require.NoError(t, err)
	assert.Len(t, synced, 2)
}

func TestDoubleDrainIsIdempotent(t *testing.T) {
	applier := &fakeApplier{}
	engine, st := newEngine(t, applier, Config{})

	_, err := st.Enqueue("risk.create", types.Record{"name": "once"})
	require.NoError(t, err)

	require.NoError(t, engine.Drain(context.Background()))
	require.NoError(t, engine.Drain(context.Background()))

	// The second drain found nothing to do: same partition, no
	// duplicate submission.
	assert.Equal(t, 1, applier.count())

	synced, err := st.ListSynced()
	require.NoError(t, err)
	assert.Len(t, synced, 1)
}

func TestPermanentRejectionQuarantines(t *testing.T) {
	applier := &fakeApplier{fn: func(m *types.PendingMutation) (types.Record, error) {
		return nil, &remote.APIError{Status: 422, Body: "missing email"}
	}}
	engine, st := newEngine(t, applier, Config{})

	_, err := st.Enqueue("volunteer.create", types.Record{"firstname": "NoEmail"})
	require.NoError(t, err)

	require.NoError(t, engine.Drain(context.Background()))

	pending, err := st.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	dead, err := st.ListDead()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Reason, "422")
}

func TestRetryBudgetExhaustion(t *testing.T) {
	applier := &fakeApplier{fn: func(m *types.PendingMutation) (types.Record, error) {
		return nil, errors.New("network unreachable")
	}}
	engine, st := newEngine(t, applier, Config{MaxAttempts: 2})

	_, err := st.Enqueue("risk.create", types.Record{"name": "doomed"})
	require.NoError(t, err)

	require.NoError(t, engine.Drain(context.Background()))
	require.NoError(t, engine.Drain(context.Background()))

	dead, err := st.ListDead()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Reason, "retry budget exhausted")
}

func TestLocalIDRemappedWithinPass(t *testing.T) {
	var assignSeen types.Record
	applier := &fakeApplier{fn: func(m *types.PendingMutation) (types.Record, error) {
		if m.Kind == "activity.create" {
			return types.Record{"id": float64(42)}, nil
		}
		assignSeen = m.Payload
		return types.Record{}, nil
	}}
	engine, st := newEngine(t, applier, Config{})

	_, err := st.Enqueue("activity.create", types.Record{"id": "local-act", "name": "trap line"})
	require.NoError(t, err)
	_, err = st.Enqueue("activity.risk.assign", types.Record{"activityId": "local-act", "riskId": float64(3)})
	require.NoError(t, err)

	require.NoError(t, engine.Drain(context.Background()))

	// The assignment replayed against the server-assigned id, within
	// the same pass.
	require.NotNil(t, assignSeen)
	assert.Equal(t, "42", assignSeen["activityId"])

	pending, err := st.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUnresolvedLocalRefIsDeferred(t *testing.T) {
	applier := &fakeApplier{}
	engine, st := newEngine(t, applier, Config{})

	// References a parent that never synced; server would reject it.
	id, err := st.Enqueue("activity.risk.assign", types.Record{"activityId": "local-ghost", "riskId": float64(3)})
	require.NoError(t, err)

	require.NoError(t, engine.Drain(context.Background()))

	assert.Equal(t, 0, applier.count())
	pending, err := st.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestConcurrentDrainsCoalesce(t *testing.T) {
	applier := &fakeApplier{delay: 20 * time.Millisecond}
	engine, st := newEngine(t, applier, Config{})

	for i := 0; i < 5; i++ {
		_, err := st.Enqueue("risk.create", types.Record{"name": "item"})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.Drain(context.Background())
		}()
	}
	wg.Wait()

	// Three triggers, each item submitted exactly once.
	assert.Equal(t, 5, applier.count())
}

func TestOnlineEventTriggersDrain(t *testing.T) {
	applier := &fakeApplier{}
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	engine := NewEngine(st, applier, broker, Config{})
	engine.Start()
	t.Cleanup(engine.Stop)

	_, err = st.Enqueue("risk.create", types.Record{"name": "queued offline"})
	require.NoError(t, err)

	broker.Publish(&events.Event{Type: events.EventNetworkOnline})

	require.Eventually(t, func() bool {
		pending, err := st.ListPending()
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
