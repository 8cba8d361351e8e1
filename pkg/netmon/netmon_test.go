package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldsync/pkg/events"
)

type fakeProbe struct{ up atomic.Bool }

func (f *fakeProbe) Check(ctx context.Context) bool { return f.up.Load() }

func TestMonitorStartsOffline(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	m := NewMonitor(&fakeProbe{}, broker, time.Minute, time.Second)
	assert.False(t, m.IsOnline())
}

func TestTransitionsPublishEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	sub := broker.Subscribe()
	t.Cleanup(func() { broker.Unsubscribe(sub) })

	probe := &fakeProbe{}
	m := NewMonitor(probe, broker, time.Minute, time.Second)

	probe.up.Store(true)
	assert.True(t, m.ForceCheck(context.Background()))
	assert.True(t, m.IsOnline())

	ev := waitEvent(t, sub)
	assert.Equal(t, events.EventNetworkOnline, ev.Type)

	probe.up.Store(false)
	assert.False(t, m.ForceCheck(context.Background()))
	assert.False(t, m.IsOnline())

	ev = waitEvent(t, sub)
	assert.Equal(t, events.EventNetworkOffline, ev.Type)
}

func TestRepeatedStateDoesNotRepublish(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	sub := broker.Subscribe()
	t.Cleanup(func() { broker.Unsubscribe(sub) })

	probe := &fakeProbe{}
	probe.up.Store(true)
	m := NewMonitor(probe, broker, time.Minute, time.Second)

	m.ForceCheck(context.Background())
	m.ForceCheck(context.Background())

	waitEvent(t, sub)
	select {
	case ev := <-sub:
		t.Fatalf("unexpected second event %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHTTPProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)

	probe := NewHTTPProbe(srv.URL + "/health")
	assert.True(t, probe.Check(context.Background()))

	// A reachable server that is erroring is as good as unreachable.
	status.Store(http.StatusInternalServerError)
	assert.False(t, probe.Check(context.Background()))

	srv.Close()
	assert.False(t, probe.Check(context.Background()))
}

func waitEvent(t *testing.T, sub events.Subscriber) *events.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for event")
		return nil
	}
}
