package netmon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldops/fieldsync/pkg/events"
	"github.com/fieldops/fieldsync/pkg/log"
	"github.com/fieldops/fieldsync/pkg/metrics"
)

// Probe answers whether the remote API is currently reachable.
type Probe interface {
	Check(ctx context.Context) bool
}

// Monitor tracks connectivity and publishes online/offline transition
// events through the broker. It performs no I/O beyond the probe and
// holds no business state; the replay engine and the UI consume its
// signal.
type Monitor struct {
	probe    Probe
	broker   *events.Broker
	interval time.Duration
	timeout  time.Duration

	online  atomic.Bool
	stopCh  chan struct{}
	stopped sync.Once
}

// NewMonitor creates a monitor. It starts pessimistic (offline) until
// the first probe succeeds.
func NewMonitor(probe Probe, broker *events.Broker, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		broker:   broker,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the probe loop. The first probe runs immediately so the
// agent knows its status at startup.
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the probe loop.
func (m *Monitor) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
}

// IsOnline reports the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline records an externally observed state, e.g. a live request
// that just failed, or a test harness. Transitions publish events
// exactly as probe-driven ones do.
func (m *Monitor) SetOnline(online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}

	if online {
		metrics.Online.Set(1)
		metrics.NetworkTransitions.WithLabelValues("online").Inc()
		lg := log.WithComponent("netmon")
		lg.Info().Msg("connectivity restored")
		m.broker.Publish(&events.Event{Type: events.EventNetworkOnline})
	} else {
		metrics.Online.Set(0)
		metrics.NetworkTransitions.WithLabelValues("offline").Inc()
		lg := log.WithComponent("netmon")
		lg.Warn().Msg("connectivity lost")
		m.broker.Publish(&events.Event{Type: events.EventNetworkOffline})
	}
}

// ForceCheck runs one probe immediately and returns the result.
func (m *Monitor) ForceCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	up := m.probe.Check(ctx)
	m.SetOnline(up)
	return up
}

func (m *Monitor) run() {
	m.ForceCheck(context.Background())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ForceCheck(context.Background())
		case <-m.stopCh:
			return
		}
	}
}
