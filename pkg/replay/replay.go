package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldops/fieldsync/pkg/events"
	"github.com/fieldops/fieldsync/pkg/log"
	"github.com/fieldops/fieldsync/pkg/metrics"
	"github.com/fieldops/fieldsync/pkg/remote"
	"github.com/fieldops/fieldsync/pkg/store"
	"github.com/fieldops/fieldsync/pkg/types"
	"golang.org/x/time/rate"
)

// Applier submits one queued mutation to the remote API.
type Applier interface {
	Apply(ctx context.Context, m *types.PendingMutation) (types.Record, error)
}

// Engine drains the persistent mutation queue against the remote API.
// Drains are triggered by the network coming back online, by process
// start, and manually ("retry sync"); all triggers funnel through Drain,
// which serializes passes so two triggers can never submit the same
// item twice.
type Engine struct {
	store       *store.Store
	applier     Applier
	broker      *events.Broker
	limiter     *rate.Limiter
	maxAttempts int

	mu       sync.Mutex
	draining bool
	dirty    bool

	sub     events.Subscriber
	stopCh  chan struct{}
	stopped sync.Once
}

// Config holds replay engine settings.
type Config struct {
	// MaxAttempts quarantines an item after this many transient
	// failures. Zero retries forever.
	MaxAttempts int

	// Rate caps submissions per second. Zero means unlimited.
	Rate float64
}

// NewEngine creates a replay engine over the shared store handle.
func NewEngine(st *store.Store, applier Applier, broker *events.Broker, cfg Config) *Engine {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Engine{
		store:       st,
		applier:     applier,
		broker:      broker,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: cfg.MaxAttempts,
		stopCh:      make(chan struct{}),
	}
}

// Start subscribes to connectivity events; every transition to online
// triggers a drain.
func (e *Engine) Start() {
	e.sub = e.broker.Subscribe()
	go e.run()
}

// Stop stops listening for connectivity events. A drain in progress
// runs to completion of the current queue snapshot.
func (e *Engine) Stop() {
	e.stopped.Do(func() {
		close(e.stopCh)
		if e.sub != nil {
			e.broker.Unsubscribe(e.sub)
		}
	})
}

func (e *Engine) run() {
	for {
		select {
		case ev, ok := <-e.sub:
			if !ok {
				return
			}
			if ev.Type == events.EventNetworkOnline {
				go func() {
					if err := e.Drain(context.Background()); err != nil {
						lg := log.WithComponent("replay")
						lg.Error().Err(err).Msg("drain failed")
					}
				}()
			}
		case <-e.stopCh:
			return
		}
	}
}

// Drain replays the pending queue. If a drain is already in progress
// the request coalesces into it: the running drain performs one more
// pass after finishing, instead of a second concurrent pass racing over
// the same items.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	if e.draining {
		e.dirty = true
		e.mu.Unlock()
		return nil
	}
	e.draining = true
	e.mu.Unlock()

	for {
		err := e.drainOnce(ctx)

		e.mu.Lock()
		if e.dirty && err == nil {
			e.dirty = false
			e.mu.Unlock()
			continue
		}
		e.dirty = false
		e.draining = false
		e.mu.Unlock()
		return err
	}
}

// drainOnce runs one pass over a snapshot of the pending queue in FIFO
// order. A failing item is left pending (or quarantined) and the pass
// continues; one bad record never blocks the rest of the queue.
func (e *Engine) drainOnce(ctx context.Context) error {
	logger := log.WithComponent("replay")

	items, err := e.store.ListPending()
	if err != nil {
		return fmt.Errorf("failed to list pending mutations: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	e.broker.Publish(&events.Event{
		Type:    events.EventReplayStarted,
		Message: fmt.Sprintf("replaying %d pending mutations", len(items)),
	})

	var synced, failed int
	for i, m := range items {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		// A payload still referencing an unsynced local parent cannot
		// be accepted by the server yet; leave it for a later pass.
		if ref, ok := unresolvedLocalRef(m.Payload); ok {
			logger.Debug().Uint64("mutation_id", m.ID).Str("ref", ref).Msg("deferring, parent not yet synced")
			failed++
			continue
		}

		created, err := e.applier.Apply(ctx, m)
		if err != nil {
			failed++
			e.handleFailure(m, err)
			continue
		}

		e.remap(m, created, items[i+1:])
		if err := e.store.Archive(m.ID); err != nil {
			return fmt.Errorf("failed to archive mutation %d: %w", m.ID, err)
		}
		synced++
		metrics.MutationsSynced.Inc()
		e.broker.Publish(&events.Event{
			Type:    events.EventMutationSynced,
			Message: m.Kind,
		})
		lg := log.WithMutation(m.ID, m.Kind)
		lg.Info().Msg("mutation synced")
	}

	metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	e.updateQueueDepth()
	e.broker.Publish(&events.Event{
		Type:    events.EventReplayCompleted,
		Message: fmt.Sprintf("synced %d, left pending %d", synced, failed),
	})
	logger.Info().Int("synced", synced).Int("remaining", failed).Msg("drain complete")
	return nil
}

// handleFailure classifies a replay error. Definitive server rejections
// quarantine the item immediately; transient failures leave it pending
// until its retry budget runs out.
func (e *Engine) handleFailure(m *types.PendingMutation, applyErr error) {
	logger := log.WithMutation(m.ID, m.Kind)

	var apiErr *remote.APIError
	if errors.As(applyErr, &apiErr) && apiErr.Permanent() {
		metrics.ReplayFailures.WithLabelValues("rejected").Inc()
		e.quarantine(m, applyErr.Error())
		return
	}

	metrics.ReplayFailures.WithLabelValues("transient").Inc()
	if err := e.store.RecordAttempt(m.ID, applyErr); err != nil {
		logger.Error().Err(err).Msg("failed to record attempt")
		return
	}
	if e.maxAttempts > 0 && m.Attempts+1 >= e.maxAttempts {
		e.quarantine(m, fmt.Sprintf("retry budget exhausted after %d attempts: %v", m.Attempts+1, applyErr))
		return
	}
	logger.Warn().Err(applyErr).Int("attempts", m.Attempts+1).Msg("replay failed, left pending")
}

func (e *Engine) quarantine(m *types.PendingMutation, reason string) {
	if err := e.store.Quarantine(m.ID, reason); err != nil {
		lg := log.WithMutation(m.ID, m.Kind)
		lg.Error().Err(err).Msg("failed to quarantine")
		return
	}
	metrics.MutationsDead.Inc()
	e.broker.Publish(&events.Event{
		Type:    events.EventMutationDead,
		Message: reason,
	})
	lg := log.WithMutation(m.ID, m.Kind)
	lg.Warn().Str("reason", reason).Msg("mutation quarantined")
}

// remap replaces the payload's local temporary id with the
// server-assigned one everywhere it is still referenced: in the durable
// queue and in the in-memory remainder of this pass's snapshot.
func (e *Engine) remap(m *types.PendingMutation, created types.Record, rest []*types.PendingMutation) {
	localID, ok := types.FieldID(m.Payload, "id")
	if !ok || !types.IsLocalID(localID) {
		return
	}
	serverID, ok := types.FieldID(created, "id")
	if !ok {
		return
	}

	if err := e.store.RemapLocalID(localID, serverID); err != nil {
		lg := log.WithMutation(m.ID, m.Kind)
		lg.Error().Err(err).Msg("failed to remap local id")
	}
	for _, later := range rest {
		for field, val := range later.Payload {
			if sv, ok := val.(string); ok && sv == localID {
				later.Payload[field] = serverID
			}
		}
	}
}

func (e *Engine) updateQueueDepth() {
	if pending, err := e.store.ListPending(); err == nil {
		metrics.QueueDepth.Set(float64(len(pending)))
	}
}

// unresolvedLocalRef reports a payload field (other than the record's
// own id) that still points at a local temporary id.
func unresolvedLocalRef(payload types.Record) (string, bool) {
	for field, val := range payload {
		if field == "id" {
			continue
		}
		if sv, ok := val.(string); ok && types.IsLocalID(sv) {
			return sv, true
		}
	}
	return "", false
}
