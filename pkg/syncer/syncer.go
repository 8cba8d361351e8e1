package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldops/fieldsync/pkg/config"
	"github.com/fieldops/fieldsync/pkg/events"
	"github.com/fieldops/fieldsync/pkg/log"
	"github.com/fieldops/fieldsync/pkg/metrics"
	"github.com/fieldops/fieldsync/pkg/netmon"
	"github.com/fieldops/fieldsync/pkg/remote"
	"github.com/fieldops/fieldsync/pkg/replay"
	"github.com/fieldops/fieldsync/pkg/resolver"
	"github.com/fieldops/fieldsync/pkg/store"
	"github.com/fieldops/fieldsync/pkg/types"
)

// Service wires the sync core together and is the surface the UI talks
// to: reconciled reads, write-or-queue mutations, connectivity, and the
// manual replay trigger.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	remote   *remote.Client
	broker   *events.Broker
	monitor  *netmon.Monitor
	resolver *resolver.Resolver
	engine   *replay.Engine
}

// EnqueueResult reports how a mutation was handled: applied live, or
// captured into the offline queue.
type EnqueueResult struct {
	// Queued is true when the mutation went into the offline queue and
	// will sync later; the UI shows its "will sync" indicator.
	Queued bool `json:"queued"`

	// ID is the queue id when Queued.
	ID uint64 `json:"id,omitempty"`

	// Record is the server's confirmed record when applied live.
	Record types.Record `json:"record,omitempty"`
}

// New builds the service: opens the durable store and constructs every
// component around the shared handle. Call Start to begin monitoring
// and replaying, and Close to tear down.
func New(cfg *config.Config) (*Service, error) {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := remote.NewClient(cfg.APIBase, cfg.NetworkTimeout.Std())
	broker := events.NewBroker()
	probe := netmon.NewHTTPProbe(cfg.APIBase + cfg.HealthPath)
	monitor := netmon.NewMonitor(probe, broker, cfg.ProbeInterval.Std(), cfg.NetworkTimeout.Std())

	return &Service{
		cfg:      cfg,
		store:    st,
		remote:   client,
		broker:   broker,
		monitor:  monitor,
		resolver: resolver.NewResolver(st, client, monitor),
		engine: replay.NewEngine(st, client, broker, replay.Config{
			MaxAttempts: cfg.MaxAttempts,
			Rate:        cfg.ReplayRate,
		}),
	}, nil
}

// Start launches the broker, the replay engine, and the connectivity
// monitor, in that order: the engine must already be subscribed when
// the monitor's first probe reports online, so the app-start drain
// fires.
func (s *Service) Start() {
	s.broker.Start()
	s.engine.Start()
	s.monitor.Start()
}

// Close stops all components and closes the durable store.
func (s *Service) Close() error {
	s.monitor.Stop()
	s.engine.Stop()
	s.broker.Stop()
	return s.store.Close()
}

// ReconciledView returns the merged list the UI should render for the
// scope.
func (s *Service) ReconciledView(ctx context.Context, kind, parentID string) ([]types.Record, error) {
	return s.resolver.ReconciledView(ctx, types.Scope{Kind: kind, ParentID: parentID})
}

// EnqueueMutation handles a UI write. Online, it goes straight to the
// remote API; offline, or when the live write fails on the transport,
// it is captured into the durable queue with an optimistic local
// acknowledgment. A queue write failure is returned as-is: the caller
// must surface it, never report success.
func (s *Service) EnqueueMutation(ctx context.Context, kind string, payload types.Record) (*EnqueueResult, error) {
	def, err := types.LookupKind(kind)
	if err != nil {
		return nil, err
	}

	if s.monitor.IsOnline() {
		m := &types.PendingMutation{Kind: kind, Payload: payload}
		created, err := s.remote.Apply(ctx, m)
		if err == nil {
			return &EnqueueResult{Record: created}, nil
		}
		// A definitive rejection of a live write is the server talking
		// to the user right now; queueing it would hide the error.
		var apiErr *remote.APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			return nil, err
		}
		lg := log.WithComponent("syncer")
		lg.Warn().Err(err).Str("kind", kind).Msg("live write failed, queueing")
	}

	// Offline-created records get a local id so the UI can reference
	// them before the server assigns the real one.
	if _, ok := types.FieldID(payload, "id"); !ok && def.Scope != "" {
		payload["id"] = "local-" + uuid.NewString()
	}

	id, err := s.store.Enqueue(kind, payload)
	if err != nil {
		return nil, err
	}
	metrics.MutationsEnqueued.Inc()
	s.broker.Publish(&events.Event{
		Type:    events.EventMutationEnqueued,
		Message: kind,
	})
	lg2 := log.WithMutation(id, kind)
	lg2.Info().Msg("mutation queued")
	return &EnqueueResult{Queued: true, ID: id}, nil
}

// IsOnline reports current connectivity.
func (s *Service) IsOnline() bool {
	return s.monitor.IsOnline()
}

// TriggerReplay forces a drain now, e.g. behind a "retry sync" button.
func (s *Service) TriggerReplay(ctx context.Context) error {
	return s.engine.Drain(ctx)
}

// Pending lists queued mutations in insertion order.
func (s *Service) Pending() ([]*types.PendingMutation, error) {
	return s.store.ListPending()
}

// Synced lists the replay archive.
func (s *Service) Synced() ([]*types.SyncedMutation, error) {
	return s.store.ListSynced()
}

// Dead lists quarantined mutations.
func (s *Service) Dead() ([]*types.DeadMutation, error) {
	return s.store.ListDead()
}

// Requeue moves a quarantined mutation back into the pending queue.
func (s *Service) Requeue(deadID uint64) (uint64, error) {
	return s.store.Requeue(deadID)
}

// Store exposes the shared durable store handle, e.g. for the edge
// proxy which shares the same database file.
func (s *Service) Store() *store.Store {
	return s.store
}

// Broker exposes the event broker for additional consumers.
func (s *Service) Broker() *events.Broker {
	return s.broker
}

// Monitor exposes the connectivity monitor.
func (s *Service) Monitor() *netmon.Monitor {
	return s.monitor
}
