package resolver

import (
	"context"
	"time"

	"github.com/fieldops/fieldsync/pkg/log"
	"github.com/fieldops/fieldsync/pkg/metrics"
	"github.com/fieldops/fieldsync/pkg/store"
	"github.com/fieldops/fieldsync/pkg/types"
)

// Fetcher fetches the live collection for a scope from the remote API.
type Fetcher interface {
	FetchScope(ctx context.Context, scope types.Scope) ([]types.Record, error)
}

// Connectivity reports the current network state.
type Connectivity interface {
	IsOnline() bool
}

// Resolver merges the authoritative data for a scope (live fetch when
// online, cached collection otherwise) with the pending mutations that
// target it, de-duplicated by the scope's identity key.
type Resolver struct {
	store   *store.Store
	fetcher Fetcher
	network Connectivity
}

// NewResolver creates a resolver over the shared store handle.
func NewResolver(st *store.Store, fetcher Fetcher, network Connectivity) *Resolver {
	return &Resolver{
		store:   st,
		fetcher: fetcher,
		network: network,
	}
}

// ReconciledView produces the single list the UI should render for
// scope. Base-set ordering is preserved; pending items not yet present
// in the base set are appended in insertion order. An item created
// offline and since confirmed by the server appears exactly once, from
// the base set.
func (r *Resolver) ReconciledView(ctx context.Context, scope types.Scope) ([]types.Record, error) {
	def, err := types.LookupScope(scope.Kind)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	base, source, err := r.baseSet(ctx, scope)
	if err != nil {
		return nil, err
	}
	metrics.ReconcileDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	seen := make(map[string]bool, len(base))
	for _, rec := range base {
		if key, ok := def.IdentityOf(rec); ok {
			seen[key] = true
		}
	}

	pending, err := r.store.ListPending()
	if err != nil {
		return nil, err
	}

	merged := base
	for _, m := range pending {
		kind, err := types.LookupKind(m.Kind)
		if err != nil || kind.Scope != scope.Kind {
			continue
		}
		if scope.ParentID != "" && kind.ScopeOf(m.Payload).ParentID != scope.ParentID {
			continue
		}

		key, ok := def.IdentityOf(m.Payload)
		if ok {
			if seen[key] {
				continue // already confirmed by the authoritative set
			}
			seen[key] = true
		}
		merged = append(merged, m.Payload)
	}

	return merged, nil
}

// baseSet picks the authoritative records for scope: a successful live
// fetch refreshes the cache and wins; anything else falls back to the
// last known good cached collection.
func (r *Resolver) baseSet(ctx context.Context, scope types.Scope) ([]types.Record, string, error) {
	logger := log.WithComponent("resolver")

	if r.network.IsOnline() {
		records, err := r.fetcher.FetchScope(ctx, scope)
		if err == nil {
			if cerr := r.store.ReplaceForScope(scope, records); cerr != nil {
				logger.Warn().Err(cerr).Str("scope", scope.String()).Msg("cache refresh failed")
			}
			return records, "live", nil
		}
		logger.Warn().Err(err).Str("scope", scope.String()).Msg("live fetch failed, serving cached")
	}

	cached, err := r.store.ForScope(scope)
	if err != nil {
		return nil, "cached", err
	}
	return cached, "cached", nil
}
