package edge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldops/fieldsync/pkg/events"
	"github.com/fieldops/fieldsync/pkg/log"
	"github.com/fieldops/fieldsync/pkg/metrics"
	"github.com/fieldops/fieldsync/pkg/store"
)

// serveQueuedWrite forwards the designated mutating endpoint. A
// transport failure captures the write into the durable retry queue and
// acknowledges it optimistically, so the UI can show "saved offline".
// Responses the server actually produced, including rejections, pass
// through untouched.
func (p *Proxy) serveQueuedWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := p.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err == nil {
		metrics.EdgeRequests.WithLabelValues(string(StrategyQueuedWrite), "network").Inc()
		writeCached(w, resp, "")
		return
	}

	queued := &store.QueuedWrite{
		Method: r.Method,
		Path:   r.URL.RequestURI(),
		Header: r.Header.Clone(),
		Body:   body,
	}
	id, qerr := p.store.EnqueueWrite(queued)
	if qerr != nil {
		// Losing a write silently is the worst case; surface it.
		lg := log.WithComponent("edge")
		lg.Error().Err(qerr).Msg("failed to queue write")
		metrics.EdgeRequests.WithLabelValues(string(StrategyQueuedWrite), "error").Inc()
		http.Error(w, "write could not be delivered or queued", http.StatusInsufficientStorage)
		return
	}

	metrics.EdgeRequests.WithLabelValues(string(StrategyQueuedWrite), "queued").Inc()
	lg := log.WithComponent("edge")
	lg.Info().Uint64("write_id", id).Str("path", queued.Path).Msg("write queued for retry")
	w.Header().Set(cacheHeader, "queued")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"queued":true,"id":%d}`, id)
}

// DrainWrites retries every captured write in insertion order. Entries
// older than the retention window are discarded un-replayed. A write
// the server answers, with any status, is considered delivered and
// removed; a transport failure keeps it queued for the next drain.
func (p *Proxy) DrainWrites(ctx context.Context) error {
	logger := log.WithComponent("edge")

	writes, err := p.store.ListWrites()
	if err != nil {
		return fmt.Errorf("failed to list queued writes: %w", err)
	}

	cutoff := time.Now().Add(-p.retention)
	for _, qw := range writes {
		if qw.QueuedAt.Before(cutoff) {
			logger.Warn().Uint64("write_id", qw.ID).Time("queued_at", qw.QueuedAt).Msg("queued write expired, discarding")
			if err := p.store.DeleteWrite(qw.ID); err != nil {
				return err
			}
			continue
		}

		resp, err := p.fetch(ctx, qw.Method, qw.Path, qw.Header, qw.Body)
		if err != nil {
			logger.Warn().Err(err).Uint64("write_id", qw.ID).Msg("write retry failed, keeping queued")
			continue
		}
		logger.Info().Uint64("write_id", qw.ID).Int("status", resp.Status).Msg("queued write delivered")
		if err := p.store.DeleteWrite(qw.ID); err != nil {
			return err
		}
	}
	return nil
}

// WatchConnectivity drains the write queue whenever connectivity
// returns. It blocks until the subscription channel closes or ctx ends.
func (p *Proxy) WatchConnectivity(ctx context.Context, broker *events.Broker) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Type == events.EventNetworkOnline {
				if err := p.DrainWrites(ctx); err != nil {
					lg := log.WithComponent("edge")
					lg.Error().Err(err).Msg("write drain failed")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
