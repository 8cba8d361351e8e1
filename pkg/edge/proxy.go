package edge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldops/fieldsync/pkg/config"
	"github.com/fieldops/fieldsync/pkg/log"
	"github.com/fieldops/fieldsync/pkg/metrics"
	"github.com/fieldops/fieldsync/pkg/store"
)

// cacheHeader marks how the proxy satisfied a request, for the UI's
// offline indicators and for tests.
const cacheHeader = "X-Edge-Cache"

// Proxy is the request-boundary interception layer. The UI points all
// its traffic here; the proxy forwards to the upstream app/API origin
// and applies the per-request caching strategy.
type Proxy struct {
	store    *store.Store
	router   *Router
	upstream *url.URL
	client   *http.Client

	version   string
	shellPath string
	timeout   time.Duration
	retention time.Duration
}

// NewProxy creates the edge proxy in front of upstreamBase.
func NewProxy(st *store.Store, upstreamBase string, cfg config.EdgeConfig, networkTimeout time.Duration) (*Proxy, error) {
	u, err := url.Parse(upstreamBase)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	return &Proxy{
		store:     st,
		router:    NewRouter(cfg.WriteEndpoint),
		upstream:  u,
		client:    &http.Client{},
		version:   cfg.CacheVersion,
		shellPath: cfg.ShellPath,
		timeout:   networkTimeout,
		retention: cfg.WriteRetention.Std(),
	}, nil
}

// Activate discards cached responses written under superseded cache
// versions. Call once at startup, after bumping the version in config.
func (p *Proxy) Activate() error {
	purged, err := p.store.PurgeStaleResponses(p.version)
	if err != nil {
		return fmt.Errorf("failed to purge stale cache: %w", err)
	}
	if purged > 0 {
		lg := log.WithComponent("edge")
		lg.Info().Int("purged", purged).Str("version", p.version).Msg("stale cache entries discarded")
	}
	return nil
}

// Precache fetches and caches the shell asset manifest. Paths are
// de-duplicated by query-stripped path, keeping the first occurrence.
// Individual failures are logged and skipped; a partial shell is better
// than none.
func (p *Proxy) Precache(ctx context.Context, manifest []string) {
	logger := log.WithComponent("edge")

	seen := make(map[string]bool, len(manifest))
	for _, raw := range manifest {
		key := canonicalPath(raw)
		if seen[key] {
			continue
		}
		seen[key] = true

		resp, err := p.fetch(ctx, http.MethodGet, raw, nil, nil)
		if err != nil {
			logger.Warn().Err(err).Str("path", raw).Msg("precache fetch failed")
			continue
		}
		if err := p.store.PutResponse(p.version, key, resp); err != nil {
			logger.Warn().Err(err).Str("path", raw).Msg("precache store failed")
			continue
		}
		logger.Debug().Str("path", key).Msg("precached")
	}
}

// ServeHTTP classifies the request and applies its strategy.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	strategy := p.router.Classify(r)
	lg := log.WithComponent("edge")
	lg.Debug().
		Str("method", r.Method).Str("path", r.URL.Path).Str("strategy", string(strategy)).
		Msg("edge request")

	switch strategy {
	case StrategyCacheFirst:
		p.serveCacheFirst(w, r)
	case StrategyStaleWhileRevalidate:
		p.serveStaleWhileRevalidate(w, r)
	case StrategyNetworkFirst:
		p.serveNetworkFirst(w, r)
	case StrategyQueuedWrite:
		p.serveQueuedWrite(w, r)
	default:
		p.servePassthrough(w, r)
	}
}

func (p *Proxy) serveCacheFirst(w http.ResponseWriter, r *http.Request) {
	key := canonicalPath(r.URL.Path)
	if cached, err := p.store.GetResponse(p.version, key); err == nil {
		metrics.EdgeRequests.WithLabelValues(string(StrategyCacheFirst), "hit").Inc()
		writeCached(w, cached, "hit")
		return
	}

	resp, err := p.fetch(r.Context(), http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if err != nil {
		metrics.EdgeRequests.WithLabelValues(string(StrategyCacheFirst), "error").Inc()
		writeFailure(w)
		return
	}
	p.cacheIfOK(key, resp)
	metrics.EdgeRequests.WithLabelValues(string(StrategyCacheFirst), "miss").Inc()
	writeCached(w, resp, "miss")
}

func (p *Proxy) serveStaleWhileRevalidate(w http.ResponseWriter, r *http.Request) {
	key := canonicalPath(r.URL.Path)
	requestURI := r.URL.RequestURI()

	if cached, err := p.store.GetResponse(p.version, key); err == nil {
		metrics.EdgeRequests.WithLabelValues(string(StrategyStaleWhileRevalidate), "stale").Inc()
		writeCached(w, cached, "stale")

		// Refresh in background; the next request gets the new copy.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			if resp, err := p.fetch(ctx, http.MethodGet, requestURI, nil, nil); err == nil {
				p.cacheIfOK(key, resp)
			}
		}()
		return
	}

	resp, err := p.fetch(r.Context(), http.MethodGet, requestURI, r.Header, nil)
	if err != nil {
		metrics.EdgeRequests.WithLabelValues(string(StrategyStaleWhileRevalidate), "error").Inc()
		writeFailure(w)
		return
	}
	p.cacheIfOK(key, resp)
	metrics.EdgeRequests.WithLabelValues(string(StrategyStaleWhileRevalidate), "miss").Inc()
	writeCached(w, resp, "miss")
}

func (p *Proxy) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	key := canonicalPath(r.URL.Path)

	// Bounded attempt: on expiry the in-flight request is cancelled and
	// its eventual result discarded.
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	resp, err := p.fetch(ctx, http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if err == nil && resp.Status < 500 {
		p.cacheIfOK(key, resp)
		metrics.EdgeRequests.WithLabelValues(string(StrategyNetworkFirst), "network").Inc()
		writeCached(w, resp, "network")
		return
	}

	if cached, cerr := p.store.GetResponse(p.version, key); cerr == nil {
		metrics.EdgeRequests.WithLabelValues(string(StrategyNetworkFirst), "fallback").Inc()
		writeCached(w, cached, "fallback")
		return
	}

	if IsNavigation(r) {
		if shell, serr := p.store.GetResponse(p.version, p.shellPath); serr == nil {
			metrics.EdgeRequests.WithLabelValues(string(StrategyNetworkFirst), "shell").Inc()
			writeCached(w, shell, "shell")
			return
		}
	}

	metrics.EdgeRequests.WithLabelValues(string(StrategyNetworkFirst), "error").Inc()
	writeFailure(w)
}

func (p *Proxy) servePassthrough(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	resp, err := p.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err != nil {
		metrics.EdgeRequests.WithLabelValues(string(StrategyPassthrough), "error").Inc()
		writeFailure(w)
		return
	}
	metrics.EdgeRequests.WithLabelValues(string(StrategyPassthrough), "network").Inc()
	writeCached(w, resp, "")
}

// fetch performs one upstream request and materializes the response.
func (p *Proxy) fetch(ctx context.Context, method, requestURI string, header http.Header, body []byte) (*store.CachedResponse, error) {
	target := strings.TrimRight(p.upstream.String(), "/") + requestURI

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &store.CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     data,
		StoredAt: time.Now().UTC(),
	}, nil
}

func (p *Proxy) cacheIfOK(key string, resp *store.CachedResponse) {
	if resp.Status < 200 || resp.Status > 299 {
		return
	}
	if err := p.store.PutResponse(p.version, key, resp); err != nil {
		lg := log.WithComponent("edge")
		lg.Warn().Err(err).Str("path", key).Msg("cache write failed")
	}
}

func writeCached(w http.ResponseWriter, resp *store.CachedResponse, via string) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if via != "" {
		w.Header().Set(cacheHeader, via)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// writeFailure returns a generic failure instead of hanging when there
// is nothing to serve.
func writeFailure(w http.ResponseWriter) {
	http.Error(w, "offline and no cached copy available", http.StatusGatewayTimeout)
}
