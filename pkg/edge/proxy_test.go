package edge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldsync/pkg/config"
	"github.com/fieldops/fieldsync/pkg/store"
)

func newProxy(t *testing.T, upstream string, cfg config.EdgeConfig) (*Proxy, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	if cfg.CacheVersion == "" {
		cfg.CacheVersion = "v1"
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = "/"
	}
	if cfg.WriteRetention == 0 {
		cfg.WriteRetention = config.Duration(24 * time.Hour)
	}
	p, err := NewProxy(st, upstream, cfg, 500*time.Millisecond)
	require.NoError(t, err)
	return p, st
}

func TestCacheFirstServesFromCacheAfterMiss(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(upstream.Close)

	p, _ := newProxy(t, upstream.URL, config.EdgeConfig{})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/static/logo.png", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get("X-Edge-Cache"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/static/logo.png", nil))
	assert.Equal(t, "hit", rec.Header().Get("X-Edge-Cache"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	// The second request never reached the upstream.
	assert.Equal(t, int32(1), hits.Load())
}

func TestStaleWhileRevalidateRefreshesInBackground(t *testing.T) {
	var body atomic.Value
	body.Store("v1-code")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body.Load().(string))
	}))
	t.Cleanup(upstream.Close)

	p, st := newProxy(t, upstream.URL, config.EdgeConfig{})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/static/js/app.js", nil))
	assert.Equal(t, "miss", rec.Header().Get("X-Edge-Cache"))

	body.Store("v2-code")

	// Stale copy served immediately, new copy fetched behind the scenes.
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/static/js/app.js", nil))
	assert.Equal(t, "stale", rec.Header().Get("X-Edge-Cache"))
	assert.Equal(t, "v1-code", rec.Body.String())

	require.Eventually(t, func() bool {
		cached, err := st.GetResponse("v1", "/static/js/app.js")
		return err == nil && string(cached.Body) == "v2-code"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}))

	p, _ := newProxy(t, upstream.URL, config.EdgeConfig{})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/volunteers", nil))
	assert.Equal(t, "network", rec.Header().Get("X-Edge-Cache"))

	upstream.Close()

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/volunteers", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "fallback", rec.Header().Get("X-Edge-Cache"))
	assert.Equal(t, `[{"id":1}]`, rec.Body.String())
}

func TestNavigationFallsBackToShell(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>shell</html>")
	}))

	p, _ := newProxy(t, upstream.URL, config.EdgeConfig{ShellPath: "/"})
	p.Precache(context.Background(), []string{"/"})

	upstream.Close()

	// A deep link the proxy never saw resolves to the cached shell, not
	// an error page.
	req := httptest.NewRequest("GET", "/searchactivity", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "shell", rec.Header().Get("X-Edge-Cache"))
	assert.Equal(t, "<html>shell</html>", rec.Body.String())

	// The same miss on a non-navigation request is a plain failure.
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/activities/9/risks", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestQueuedWriteCapturedOnTransportFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	p, st := newProxy(t, upstream.URL, config.EdgeConfig{WriteEndpoint: "/predatorrecords"})

	upstream.Close()

	req := httptest.NewRequest("POST", "/predatorrecords", strings.NewReader(`{"species":"rat","trapId":12}`))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", rec.Header().Get("X-Edge-Cache"))
	assert.Contains(t, rec.Body.String(), `"queued":true`)

	writes, err := st.ListWrites()
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, `{"species":"rat","trapId":12}`, string(writes[0].Body))
}

func TestDrainWritesDelivers(t *testing.T) {
	var received atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.Store(string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(upstream.Close)

	p, st := newProxy(t, upstream.URL, config.EdgeConfig{WriteEndpoint: "/predatorrecords"})

	_, err := st.EnqueueWrite(&store.QueuedWrite{
		Method: "POST",
		Path:   "/predatorrecords",
		Body:   []byte(`{"species":"stoat"}`),
	})
	require.NoError(t, err)

	require.NoError(t, p.DrainWrites(context.Background()))

	assert.Equal(t, `{"species":"stoat"}`, received.Load())
	writes, err := st.ListWrites()
	require.NoError(t, err)
	assert.Empty(t, writes)
}

func TestDrainWritesDiscardsExpired(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(upstream.Close)

	p, st := newProxy(t, upstream.URL, config.EdgeConfig{
		WriteEndpoint:  "/predatorrecords",
		WriteRetention: config.Duration(time.Millisecond),
	})

	_, err := st.EnqueueWrite(&store.QueuedWrite{Method: "POST", Path: "/predatorrecords", Body: []byte("{}")})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, p.DrainWrites(context.Background()))

	// Too old to replay safely; dropped without touching the upstream.
	assert.Equal(t, int32(0), hits.Load())
	writes, err := st.ListWrites()
	require.NoError(t, err)
	assert.Empty(t, writes)
}

func TestPrecacheDeduplicates(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "asset")
	}))
	t.Cleanup(upstream.Close)

	p, st := newProxy(t, upstream.URL, config.EdgeConfig{})
	p.Precache(context.Background(), []string{"/app.js?v=1", "/app.js?v=2", "/app.css"})

	assert.Equal(t, int32(2), hits.Load())
	_, err := st.GetResponse("v1", "/app.js")
	assert.NoError(t, err)
	_, err = st.GetResponse("v1", "/app.css")
	assert.NoError(t, err)
}

func TestActivatePurgesOldVersions(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(upstream.Close)

	p, st := newProxy(t, upstream.URL, config.EdgeConfig{CacheVersion: "v2"})

	require.NoError(t, st.PutResponse("v1", "/app.js", &store.CachedResponse{Status: 200}))
	require.NoError(t, st.PutResponse("v2", "/app.js", &store.CachedResponse{Status: 200}))

	require.NoError(t, p.Activate())

	_, err := st.GetResponse("v1", "/app.js")
	assert.Error(t, err)
	_, err = st.GetResponse("v2", "/app.js")
	assert.NoError(t, err)
}
