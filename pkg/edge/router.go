package edge

import (
	"net/http"
	"path"
	"strings"
)

// Strategy is the caching policy applied to a classified request.
type Strategy string

const (
	// StrategyCacheFirst serves immutable assets (images, fonts) from
	// cache, fetching and storing only on a miss.
	StrategyCacheFirst Strategy = "cache-first"

	// StrategyStaleWhileRevalidate serves the cached copy of static
	// code assets immediately and refreshes the cache in background.
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"

	// StrategyNetworkFirst tries the network under a short deadline and
	// falls back to cache, then (for navigations) to the app shell.
	StrategyNetworkFirst Strategy = "network-first"

	// StrategyQueuedWrite forwards the designated mutating endpoint and
	// captures failed writes into the durable retry queue.
	StrategyQueuedWrite Strategy = "queued-write"

	// StrategyPassthrough proxies everything else untouched.
	StrategyPassthrough Strategy = "passthrough"
)

var (
	assetExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
		".webp": true, ".svg": true, ".ico": true,
		".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	}
	codeExtensions = map[string]bool{
		".js": true, ".css": true, ".map": true,
	}
)

// Router classifies requests by method, destination path, and intent.
type Router struct {
	writeEndpoint string
}

// NewRouter creates a router. writeEndpoint is the one mutating path
// whose failures are queued for background retry.
func NewRouter(writeEndpoint string) *Router {
	return &Router{writeEndpoint: writeEndpoint}
}

// Classify picks the strategy for a request.
func (r *Router) Classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		if r.writeEndpoint != "" && matchPath(r.writeEndpoint, req.URL.Path) {
			return StrategyQueuedWrite
		}
		return StrategyPassthrough
	}

	ext := strings.ToLower(path.Ext(req.URL.Path))
	switch {
	case assetExtensions[ext]:
		return StrategyCacheFirst
	case codeExtensions[ext]:
		return StrategyStaleWhileRevalidate
	default:
		return StrategyNetworkFirst
	}
}

// IsNavigation reports whether the request is a page navigation, i.e. a
// GET that expects an HTML document. Navigations always resolve to the
// cached application shell when nothing better is available, never to
// an error page, so client-side routing can take over once online.
func IsNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// matchPath matches an endpoint pattern against a request path: exact,
// or prefix at a path-segment boundary.
func matchPath(pattern, reqPath string) bool {
	if pattern == reqPath {
		return true
	}
	if strings.HasPrefix(reqPath, pattern) {
		if pattern[len(pattern)-1] == '/' {
			return true
		}
		return len(reqPath) > len(pattern) && reqPath[len(pattern)] == '/'
	}
	return false
}

// canonicalPath strips the query string, so the same logical asset
// under different cache-busting parameters occupies one cache slot.
func canonicalPath(rawPath string) string {
	if i := strings.IndexByte(rawPath, '?'); i != -1 {
		return rawPath[:i]
	}
	return rawPath
}
