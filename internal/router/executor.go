package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/classboard-dev/classboard-worker/internal/cachestore"
	"github.com/classboard-dev/classboard-worker/internal/datastore/repository"
	"github.com/classboard-dev/classboard-worker/internal/logger"
	"github.com/classboard-dev/classboard-worker/internal/observability/metrics"
)

// backgroundTimeout bounds cache writes and revalidation fetches that run
// detached from the request that triggered them.
const backgroundTimeout = 30 * time.Second

// hopByHopHeaders are stripped before forwarding a request upstream.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Executor runs a routing strategy against the upstream origin and the cache
// stores. Responses with upstream status >= 500 and transport errors both
// count as "network failure" for fallback purposes; 4xx responses are the
// upstream speaking and are returned as-is.
type Executor struct {
	upstream     *url.URL
	client       *http.Client
	stores       *cachestore.Stores
	manifest     map[string]struct{}
	offlineShell string
	metrics      *metrics.Metrics
	log          logger.Logger

	// bg tracks detached cache writes so shutdown can wait for them
	// instead of dropping work mid-flight.
	bg sync.WaitGroup
}

// NewExecutor creates an Executor. precache is the static manifest; paths in
// it are eligible for the static-store fallback on asset fetch failure.
func NewExecutor(upstream *url.URL, client *http.Client, stores *cachestore.Stores, precache []string, offlineShell string, m *metrics.Metrics, log logger.Logger) *Executor {
	manifest := make(map[string]struct{}, len(precache))
	for _, p := range precache {
		manifest[p] = struct{}{}
	}
	return &Executor{
		upstream:     upstream,
		client:       client,
		stores:       stores,
		manifest:     manifest,
		offlineShell: offlineShell,
		metrics:      m,
		log:          log,
	}
}

// Execute serves the request according to the strategy. Passthrough is the
// gateway's job (it streams through a reverse proxy); asking the executor to
// run it is a programming error.
func (e *Executor) Execute(ctx context.Context, r *http.Request, strategy Strategy) (*cachestore.StoredResponse, error) {
	switch strategy {
	case StrategyNetworkOnly:
		return e.networkOnly(ctx, r)
	case StrategyNetworkFirst:
		return e.networkFirst(ctx, r)
	case StrategyCacheFirst:
		return e.cacheFirst(ctx, r)
	default:
		return nil, fmt.Errorf("strategy %s is not executable", strategy)
	}
}

// Wait blocks until all detached background cache work has finished.
func (e *Executor) Wait() {
	e.bg.Wait()
}

// networkOnly always tries the network and never writes the cache: these are
// session-specific endpoints where a cached body shown as primary would be
// stale state. Cache is consulted only when the network fails.
func (e *Executor) networkOnly(ctx context.Context, r *http.Request) (*cachestore.StoredResponse, error) {
	key := requestKey(r)
	live, err := e.fetch(ctx, r)
	if err == nil && live.Status < http.StatusInternalServerError {
		return live, nil
	}

	if cached := e.lookup(ctx, key); cached != nil {
		e.countFallback("exact")
		return cached, nil
	}
	if err != nil {
		return nil, err
	}
	return live, nil
}

// networkFirst serves navigations: live page when online, cached page or the
// offline shell when not. Successful full responses are cloned into the
// runtime store; partial (206) responses are never stored.
func (e *Executor) networkFirst(ctx context.Context, r *http.Request) (*cachestore.StoredResponse, error) {
	key := requestKey(r)
	live, err := e.fetch(ctx, r)
	if err == nil && live.Status < http.StatusInternalServerError {
		if cacheable(live) {
			e.storeInBackground(e.stores.RuntimeName(), key, live)
		}
		return live, nil
	}

	if cached := e.lookup(ctx, key); cached != nil {
		e.countFallback("exact")
		return cached, nil
	}
	if shell, shellErr := e.stores.Get(ctx, e.stores.StaticName(), e.offlineShell); shellErr == nil {
		e.countFallback("shell")
		return shell, nil
	}
	if err != nil {
		return nil, err
	}
	return live, nil
}

// cacheFirst serves static assets: a cache hit is returned immediately and
// revalidated in the background; a miss goes to the network and, when the
// path is part of the precache manifest, falls back to the static store.
func (e *Executor) cacheFirst(ctx context.Context, r *http.Request) (*cachestore.StoredResponse, error) {
	key := requestKey(r)
	if cached := e.lookup(ctx, key); cached != nil {
		e.refreshInBackground(r, key)
		return cached, nil
	}

	live, err := e.fetch(ctx, r)
	if err == nil && live.Status < http.StatusInternalServerError {
		if cacheable(live) {
			if putErr := e.stores.Put(ctx, e.stores.RuntimeName(), key, live); putErr != nil {
				e.log.Warn("failed to store asset response",
					logger.String("url", key),
					logger.Error(putErr))
			}
		}
		return live, nil
	}

	if _, inManifest := e.manifest[r.URL.Path]; inManifest {
		if static, staticErr := e.stores.Get(ctx, e.stores.StaticName(), r.URL.Path); staticErr == nil {
			e.countFallback("static")
			return static, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return live, nil
}

// fetch forwards the request to the upstream origin and buffers the response.
func (e *Executor) fetch(ctx context.Context, r *http.Request) (*cachestore.StoredResponse, error) {
	target := *e.upstream
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request for %s: %w", r.URL.Path, err)
	}
	req.Header = forwardHeaders(r.Header)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch %s failed: %w", r.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if e.metrics != nil {
		e.metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream body for %s: %w", r.URL.Path, err)
	}
	return &cachestore.StoredResponse{
		Status:    resp.StatusCode,
		Header:    resp.Header.Clone(),
		Body:      body,
		FetchedAt: time.Now(),
	}, nil
}

// lookup checks the runtime store, then the static store, for the exact key.
func (e *Executor) lookup(ctx context.Context, key string) *cachestore.StoredResponse {
	for _, store := range []string{e.stores.RuntimeName(), e.stores.StaticName()} {
		resp, err := e.stores.Get(ctx, store, key)
		if err == nil {
			if e.metrics != nil {
				e.metrics.CacheHits.WithLabelValues(store).Inc()
			}
			return resp
		}
		if !errors.Is(err, repository.ErrNotFound) {
			e.log.Warn("cache lookup failed",
				logger.String("store", store),
				logger.String("url", key),
				logger.Error(err))
		}
		if e.metrics != nil {
			e.metrics.CacheMisses.WithLabelValues(store).Inc()
		}
	}
	return nil
}

// storeInBackground clones a response into the named store without blocking
// the caller. Write failures are logged and dropped: the write is a
// best-effort side effect, not part of the primary response.
func (e *Executor) storeInBackground(store, key string, resp *cachestore.StoredResponse) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := e.stores.Put(ctx, store, key, resp); err != nil {
			e.log.Warn("background cache write failed",
				logger.String("store", store),
				logger.String("url", key),
				logger.Error(err))
		}
	}()
}

// refreshInBackground re-fetches a cache-first hit and refreshes the runtime
// entry, keeping cached assets eventually fresh without delaying the response.
func (e *Executor) refreshInBackground(r *http.Request, key string) {
	// Snapshot what fetch needs; the original request is released to the
	// client once the handler returns.
	clone := &http.Request{
		URL:    &url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery},
		Header: forwardHeaders(r.Header),
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		live, err := e.fetch(ctx, clone)
		if err != nil || !cacheable(live) {
			return
		}
		if err := e.stores.Put(ctx, e.stores.RuntimeName(), key, live); err != nil {
			e.log.Warn("background refresh write failed",
				logger.String("url", key),
				logger.Error(err))
		}
	}()
}

func (e *Executor) countFallback(kind string) {
	if e.metrics != nil {
		e.metrics.CacheFallbacks.WithLabelValues(kind).Inc()
	}
}

// cacheable reports whether a response may be written to a store: full 2xx
// only. Partial (206) responses would poison later full-body reads.
func cacheable(resp *cachestore.StoredResponse) bool {
	if resp.Status == http.StatusPartialContent {
		return false
	}
	return resp.Status >= 200 && resp.Status < 300
}

// requestKey is the exact cache key for a request: path plus query.
func requestKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// forwardHeaders copies client headers minus hop-by-hop ones.
func forwardHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}
