package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard-dev/classboard-worker/internal/cachestore"
	"github.com/classboard-dev/classboard-worker/internal/datastore/repository"
	"github.com/classboard-dev/classboard-worker/internal/logger"
)

const testOrigin = "http://backend.local"

func newTestExecutor(t *testing.T) (*Executor, *cachestore.Stores, *httpmock.MockTransport) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	client := &http.Client{Transport: transport}

	stores := cachestore.New(1,
		repository.NewMemoryCacheRepository(),
		repository.NewMemoryMetaRepository(),
		time.Minute, logger.Noop())

	upstream, err := url.Parse(testOrigin)
	require.NoError(t, err)

	exec := NewExecutor(upstream, client, stores,
		[]string{"/", "/offline.html", "/static/js/app.js"},
		"/offline.html", nil, logger.Noop())
	return exec, stores, transport
}

func navRequest(path string) *http.Request {
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	return req
}

func TestNetworkFirst_StoresSuccessfulNavigation(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	transport.RegisterResponder("GET", testOrigin+"/board",
		httpmock.NewStringResponder(200, "<html>board</html>"))

	resp, err := exec.Execute(context.Background(), navRequest("/board"), StrategyNetworkFirst)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "<html>board</html>", string(resp.Body))

	exec.Wait()
	cached, err := stores.Get(context.Background(), stores.RuntimeName(), "/board")
	require.NoError(t, err)
	assert.Equal(t, "<html>board</html>", string(cached.Body))
}

func TestNetworkFirst_PartialContentNeverCached(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	transport.RegisterResponder("GET", testOrigin+"/board",
		httpmock.NewStringResponder(http.StatusPartialContent, "partial"))

	resp, err := exec.Execute(context.Background(), navRequest("/board"), StrategyNetworkFirst)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.Status)

	exec.Wait()
	_, err = stores.Get(context.Background(), stores.RuntimeName(), "/board")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNetworkFirst_OfflineFallsBackToExactMatch(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	require.NoError(t, stores.Put(context.Background(), stores.RuntimeName(), "/board",
		&cachestore.StoredResponse{Status: 200, Body: []byte("cached board")}))
	transport.RegisterResponder("GET", testOrigin+"/board",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	resp, err := exec.Execute(context.Background(), navRequest("/board"), StrategyNetworkFirst)
	require.NoError(t, err)
	assert.Equal(t, "cached board", string(resp.Body))
}

func TestNetworkFirst_OfflineFallsBackToShell(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	require.NoError(t, stores.Put(context.Background(), stores.StaticName(), "/offline.html",
		&cachestore.StoredResponse{Status: 200, Body: []byte("offline shell")}))
	transport.RegisterResponder("GET", testOrigin+"/uncached-page",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	resp, err := exec.Execute(context.Background(), navRequest("/uncached-page"), StrategyNetworkFirst)
	require.NoError(t, err)
	assert.Equal(t, "offline shell", string(resp.Body))
}

func TestNetworkFirst_NoFallbackPropagatesError(t *testing.T) {
	exec, _, transport := newTestExecutor(t)
	transport.RegisterResponder("GET", testOrigin+"/uncached-page",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := exec.Execute(context.Background(), navRequest("/uncached-page"), StrategyNetworkFirst)
	assert.Error(t, err)
}

func TestNetworkOnly_PrefersLiveResponseOverCache(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	require.NoError(t, stores.Put(context.Background(), stores.RuntimeName(), "/api/board/magnets",
		&cachestore.StoredResponse{Status: 200, Body: []byte("stale magnets")}))
	transport.RegisterResponder("GET", testOrigin+"/api/board/magnets",
		httpmock.NewStringResponder(200, "live magnets"))

	req := httptest.NewRequest("GET", "/api/board/magnets", nil)
	resp, err := exec.Execute(context.Background(), req, StrategyNetworkOnly)
	require.NoError(t, err)
	assert.Equal(t, "live magnets", string(resp.Body))
}

func TestNetworkOnly_NeverWritesCache(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	transport.RegisterResponder("GET", testOrigin+"/api/chat/messages",
		httpmock.NewStringResponder(200, `[{"id":1}]`))

	req := httptest.NewRequest("GET", "/api/chat/messages", nil)
	_, err := exec.Execute(context.Background(), req, StrategyNetworkOnly)
	require.NoError(t, err)

	exec.Wait()
	_, err = stores.Get(context.Background(), stores.RuntimeName(), "/api/chat/messages")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNetworkOnly_FallsBackToCacheOnFailure(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	require.NoError(t, stores.Put(context.Background(), stores.RuntimeName(), "/auth/me",
		&cachestore.StoredResponse{Status: 200, Body: []byte(`{"user":"cached"}`)}))
	transport.RegisterResponder("GET", testOrigin+"/auth/me",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	req := httptest.NewRequest("GET", "/auth/me", nil)
	resp, err := exec.Execute(context.Background(), req, StrategyNetworkOnly)
	require.NoError(t, err)
	assert.Equal(t, `{"user":"cached"}`, string(resp.Body))
}

func TestNetworkOnly_NoCacheSurfacesError(t *testing.T) {
	exec, _, transport := newTestExecutor(t)
	transport.RegisterResponder("GET", testOrigin+"/api/votes",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	req := httptest.NewRequest("GET", "/api/votes", nil)
	_, err := exec.Execute(context.Background(), req, StrategyNetworkOnly)
	assert.Error(t, err)
}

func TestCacheFirst_HitServedImmediatelyAndRefreshed(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	require.NoError(t, stores.Put(context.Background(), stores.RuntimeName(), "/static/js/app.js",
		&cachestore.StoredResponse{Status: 200, Body: []byte("old bundle")}))
	transport.RegisterResponder("GET", testOrigin+"/static/js/app.js",
		httpmock.NewStringResponder(200, "new bundle"))

	req := httptest.NewRequest("GET", "/static/js/app.js", nil)
	resp, err := exec.Execute(context.Background(), req, StrategyCacheFirst)
	require.NoError(t, err)
	assert.Equal(t, "old bundle", string(resp.Body), "hit must be served without waiting for revalidation")

	exec.Wait()
	refreshed, err := stores.Get(context.Background(), stores.RuntimeName(), "/static/js/app.js")
	require.NoError(t, err)
	assert.Equal(t, "new bundle", string(refreshed.Body))
}

func TestCacheFirst_MissFetchesAndStores(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	transport.RegisterResponder("GET", testOrigin+"/static/css/app.css",
		httpmock.NewStringResponder(200, "body { margin: 0 }"))

	req := httptest.NewRequest("GET", "/static/css/app.css", nil)
	resp, err := exec.Execute(context.Background(), req, StrategyCacheFirst)
	require.NoError(t, err)
	assert.Equal(t, "body { margin: 0 }", string(resp.Body))

	cached, err := stores.Get(context.Background(), stores.RuntimeName(), "/static/css/app.css")
	require.NoError(t, err)
	assert.Equal(t, "body { margin: 0 }", string(cached.Body))
}

func TestCacheFirst_ManifestPathFallsBackToStaticStore(t *testing.T) {
	exec, stores, transport := newTestExecutor(t)
	require.NoError(t, stores.Put(context.Background(), stores.StaticName(), "/static/js/app.js",
		&cachestore.StoredResponse{Status: 200, Body: []byte("precached bundle")}))
	// The cache-busting query makes the exact lookup miss; the fallback keys
	// the static store by path alone.
	transport.RegisterResponder("GET", testOrigin+"/static/js/app.js?v=2",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	req := httptest.NewRequest("GET", "/static/js/app.js?v=2", nil)
	resp, err := exec.Execute(context.Background(), req, StrategyCacheFirst)
	require.NoError(t, err)
	assert.Equal(t, "precached bundle", string(resp.Body))
}

func TestCacheFirst_NonManifestFailurePropagates(t *testing.T) {
	exec, _, transport := newTestExecutor(t)
	transport.RegisterResponder("GET", testOrigin+"/static/img/photo.png",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	req := httptest.NewRequest("GET", "/static/img/photo.png", nil)
	_, err := exec.Execute(context.Background(), req, StrategyCacheFirst)
	assert.Error(t, err)
}

func TestExecute_PassthroughIsNotExecutable(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	req := httptest.NewRequest("GET", "/anything", nil)
	_, err := exec.Execute(context.Background(), req, StrategyPassthrough)
	assert.Error(t, err)
}
