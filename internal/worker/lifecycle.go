// Package worker implements the gateway's install/activate lifecycle:
// precaching the static manifest and garbage-collecting stale cache versions.
package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classboard-dev/classboard-worker/internal/cachestore"
	"github.com/classboard-dev/classboard-worker/internal/logger"
	"github.com/classboard-dev/classboard-worker/internal/observability/metrics"
)

// precacheConcurrency bounds parallel install-time fetches. The manifest is
// small and same-origin, so a low limit keeps startup gentle on the backend.
const precacheConcurrency = 4

// Lifecycle installs and activates one cache version.
type Lifecycle struct {
	upstream *url.URL
	client   *http.Client
	stores   *cachestore.Stores
	precache []string
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewLifecycle creates a Lifecycle for the given upstream and manifest.
func NewLifecycle(upstream *url.URL, client *http.Client, stores *cachestore.Stores, precache []string, m *metrics.Metrics, log logger.Logger) *Lifecycle {
	return &Lifecycle{
		upstream: upstream,
		client:   client,
		stores:   stores,
		precache: precache,
		metrics:  m,
		log:      log,
	}
}

// Install fetches every manifest path and stores it in the static store.
// Any single failure fails the whole install: the manifest is a closed list
// of same-origin assets, so partial precaches indicate a deploy mismatch
// that must surface immediately. There is no waiting phase; a successful
// install makes this version live at once.
func (l *Lifecycle) Install(ctx context.Context) error {
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)

	store := l.stores.StaticName()
	for _, path := range l.precache {
		g.Go(func() error {
			if err := l.precacheOne(ctx, store, path); err != nil {
				if l.metrics != nil {
					l.metrics.PrecacheFailures.Inc()
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("install failed: %w", err)
	}

	l.log.Info("precache complete",
		logger.String("store", store),
		logger.Int("assets", len(l.precache)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Activate deletes every store whose name is not one of the current-version
// names. The metadata store is version-independent and is never touched.
// Idempotent: a second run with no version change removes nothing.
func (l *Lifecycle) Activate(ctx context.Context) error {
	removed, err := l.stores.CollectGarbage(ctx)
	if err != nil {
		return fmt.Errorf("activate failed: %w", err)
	}
	l.log.Info("activated cache version",
		logger.String("static", l.stores.StaticName()),
		logger.String("runtime", l.stores.RuntimeName()),
		logger.Int("removed_stores", len(removed)))
	return nil
}

func (l *Lifecycle) precacheOne(ctx context.Context, store, path string) error {
	target := *l.upstream
	target.Path = path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("precache %s: %w", path, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("precache %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("precache %s: unexpected status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("precache %s: %w", path, err)
	}

	stored := &cachestore.StoredResponse{
		Status:    resp.StatusCode,
		Header:    resp.Header.Clone(),
		Body:      body,
		FetchedAt: time.Now(),
	}
	if err := l.stores.Put(ctx, store, path, stored); err != nil {
		return fmt.Errorf("precache %s: %w", path, err)
	}
	return nil
}
