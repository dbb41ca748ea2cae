// Package gateway is the worker's HTTP surface: the caching proxy in front
// of the status-board backend, the foreground message endpoint, the
// notification stream, and operational endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classboard-dev/classboard-worker/internal/conf"
	"github.com/classboard-dev/classboard-worker/internal/logger"
	"github.com/classboard-dev/classboard-worker/internal/notification"
	"github.com/classboard-dev/classboard-worker/internal/observability/metrics"
	"github.com/classboard-dev/classboard-worker/internal/router"
	"github.com/classboard-dev/classboard-worker/internal/scheduler"
	"github.com/classboard-dev/classboard-worker/internal/schoollife"
)

// SSE stream configuration.
const (
	heartbeatInterval = 30 * time.Second

	// Rate limits for stream connection attempts.
	rateLimitWindow            = 1 * time.Minute
	rateLimitRequestsPerWindow = 10
	rateLimitBurst             = 15
)

// Server wires the gateway's handlers together.
type Server struct {
	echo     *echo.Echo
	rt       *router.Router
	exec     *router.Executor
	proxy    *httputil.ReverseProxy
	sched    *scheduler.Scheduler
	notifs   *notification.Service
	life     *schoollife.Service
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	log      logger.Logger
	addr     string
}

// New creates the gateway server.
func New(
	cfg *conf.Settings,
	rt *router.Router,
	exec *router.Executor,
	sched *scheduler.Scheduler,
	notifs *notification.Service,
	life *schoollife.Service,
	m *metrics.Metrics,
	registry *prometheus.Registry,
	log logger.Logger,
) (*Server, error) {
	upstream, err := url.Parse(cfg.Upstream.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream origin: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		rt:       rt,
		exec:     exec,
		proxy:    httputil.NewSingleHostReverseProxy(upstream),
		sched:    sched,
		notifs:   notifs,
		life:     life,
		metrics:  m,
		registry: registry,
		log:      log,
		addr:     cfg.Server.Addr(),
	}
	s.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("passthrough proxy error",
			logger.String("path", r.URL.Path),
			logger.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealth)
	if s.registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	worker := e.Group("/api/v2/worker")
	worker.POST("/message", s.handleMessage)
	worker.GET("/notifications", s.handleListNotifications)
	worker.GET("/notifications/stream", s.handleNotificationStream,
		middleware.RateLimiterWithConfig(streamRateLimiterConfig()))

	if s.life != nil {
		life := e.Group("/api/v2/schoollife")
		life.GET("/meal", s.handleMeal)
		life.GET("/weather", s.handleWeather)
	}

	// Everything else belongs to the status-board app and is served through
	// the caching router. Registered last-resort; the explicit routes above
	// always win.
	e.Any("/*", s.handleProxy)
}

// Start begins serving. Blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("gateway listening", logger.String("addr", s.addr))
	err := s.echo.Start(s.addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and waits for detached cache work to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.exec.Wait()
	return err
}

// Echo exposes the underlying echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleProxy serves app traffic through the routing strategies. Passthrough
// requests stream through the reverse proxy untouched; everything else is
// buffered by the executor so it can be cached and replayed offline.
func (s *Server) handleProxy(c echo.Context) error {
	req := c.Request()
	strategy := s.rt.Route(req)
	if s.metrics != nil {
		s.metrics.RouteDecisions.WithLabelValues(strategy.String()).Inc()
	}

	if strategy == router.StrategyPassthrough {
		s.proxy.ServeHTTP(c.Response(), req)
		return nil
	}

	resp, err := s.exec.Execute(req.Context(), req, strategy)
	if err != nil {
		s.log.Warn("request failed with no fallback",
			logger.String("path", req.URL.Path),
			logger.String("strategy", strategy.String()),
			logger.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream unavailable",
		})
	}

	h := c.Response().Header()
	for name, values := range resp.Header {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return c.Blob(resp.Status, resp.Header.Get(echo.HeaderContentType), resp.Body)
}

func (s *Server) handleListNotifications(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
		}
		limit = n
	}
	return c.JSON(http.StatusOK, map[string]any{
		"notifications": s.notifs.List(limit),
		"unread":        s.notifs.UnreadCount(),
	})
}

// handleNotificationStream delivers notifications over SSE. Board clients use
// the payload's target_url for click-through focusing.
func (s *Server) handleNotificationStream(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	id, ch := s.notifs.Subscribe()
	defer s.notifs.Unsubscribe(id)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeSSE(w, "notification", n); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) handleMeal(c echo.Context) error {
	cards, err := s.life.Meal(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cards)
}

func (s *Server) handleWeather(c echo.Context) error {
	w, err := s.life.Weather(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, w)
}

func writeSSE(w *echo.Response, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func streamRateLimiterConfig() middleware.RateLimiterConfig {
	return middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rateLimitRequestsPerWindow,
				Burst:     rateLimitBurst,
				ExpiresIn: rateLimitWindow,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "too many stream connection attempts, please wait before retrying",
			})
		},
	}
}
