// Command classboard-worker runs the status-board offline gateway: precaches
// the static manifest, serves cached content when the backend is down, and
// delivers the daily timetable reminder.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/classboard-dev/classboard-worker/internal/cachestore"
	"github.com/classboard-dev/classboard-worker/internal/conf"
	"github.com/classboard-dev/classboard-worker/internal/datastore"
	"github.com/classboard-dev/classboard-worker/internal/datastore/repository"
	"github.com/classboard-dev/classboard-worker/internal/gateway"
	"github.com/classboard-dev/classboard-worker/internal/logger"
	"github.com/classboard-dev/classboard-worker/internal/notification"
	"github.com/classboard-dev/classboard-worker/internal/observability/metrics"
	"github.com/classboard-dev/classboard-worker/internal/router"
	"github.com/classboard-dev/classboard-worker/internal/scheduler"
	"github.com/classboard-dev/classboard-worker/internal/schoollife"
	"github.com/classboard-dev/classboard-worker/internal/timetable"
	"github.com/classboard-dev/classboard-worker/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configFile string
	var debug bool

	root := &cobra.Command{
		Use:           "classboard-worker",
		Short:         "Offline cache and notification worker for the classroom status board",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, debug)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	return root
}

func run(ctx context.Context, configFile string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log := logger.New(level)

	settings, err := conf.Load(configFile)
	if err != nil {
		return err
	}

	upstream, err := url.Parse(settings.Upstream.Origin)
	if err != nil {
		return fmt.Errorf("invalid upstream origin: %w", err)
	}
	loc, err := time.LoadLocation(settings.Notifications.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", settings.Notifications.Timezone, err)
	}

	db, err := datastore.Open(settings.Cache.Database)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	stores := cachestore.New(
		settings.Cache.Version,
		repository.NewCacheRepository(db),
		repository.NewMetaRepository(db),
		settings.Cache.HotTTL.Std(),
		log,
	)

	client := &http.Client{Timeout: settings.Upstream.Timeout.Std()}

	// Install precaches the manifest; activate garbage-collects stale cache
	// versions. Both must finish before traffic is served.
	lifecycle := worker.NewLifecycle(upstream, client, stores, settings.Cache.Precache, m, log)
	if err := lifecycle.Install(ctx); err != nil {
		return err
	}
	if err := lifecycle.Activate(ctx); err != nil {
		return err
	}

	notifs := notification.NewService(&notification.ServiceConfig{
		ShoutrrrURLs: settings.Notifications.ShoutrrrURLs,
	}, log)
	notification.Initialize(notifs)

	sched := scheduler.New(scheduler.Config{
		Enabled:       settings.Notifications.Enabled,
		Location:      loc,
		CheckInterval: settings.Notifications.CheckInterval.Std(),
		Title:         settings.Notifications.Title,
		Tag:           settings.Notifications.Tag,
		TargetPath:    settings.Notifications.TargetPath,
		Icon:          settings.Notifications.Icon,
		Badge:         settings.Notifications.Badge,
	}, stores, timetable.NewClient(settings.Notifications.NEIS, log), notifs, m, log)

	var life *schoollife.Service
	if settings.SchoolLife.Enabled {
		life = schoollife.New(settings.SchoolLife, settings.Notifications.NEIS, loc, log)
	}

	rt := router.New(settings.Upstream.BypassPrefixes, settings.Upstream.SessionCheckPath)
	exec := router.NewExecutor(upstream, client, stores, settings.Cache.Precache, settings.Cache.OfflineShell, m, log)

	server, err := gateway.New(settings, rt, exec, sched, notifs, life, m, registry, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start()
	defer sched.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
