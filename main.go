package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smra_exporter/internal/collectors/recorder"
	"smra_exporter/internal/config"
	"smra_exporter/internal/feed"
	"smra_exporter/internal/logger"
	"smra_exporter/internal/smra"
	"smra_exporter/internal/store"
	"smra_exporter/internal/web"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	version = "0.1.0"
)

func main() {
	var (
		listenAddress = flag.String("web.listen-address", "", "Address to listen on for the control API and telemetry (overrides config).")
		configPath    = flag.String("config", "", "Path to configuration file (optional).")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenAddress != "" {
		cfg.Server.ListenAddress = *listenAddress
	}

	logger.Setup(logger.Settings{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Writer: cfg.Logging.Writer,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", version).
		Str("listen_address", cfg.Server.ListenAddress).
		Int("buffer_size", cfg.Recorder.BufferSize).
		Str("feed", cfg.Feed.Type).
		Bool("store_enabled", cfg.Store.Enabled).
		Msg("Starting SMRA exporter")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	// Handle table and resolver are shared between the feed and the
	// post-processor so recorded handles resolve back to their paths.
	table := feed.NewHandleTable()
	session := smra.NewSession(feed.NewPathResolver(), smra.Options{
		MaxTotalRecords: cfg.Recorder.MaxTotalRecords,
	})

	var fpStore *store.Store
	if cfg.Store.Enabled {
		fpStore, err = store.Open(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open footprint store")
		}
		defer fpStore.Close()
		log.Debug().Str("path", cfg.Store.Path).Msg("- Footprint store opened")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(recorder.NewCollector(session))
	log.Debug().Msg("- Metrics registered")

	if len(cfg.Recorder.TargetPIDs) > 0 {
		if err := session.Setup(cfg.Recorder.TargetPIDs, cfg.Recorder.BufferSize); err != nil {
			log.Fatal().Err(err).Msg("Failed to set up configured targets")
		}
		session.Start()
		log.Info().Int("targets", len(cfg.Recorder.TargetPIDs)).Msg("Recording configured targets")
	}

	if cfg.Feed.Type == "replay" {
		go runReplayFeed(ctx, cfg.Feed.Path, session, table)
	}

	srv := web.NewServer(session, fpStore)
	router := chi.NewRouter()
	router.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if cfg.Server.PprofEnabled {
		router.Mount("/debug", middleware.Profiler())
	}
	router.Mount("/", web.NewRouter(srv))

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: router,
	}

	go func() {
		log.Info().Str("address", cfg.Server.ListenAddress).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Recording stops and held handle references are dropped before exit.
	session.Stop()
	session.Reset()
	log.Info().Msg("SMRA exporter stopped")
}

// runReplayFeed streams fault events from the configured file (or stdin for
// "-") into the session. A feed error is not fatal to the exporter; the
// control API and metrics stay up.
func runReplayFeed(ctx context.Context, path string, session *smra.Session, table *feed.HandleTable) {
	var (
		rd  *os.File
		err error
	)
	if path == "-" {
		rd = os.Stdin
	} else {
		rd, err = os.Open(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to open replay feed")
			return
		}
		defer rd.Close()
	}

	replayer := feed.NewReplayer(session, table)
	if _, err := replayer.Run(ctx, rd); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Replay feed failed")
	}
}
