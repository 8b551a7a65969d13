// Package main implements the editor host process.
// The main goroutine runs the editor loop; everything else (the IDE bridge, the Redis command
// relay, cron jobs) hands work to it through the session dispatcher.
//
// Features:
//   - Main-thread task dispatcher drained once per frame
//   - IDE bridge on 127.0.0.1:<basePort + pid % portSpan>
//   - Optional Redis command relay with retries and a dead letter list
//   - Cron jobs executing menu items on the main thread
//   - Prometheus metrics on the bridge (/metrics) and optionally on their own address
//
// Usage:
//
//	go run ./cmd/editorhost -config editorbridge.yaml
//
// In player mode (EDITORBRIDGE_MODE=player) there is no main loop and every dispatch request
// is refused.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/bridge"
	"github.com/guido-cesarano/editorbridge/pkg/config"
	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/guido-cesarano/editorbridge/pkg/editor"
	"github.com/guido-cesarano/editorbridge/pkg/hostloop"
	"github.com/guido-cesarano/editorbridge/pkg/logger"
	"github.com/guido-cesarano/editorbridge/pkg/queue"
	"github.com/guido-cesarano/editorbridge/pkg/relay"
	"github.com/guido-cesarano/editorbridge/pkg/scheduler"
	"github.com/guido-cesarano/editorbridge/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if err := run(cfg); err != nil {
		logger.Log.Fatal().Err(err).Msg("Editor host failed")
	}
}

// run wires every component and blocks until SIGINT/SIGTERM.
func run(cfg *config.Config) error {
	pid := os.Getpid()

	var logFile string
	if cfg.Log.Dir != "" {
		logFile = bridge.LogPath(cfg.Log.Dir, time.Now())
	}
	logCloser, err := logger.Configure(logger.Options{Level: cfg.Log.Level, File: logFile})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log := logger.Component("editorhost")
	log.Info().Int("pid", pid).Str("mode", cfg.Mode).Str("version", version).Str("log_file", logFile).Msg("Editor host starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Trace.File != "" {
		shutdownTracing, err := tracing.Init("editorbridge", version, cfg.Trace.File)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d := dispatch.New(
		dispatch.WithMainThreadLoop(cfg.SupportsMainThreadLoop()),
		dispatch.WithPolicy(cfg.Policy()),
		dispatch.WithRegisterer(reg),
		dispatch.WithLogger(logger.Component("dispatch")),
	)
	session := editor.NewSession(d, logger.Component("editor"))
	defer session.Close()

	server := bridge.NewServer(bridge.Config{
		Host:   cfg.Bridge.Host,
		Port:   bridge.Port(pid, cfg.Bridge.BasePort, cfg.Bridge.PortSpan),
		APIKey: cfg.Bridge.APIKey,
	}, session, reg, logger.Component("bridge"))
	if cfg.Bridge.APIKey == "" {
		log.Warn().Msg("API_KEY not set. Authentication disabled.")
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Bridge shutdown failed")
		}
	}()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, reg)
	}

	jobs := scheduler.New(d, logger.Component("scheduler"))
	for _, job := range cfg.Jobs {
		path := job.Menu
		if _, err := jobs.Add(job.Spec, path, func() {
			if err := session.Editor().ExecuteMenuItem(path); err != nil {
				log.Error().Err(err).Str("menu", path).Msg("Scheduled menu item failed")
			}
		}); err != nil {
			return err
		}
	}
	jobs.Start()
	defer jobs.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	if cfg.Relay.RedisAddr != "" {
		client := queue.NewClient(cfg.Relay.RedisAddr)
		if err := client.Ping(ctx); err != nil {
			log.Error().Err(err).Str("addr", cfg.Relay.RedisAddr).Msg("Redis unreachable, relay disabled")
			client.Close()
		} else {
			r := relay.New(client, d, relay.Config{
				MaxRetries: cfg.Relay.MaxRetries,
				RateLimit:  cfg.Relay.RateLimit,
				RateBurst:  cfg.Relay.RateBurst,
			}, reg, logger.Component("relay"))
			relay.RegisterEditorHandlers(r, session)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer client.Close()
				r.Run(ctx)
			}()
		}
	}

	if !cfg.SupportsMainThreadLoop() {
		log.Warn().Msg("Player mode: main-thread dispatch is not supported, waiting for shutdown")
		<-ctx.Done()
		return nil
	}

	loop := hostloop.New(cfg.FrameInterval, logger.Component("hostloop"))
	loop.OnUpdate(session.Update)
	loop.Run(ctx)

	log.Info().Msg("Shutting down editor host...")
	return nil
}

// serveMetrics exposes reg on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Log.Info().Str("addr", addr).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Error().Err(err).Msg("Metrics server failed")
	}
}
