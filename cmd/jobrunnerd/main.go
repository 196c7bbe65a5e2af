// Command jobrunnerd is the CLI front-end named out-of-core in spec.md §1:
// it loads the JSON config document, wires every core component, serves
// the loopback HTTP API, and shuts down gracefully on SIGINT/SIGTERM.
// Grounded on the teacher's api/main.go wiring order (config -> store ->
// migrate -> subsystems -> router -> listen -> signal -> graceful stop).
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

	"go.uber.org/zap"

	"jobrunner/internal/config"
	"jobrunner/internal/gateway"
	"jobrunner/internal/httpapi"
	"jobrunner/internal/hub"
	"jobrunner/internal/maintenance"
	"jobrunner/internal/notify"
	"jobrunner/internal/queue"
	"jobrunner/internal/repo"
	"jobrunner/internal/scheduler"
	"jobrunner/internal/state"
	"jobrunner/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON configuration document (spec.md §6)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := store.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatal("store: open failed", zap.Error(err))
	}
	defer db.Close()

	jobsRepo := repo.NewJobs(db)
	runsRepo := repo.NewRuns(db)
	stateEngine := state.New(db)
	queueEngine := queue.New(db)

	gw, err := gateway.NewHTTPClient(cfg.Gateway.URL, cfg.Gateway.TokenPath)
	if err != nil {
		log.Fatal("gateway: client init failed", zap.Error(err))
	}

	notifier := notify.NewSlackWebhook(cfg.Notifications.SlackTokenPath, log)

	h := hub.New(log)
	go h.Run()

	sched := scheduler.New(scheduler.Config{
		MaxConcurrency:      cfg.MaxConcurrency,
		ReconcileIntervalMs: cfg.ReconcileIntervalMs,
		ShutdownGraceMs:     cfg.ShutdownGraceMs,
		DBPath:              cfg.DBPath,
		DefaultOnFailure:    cfg.Notifications.DefaultOnFailure,
		DefaultOnSuccess:    cfg.Notifications.DefaultOnSuccess,
	}, db, jobsRepo, runsRepo, notifier, h, log, gw)

	mctl := maintenance.New(runsRepo, stateEngine, queueEngine, log, cfg.StateCleanupInterval, cfg.RunRetentionDays)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	mctl.Start(ctx)

	apiHandler := httpapi.New(jobsRepo, runsRepo, stateEngine, queueEngine, sched, h, log)
	router := httpapi.NewRouter(apiHandler)

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("jobrunnerd: listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http: serve failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("jobrunnerd: shutting down")
	mctl.Stop()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http: shutdown", zap.Error(err))
	}
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	var zcfg zap.Config
	switch cfg.Level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zcfg.Level = lvl
	}
	if cfg.File != "" && cfg.File != "stdout" {
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	}
	return zcfg.Build()
}
