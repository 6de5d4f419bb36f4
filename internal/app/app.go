package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"NewsPipeline/internal/config"
	"NewsPipeline/internal/infrastructure/answer"
	"NewsPipeline/internal/infrastructure/scheduler"
	"NewsPipeline/internal/infrastructure/storage"
	"NewsPipeline/internal/infrastructure/telegram"
	"NewsPipeline/internal/logging"
	"NewsPipeline/internal/ports"
	"NewsPipeline/internal/ratelimit"
	"NewsPipeline/internal/usecase"
	"NewsPipeline/pkg/metrics"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	db         *sql.DB
	Tasks      *usecase.TaskRunner
	Rewriter   *usecase.Rewriter
	Automation *usecase.Automation
	scheduler  ports.Scheduler
	metricsSrv *http.Server
	log        *slog.Logger
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := storage.NewPostgresRepository(db)
	limiter := ratelimit.New(cfg.Provider.CallInterval)
	client := answer.NewClient(cfg.Provider.BaseURL,
		baseLogger.With("component", "answer"),
		answer.WithPolling(cfg.Provider.PollInterval, cfg.Provider.MaxPolls))

	defaults := usecase.ProviderDefaults{
		AccountName:         cfg.Provider.AccountName,
		Mode:                cfg.Provider.Mode,
		Sources:             cfg.Provider.Sources,
		SearchCollectionID:  cfg.Provider.SearchCollectionID,
		RewriteCollectionID: cfg.Provider.RewriteCollectionID,
	}

	discovery := usecase.NewDiscovery(store, client, limiter, defaults,
		baseLogger.With("component", "discovery"))
	rewriter := usecase.NewRewriter(store, client, limiter, defaults, nil,
		baseLogger.With("component", "rewriter"))
	tasks := usecase.NewTaskRunner(store, discovery, rewriter,
		baseLogger.With("component", "tasks"))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" {
		notifier = telegram.NewNotifier(
			cfg.Notifications.Telegram.BotToken,
			cfg.Notifications.Telegram.ChatID)
	}

	automation := usecase.NewAutomation(store, store, discovery, tasks, notifier,
		baseLogger.With("component", "automation"))

	return &Application{
		cfg:        cfg,
		db:         db,
		Tasks:      tasks,
		Rewriter:   rewriter,
		Automation: automation,
		scheduler:  scheduler.NewIntervalScheduler(cfg.Scheduler.CheckInterval),
		log:        baseLogger.With("component", "app"),
	}, nil
}

// Run starts the metrics listener and the automated search scheduler, then
// blocks until ctx ends.
func (a *Application) Run(ctx context.Context) error {
	a.serveMetrics()

	err := a.scheduler.Start(ctx, func(t time.Time) {
		if _, err := a.Automation.RunDueSearches(ctx, t.In(a.cfg.Scheduler.Location())); err != nil {
			a.log.Error("scheduled search pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	return a.Close()
}

// serveMetrics exposes the Prometheus scrape endpoint when an address is
// configured.
func (a *Application) serveMetrics() {
	addr := a.cfg.Metrics.Address
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		a.log.Info("metrics listener started", "addr", addr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics listener failed", "error", err)
		}
	}()
}

// Close releases held resources.
func (a *Application) Close() error {
	_ = a.scheduler.Stop(context.Background())

	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.metricsSrv.Shutdown(ctx)
		cancel()
	}

	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
