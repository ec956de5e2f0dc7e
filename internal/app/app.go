// Package app wires configuration, storage, the trigger engine, the
// publisher, and the HTTP API into one lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"postpilot/internal/config"
	"postpilot/internal/content"
	"postpilot/internal/executor"
	"postpilot/internal/httpapi"
	"postpilot/internal/publisher"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	jobs    *storage.JobStore
	history storage.History

	sched *scheduler.Service
	http  *httpapi.Server

	watchCancel context.CancelFunc
	errCh       chan error
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	jobs, err := storage.OpenJobs(cfg.Storage.Dir, log.With(logx.String("comp", "jobs")))
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	history, err := storage.OpenHistory(storage.Config{
		Driver:      cfg.Storage.HistoryDriver,
		Dir:         cfg.Storage.Dir,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	pub, err := publisher.Open(mapPublisherConfig(cfg), log.With(logx.String("comp", "publisher")))
	if err != nil {
		return nil, fmt.Errorf("open publisher: %w", err)
	}
	if pub == nil {
		log.Warn("no publisher configured; due jobs will finish as EXECUTED_NO_PUBLISHER")
	}

	exec := executor.New(pub, history, log.With(logx.String("comp", "executor")))

	// An explicit "0s" grace is meaningful (expire anything overdue), so the
	// default only applies when the field is absent.
	grace := scheduler.DefaultGrace
	if strings.TrimSpace(cfg.Scheduler.Grace) != "" {
		grace, err = config.ParseDurationField("scheduler.grace", cfg.Scheduler.Grace)
		if err != nil {
			return nil, err
		}
	}
	sched, err := scheduler.New(scheduler.Config{
		Timezone: cfg.Scheduler.Timezone,
		Grace:    grace,
		Slots:    cfg.Slots(),
	}, jobs, exec, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}

	var fetcher httpapi.Fetcher
	if strings.TrimSpace(cfg.Content.SourceURL) != "" {
		f, err := content.NewFetcher(content.FetcherConfig{
			SourceURL: cfg.Content.SourceURL,
		}, history, log.With(logx.String("comp", "fetcher")))
		if err != nil {
			return nil, err
		}
		fetcher = f
	}

	aiTimeout, err := config.ParseDurationOrDefault("content.ai.timeout", cfg.Content.AI.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	rewriter := content.NewRewriter(content.RewriterConfig{
		Enabled: cfg.Content.AI.Enabled,
		BaseURL: cfg.Content.AI.BaseURL,
		APIKey:  envFallback(cfg.Content.AI.APIKey, "AI_API_KEY"),
		Model:   cfg.Content.AI.Model,
		Timeout: aiTimeout,
	}, log.With(logx.String("comp", "rewriter")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		jobs:    jobs,
		history: history,
		sched:   sched,
		errCh:   make(chan error, 1),
	}

	if cfg.HTTP.Enabled {
		addr := cfg.HTTP.Addr
		if strings.TrimSpace(addr) == "" {
			addr = "127.0.0.1:8090"
		}
		h := httpapi.NewHandler(sched, jobs, history, fetcher, rewriter, exec,
			log.With(logx.String("comp", "http")))
		a.http = httpapi.NewServer(httpapi.ServerConfig{Addr: addr}, h,
			log.With(logx.String("comp", "http")))
	}

	return a, nil
}

// Start reconciles persisted jobs, begins firing triggers, starts the HTTP
// listener, and signals readiness to the service manager.
func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if a.http != nil {
		a.http.Start(a.errCh)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	go func() {
		err := a.cfgm.Watch(watchCtx, a.applyConfig)
		if err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify: ready")
	}

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

// Err surfaces fatal background errors (e.g. the HTTP listener dying).
func (a *App) Err() <-chan error { return a.errCh }

// applyConfig handles hot-reloadable settings. Only logging is swapped live;
// scheduler, storage, and publisher changes need a restart and say so.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
	// Scheduler, storage, and publisher settings are read once at boot;
	// changing them requires a restart.
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.http != nil {
		shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.http.Stop(shutCtx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
		cancel()
	}

	a.sched.Stop(ctx)

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("history close", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

func mapPublisherConfig(cfg *config.Config) publisher.Config {
	return publisher.Config{
		Driver:     cfg.Publisher.Driver,
		RatePerMin: cfg.Publisher.RatePerMin,
		X: publisher.XConfig{
			BaseURL:     cfg.Publisher.X.BaseURL,
			BearerToken: envFallback(cfg.Publisher.X.BearerToken, "X_BEARER_TOKEN"),
		},
		Telegram: publisher.TelegramConfig{
			Token:  envFallback(cfg.Publisher.Telegram.Token, "TELEGRAM_BOT_TOKEN"),
			ChatID: cfg.Publisher.Telegram.ChatID,
		},
	}
}

func envFallback(v, key string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return os.Getenv(key)
}
