package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/config"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/crypto"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/db"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/export"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/metrics"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/queue"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/remote"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/scheduler"
)

const (
	metricsNamespace = "diary"
	devRemotePrefix  = "/dev-remote"
)

// appOptions are command-line switches that change how the app is wired.
type appOptions struct {
	// devRemote serves an in-memory remote under /dev-remote on the
	// daemon's own listener and points the client at it.
	devRemote bool
	// inMemory skips SQLite entirely.
	inMemory bool
}

// App holds every long-lived component of the daemon.
type App struct {
	cfg *config.Config

	database  *db.DB
	store     db.Store
	queue     *queue.SyncQueue
	metrics   *metrics.Collector
	client    remote.Client
	pinger    remote.Pinger
	devRemote *remote.DevServer
	engine    *sync.Engine
	manager   *sync.Manager
	monitor   *scheduler.Monitor
	hub       *WSHub
	exporter  *export.Service
}

// initLogging points the global logger at stdout and, when configured,
// at a rotating log file as well.
func initLogging(cfg *config.Config) {
	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stdout, logging.FileWriter(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logging.Init(out, logging.ParseLevel(cfg.Log.Level))
}

// buildApp wires the store, queue, engine, manager and monitor. A store
// that cannot be opened falls back to an in-memory store so the app keeps
// working for the session.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*App, error) {
	a := &App{
		cfg:     cfg,
		metrics: metrics.NewCollector(metricsNamespace),
		hub:     NewWSHub(),
	}

	if opts.inMemory {
		a.store = db.NewMemoryStore()
	} else if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logging.Warn("data directory unavailable, using in-memory store", map[string]interface{}{
			"data_dir": cfg.DataDir, "error": err.Error(),
		})
		a.store = db.NewMemoryStore()
	} else if d, err := db.OpenAndMigrate(cfg.DatabasePath()); err != nil {
		logging.Warn("local store unavailable, using in-memory store", map[string]interface{}{
			"path": cfg.DatabasePath(), "error": err.Error(),
		})
		a.store = db.NewMemoryStore()
	} else {
		a.database = d
		a.store = db.NewRepository(d.DB)
	}

	a.queue = queue.NewSyncQueue(a.store, queue.DefaultMaxSize)
	if err := a.queue.Load(ctx); err != nil {
		a.Close()
		return nil, errors.Wrap(errors.ErrStorage, "load sync queue", err)
	}

	remoteCfg := cfg.Remote
	if opts.devRemote {
		a.devRemote = remote.NewDevServer(remoteCfg.Token)
		remoteCfg.BaseURL = "http://" + dialAddr(cfg.ListenAddr) + devRemotePrefix
		remoteCfg.HealthPath = "/health"
	}
	if remoteCfg.BaseURL != "" && remoteCfg.Token == "" && !opts.devRemote {
		token, err := crypto.NewTokenStore(cfg.DataDir, "").Load(remoteCfg.BaseURL)
		if err != nil {
			logging.Warn("stored remote token unreadable", map[string]interface{}{"error": err.Error()})
		}
		remoteCfg.Token = token
	}
	if remoteCfg.BaseURL != "" {
		client, err := remote.NewHTTPClient(remoteCfg, cfg.Breaker, a.metrics)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.client = client
		a.pinger = client
	}

	a.engine = sync.NewEngine(a.queue, a.store, a.client, sync.EngineConfig{
		MaxAttempts:    cfg.Sync.MaxAttempts,
		RequestTimeout: cfg.Remote.RequestTimeout,
	}, a.metrics)
	a.engine.SetEventHandler(a.hub)

	scopeKey := cfg.ScopeKey
	if scopeKey == "" {
		scopeKey = "default"
	}
	a.manager = sync.NewManager(a.store, a.queue, a.engine, a.client, scopeKey, a.metrics)

	a.monitor = scheduler.NewMonitor(a.manager, false, &scheduler.MonitorConfig{
		SyncInterval:   cfg.Sync.SyncInterval,
		StatusInterval: cfg.Sync.StatusInterval,
		ProbeInterval:  cfg.Sync.ProbeInterval,
		ProbeTimeout:   cfg.Remote.RequestTimeout,
	}, a.metrics)
	a.monitor.SetStatusSource(a.manager)
	a.monitor.SetEventHandler(a.hub)
	if a.pinger != nil {
		a.monitor.SetProber(a.pinger)
	}
	a.manager.SetNetworkStatus(a.monitor)

	a.exporter = export.NewService(a.store, a.store, cfg.ExportPath())

	logging.Info("app initialized", map[string]interface{}{
		"scope":      scopeKey,
		"persistent": a.database != nil,
		"remote":     remoteCfg.BaseURL,
		"queued":     a.queue.Size(),
	})
	return a, nil
}

// requireRemote fails when no remote service is configured.
func (a *App) requireRemote() error {
	if a.client == nil {
		return errors.New(errors.ErrInvalid, "no remote configured: set remote.base_url or DIARY_REMOTE_URL")
	}
	return nil
}

// Close stops the hub and closes the database.
func (a *App) Close() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			logging.Warn("failed to close database", map[string]interface{}{"error": err.Error()})
		}
		a.database = nil
	}
}

// dialAddr turns a listen address into one a client can dial.
func dialAddr(listen string) string {
	switch {
	case strings.HasPrefix(listen, ":"):
		return "127.0.0.1" + listen
	case strings.HasPrefix(listen, "0.0.0.0:"):
		return "127.0.0.1" + strings.TrimPrefix(listen, "0.0.0.0")
	}
	return listen
}
