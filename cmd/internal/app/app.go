// Package app wires the relay runtime: config, logging, the store backend, HTTP routes and the
// realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"

	"relay/cmd/internal/blobstore"
	"relay/cmd/internal/history"
	"relay/cmd/internal/metrics"
	"relay/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the relay runtime: it owns the store backend, the history log and the gateway.
type App struct {
	cfg Config
	log Logger

	metrics *metrics.Metrics
	store   blobstore.Store
	dbPool  *pgxpool.Pool
	closers []func() error

	history *history.Log
	hub     *realtime.Hub
	ws      *realtime.WSGateway
}

// New constructs a fully wired App from config and logger. It opens the configured backend but
// does not initialize the history document; Run does that in the background.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if cfg.StoreTimeout > 0 {
		store = blobstore.WithTimeout(store, cfg.StoreTimeout)
	}
	a.store = blobstore.WithObserver(store, a.metrics.ObserveStoreOp)

	a.history = history.New(a.store, cfg.Container(),
		history.WithCapacity(cfg.HistoryCapacity),
		history.WithDocument(cfg.HistoryDocument),
		history.WithLogger(log),
	)

	roster := realtime.NewRoster(cfg.AllowedUsers...)
	a.hub = realtime.NewHub(log, roster, a.history, a.store, a.metrics, realtime.HubConfig{
		ContainerID:     cfg.Container(),
		MaxMediaBytes:   cfg.MaxMediaBytes,
		SettleDelay:     cfg.MediaSettleDelay,
		UploadTimeout:   cfg.UploadTimeout,
		HistoryCapacity: cfg.HistoryCapacity,
	})
	a.ws = realtime.NewWSGateway(log, a.hub, cfg.WS)

	return a, nil
}

func (a *App) openStore(ctx context.Context) (blobstore.Store, error) {
	base := a.cfg.BaseURL()

	switch a.cfg.Backend() {
	case BackendMemory:
		a.log.Info("store.memory", "note", "history and media are lost on restart")
		return blobstore.NewMemoryStore(base), nil

	case BackendDrive:
		svc, err := blobstore.NewDriveService(ctx, a.cfg.DriveCredentialsFile)
		if err != nil {
			return nil, err
		}
		a.log.Info("store.drive", "container_id", a.cfg.ContainerID)
		return blobstore.NewDriveStore(svc)

	case BackendPostgres:
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.dbPool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		st, err := blobstore.NewPostgresStore(pool,
			blobstore.WithSchema(a.cfg.PGSchema),
			blobstore.WithBaseURL(base),
		)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.log.Info("store.postgres", "schema", a.cfg.PGSchema)
		return st, nil

	case BackendBadger:
		db, err := blobstore.OpenBadger(a.cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.log.Info("store.badger", "path", a.cfg.BadgerPath)
		return blobstore.NewBadgerStore(db, base)

	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.StoreBackend)
	}
}

// History exposes the history log for CLI commands and tests.
func (a *App) History() *history.Log { return a.history }

// Hub exposes the relay state for tests.
func (a *App) Hub() *realtime.Hub { return a.hub }

// Metrics exposes the metrics registry.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// InitHistory locates or creates the history document. Failure leaves the relay in degraded
// live-only mode; history access retries the initialization lazily.
func (a *App) InitHistory(ctx context.Context) error {
	if err := a.history.Initialize(ctx); err != nil {
		a.log.Warn("history.init.fail", "err", err, "container_id", a.cfg.Container())
		return err
	}
	a.log.Info("history.init.ok",
		"document_id", a.history.DocumentID(),
		"container_id", a.cfg.Container(),
		"capacity", a.history.Capacity(),
	)
	return nil
}

// Close releases backend resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
