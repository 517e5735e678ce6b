package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wikimannia/refreshstats/internal/logger"
	"github.com/wikimannia/refreshstats/internal/model"
	"github.com/wikimannia/refreshstats/internal/reconcile"
	"github.com/wikimannia/refreshstats/internal/socketrpc"
	"github.com/wikimannia/refreshstats/internal/store"
)

// app holds the stores and reconciler shared by all local commands.
type app struct {
	cfg     appConfig
	log     logger.Logger
	primary *store.Store
	replica *store.Store
	rec     *reconcile.Reconciler
}

func newLogger(cfg appConfig) (logger.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
}

// openStore opens the primary database. Embedded DuckDB files are migrated
// on open; MySQL and PostgreSQL schemas belong to MediaWiki.
func openStore(cfg appConfig) (*store.Store, error) {
	return store.Open(store.Config{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DSN(),
		TablePrefix:  cfg.TablePrefix,
		QueryTimeout: cfg.QueryTimeout,
		Migrate:      cfg.DBDriver == store.DriverDuckDB,
	})
}

// openApp opens the primary store, the optional replica and builds the reconciler.
func openApp(cfg appConfig, log logger.Logger, obs reconcile.Observer) (*app, error) {
	primary, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.DBDriver, err)
	}
	a := &app{cfg: cfg, log: log, primary: primary}

	var read model.ReadStore = primary
	if cfg.DBReplicaDSN != "" {
		a.replica, err = store.Open(store.Config{
			Driver:       cfg.DBDriver,
			DSN:          cfg.DBReplicaDSN,
			TablePrefix:  cfg.TablePrefix,
			QueryTimeout: cfg.QueryTimeout,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open replica: %w", err)
		}
		read = a.replica
		log.Debug("counting on replica", logger.String("driver", cfg.DBDriver))
	}

	a.rec, err = reconcile.New(read, primary, reconcile.Options{
		Descriptors: model.Descriptors(cfg.Namespaces()),
		Concurrency: cfg.Concurrency,
		Logger:      log,
		Observer:    obs,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases both database handles.
func (a *app) Close() {
	if a.replica != nil {
		a.replica.Close()
	}
	if a.primary != nil {
		a.primary.Close()
	}
}

// snapshot copies the DuckDB file into dir before a pass that may write.
func (a *app) snapshot(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	dst := store.SnapshotName(dir, time.Now())
	if err := a.primary.SnapshotTo(ctx, dst); err != nil {
		return fmt.Errorf("snapshot before reconcile: %w", err)
	}
	a.log.Info("snapshot written", logger.String("path", dst))
	return nil
}

// remoteService dials a running serve process.
func remoteService(cfg appConfig) (*socketrpc.Client, error) {
	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("is refreshstats serve running? %w", err)
	}
	return client, nil
}
