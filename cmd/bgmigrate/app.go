package main

import (
	"context"
	"database/sql"
	"os"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/chararch/bgmigration"
	"github.com/chararch/bgmigration/adapters/queue"
	"github.com/chararch/bgmigration/adapters/repository"
	"github.com/chararch/bgmigration/adapters/txn"
	"github.com/chararch/bgmigration/config"
	"github.com/chararch/bgmigration/extensions/catalog"
)

// app the wired components shared by the commands
type app struct {
	cfg        *config.Config
	db         *sql.DB
	registry   *bgmigration.Registry
	repository *repository.SQLRepository
	engine     bgmigration.Engine
	metrics    *bgmigration.Metrics
	redis      *redis.Client
}

func newApp(cfg *config.Config) (*app, error) {
	bgmigration.SetLogger(bgmigration.NewLogger(os.Stdout, bgmigration.ParseLevel(cfg.LogLevel)))
	db, dialect, err := txn.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	registry := bgmigration.NewRegistry(dialect)
	cat, err := catalog.Load(cfg.Catalog.Store(), cfg.Catalog.File)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "load catalog:%v", cfg.Catalog.File)
	}
	if err = cat.RegisterInto(registry); err != nil {
		_ = db.Close()
		return nil, err
	}

	var repoOpts []repository.Option
	if cfg.Engine.SeparateProgressStore {
		repoOpts = append(repoOpts, repository.WithSeparateStore())
	}
	repo := repository.New(db, dialect, bgmigration.DefaultLogger, repoOpts...)
	metrics := bgmigration.NewMetrics(cfg.Metrics.Namespace)
	opts := []bgmigration.Option{
		bgmigration.WithMetrics(metrics),
		bgmigration.WithMaxBatchAttempts(cfg.Engine.MaxBatchAttempts),
		bgmigration.WithRetryBackoff(cfg.Engine.RetryBackoff, cfg.Engine.MaxRetryBackoff),
	}
	if cfg.Engine.CheckColumns {
		opts = append(opts, bgmigration.WithSchemaInspector(txn.NewInspector(db, dialect)))
	}
	bgmigration.SetMaxRunningJobs(cfg.Engine.MaxRunningJobs)

	return &app{
		cfg:        cfg,
		db:         db,
		registry:   registry,
		repository: repo,
		engine:     bgmigration.NewEngine(registry, repo, txn.NewTransactionManager(db), opts...),
		metrics:    metrics,
	}, nil
}

func (a *app) queue() *queue.Queue {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
	}
	return queue.New(a.redis, a.cfg.Redis.Key)
}

func (a *app) scheduler() *queue.Scheduler {
	return queue.NewScheduler(a.queue(), a.registry, a.repository)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			bgmigration.DefaultLogger.Error(context.Background(), "close redis client error:%v", err)
		}
	}
	if err := a.db.Close(); err != nil {
		bgmigration.DefaultLogger.Error(context.Background(), "close database error:%v", err)
	}
}
