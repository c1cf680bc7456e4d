package main

import (
	"context"
	"database/sql"
	"fmt"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/activitymap"
	"github.com/goliatone/go-campus-auth/config"
	"github.com/goliatone/go-campus-auth/migrations"
	"github.com/goliatone/go-campus-auth/observability"
	"github.com/goliatone/go-campus-auth/provider/local"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type rootOptions struct {
	configPath string
	dsn        string
}

// app holds every wired component, built once per command
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	db       *bun.DB
	provider *local.Provider
	repo     auth.RepositoryManager
	metrics  *observability.Metrics
	redis    *activitymap.RedisSink
	sink     auth.ActivitySink
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dsn != "" {
		cfg.Database.DSN = o.dsn
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func openDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serializes writers
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func bootstrap(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: newLogger(cfg)}

	if a.db, err = openDB(cfg.GetDatabaseDSN()); err != nil {
		return nil, err
	}

	if err := migrations.Up(a.db.DB, migrations.DefaultDialect); err != nil {
		a.Close()
		return nil, err
	}

	sinks := auth.MultiActivitySink{}

	if cfg.Observability.MetricsEnabled {
		a.metrics = observability.NewMetrics(prometheus.NewRegistry())
		sinks = append(sinks, a.metrics)
	}

	if cfg.GetRedisURL() != "" {
		a.redis, err = activitymap.DialRedisSink(ctx, cfg.GetRedisURL(),
			activitymap.WithRedisChannel(cfg.Observability.RedisChannel))
		if err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, a.redis)
	}
	a.sink = sinks

	a.provider, err = local.New(a.db, cfg.LocalProvider(),
		local.WithLogger(a.logger("local_provider")))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.repo = auth.NewRepositoryManager(a.db,
		auth.WithManagedProfiles(auth.NewProfilesRepository(a.db,
			auth.WithProfilesStateMachineOptions(
				auth.WithStateMachineActivitySink(a.sink),
				auth.WithStateMachineLogger(a.logger("state_machine")),
			),
		)),
	)

	return a, nil
}

func (a *app) logger(component string) auth.Logger {
	return auth.NewLogrusLogger(a.log, "campus."+component)
}

func (a *app) reconciler() (*auth.OrphanReconciler, error) {
	return auth.NewOrphanReconciler(a.provider, a.repo.Profiles(),
		auth.WithReconcilerConfig(a.cfg),
		auth.WithReconcilerLogger(a.logger("reconciler")),
		auth.WithReconcilerActivitySink(a.sink),
	)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("close redis")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("close database")
		}
	}
}
