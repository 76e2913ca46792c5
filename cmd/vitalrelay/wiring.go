package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/velmie/vitalrelay"
	"github.com/velmie/vitalrelay/config"
	"github.com/velmie/vitalrelay/fhir"
	"github.com/velmie/vitalrelay/httpgateway"
	"github.com/velmie/vitalrelay/memory"
	"github.com/velmie/vitalrelay/mysql"
	"github.com/velmie/vitalrelay/postgres"
	"github.com/velmie/vitalrelay/prommetrics"
	"github.com/velmie/vitalrelay/redisstate"
)

const (
	driverMemory   = "memory"
	driverMySQL    = "mysql"
	driverPostgres = "postgres"
	driverRedis    = "redis"

	pendingSampleInterval = time.Minute
)

var errCleanupUnsupported = errors.New("cleanup is only available for the mysql store")

// store is what every backend provides.
type store interface {
	vitalrelay.MessageStore
	vitalrelay.WatermarkStore
}

type migrator interface {
	Migrate(ctx context.Context) error
}

type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store
	watermarks vitalrelay.WatermarkStore
	codec      *fhir.Codec
	registry   *prometheus.Registry
	engine     *vitalrelay.Engine
	sqlDB      *sql.DB
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp opens the configured backends and builds the engine. Close releases everything newApp
// opened, also after a partial failure.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	if a.watermarks, err = a.openWatermarks(ctx); err != nil {
		return nil, err
	}

	a.codec = fhir.New(fhir.WithSource(cfg.JurisdictionEndpoint))
	gateway, err := newGateway(cfg.Gateway, logger)
	if err != nil {
		return nil, err
	}

	a.engine = vitalrelay.New(a.store, a.watermarks, gateway, a.codec,
		vitalrelay.WithPollInterval(cfg.Poll()),
		vitalrelay.WithResendInterval(cfg.Resend()),
		vitalrelay.WithJurisdictionEndpoint(cfg.JurisdictionEndpoint),
		vitalrelay.WithMaxResends(cfg.MaxResends),
		vitalrelay.WithLogger(logger),
		vitalrelay.WithMetrics(prommetrics.NewRecorder(a.registry)),
		vitalrelay.WithPendingInterval(pendingSampleInterval),
	)

	return a, nil
}

func (a *app) openStore(ctx context.Context) (store, error) {
	switch a.cfg.Store.Driver {
	case driverMySQL:
		db, err := sql.Open("mysql", a.cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		a.sqlDB = db

		return mysql.NewStore(db)
	case driverPostgres:
		pool, err := postgres.Connect(ctx, a.cfg.Store.DSN, postgres.PoolConfig{})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		return postgres.NewStore(pool)
	default:
		a.logger.Warn("using the in-memory store, messages are lost on restart")

		return memory.NewStore(), nil
	}
}

func (a *app) openWatermarks(ctx context.Context) (vitalrelay.WatermarkStore, error) {
	if a.cfg.Watermark.Driver != driverRedis {
		return a.store, nil
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.Watermark.RedisAddr})
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return redisstate.New(client, redisstate.WithKey(a.cfg.Watermark.RedisKey))
}

func newGateway(cfg config.Gateway, logger *slog.Logger) (*httpgateway.Gateway, error) {
	client := httpgateway.InstrumentedClient(cfg.Timeout)
	opts := []httpgateway.Option{
		httpgateway.WithBatchSize(cfg.BatchSize),
		httpgateway.WithTimeout(cfg.Timeout),
		httpgateway.WithHTTPClient(client),
		httpgateway.WithLogger(logger),
	}
	if cfg.LocalTesting {
		logger.Warn("gateway authentication disabled for local testing")
	} else {
		tokens, err := httpgateway.NewPasswordSource(httpgateway.Credentials{
			TokenURL:     cfg.AuthURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Username:     cfg.Username,
			Password:     cfg.Password,
			Scopes:       cfg.Scope,
		}, client)
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpgateway.WithTokenSource(tokens))
	}

	return httpgateway.New(cfg.BaseURL, opts...)
}

func (a *app) migrate(ctx context.Context) error {
	m, ok := a.store.(migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema ready", "driver", a.cfg.Store.Driver)

	return nil
}

func (a *app) cleanupMaintainer() (*mysql.CleanupMaintainer, error) {
	if a.sqlDB == nil {
		return nil, errCleanupUnsupported
	}

	return mysql.NewCleanupMaintainer(a.sqlDB, mysql.CleanupMaintainerConfig{
		Retention:     a.cfg.Cleanup.Retention,
		CheckEvery:    a.cfg.Cleanup.CheckEvery,
		Limit:         a.cfg.Cleanup.Limit,
		IncludeErrors: a.cfg.Cleanup.IncludeErrors,
		Logger:        a.logger,
	})
}
