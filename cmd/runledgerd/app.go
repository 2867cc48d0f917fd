package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/runledger/audit"
	"github.com/BaSui01/runledger/checkpoint"
	"github.com/BaSui01/runledger/config"
	"github.com/BaSui01/runledger/coordinator"
	"github.com/BaSui01/runledger/idempotency"
	"github.com/BaSui01/runledger/internal/database"
	"github.com/BaSui01/runledger/internal/metrics"
	httpserver "github.com/BaSui01/runledger/internal/server"
	"github.com/BaSui01/runledger/internal/telemetry"
	"github.com/BaSui01/runledger/lock"
	"github.com/BaSui01/runledger/server"
)

// app is the assembled service: all backends wired per config, the HTTP
// surface, and everything that needs closing on the way down.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	manager  *httpserver.Manager
	otel     *telemetry.Providers
	reloader *config.Reloader
	closers  []func() error
}

// buildApp wires backends, the coordinator and the HTTP surface from
// the loaded configuration.
func buildApp(cfg *config.Config, configPath string, logger *zap.Logger, logLevel zap.AtomicLevel) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.otel = otelProviders

	collector := metrics.NewCollector("runledger", logger)

	locks, err := buildLockManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("lock backend: %w", err)
	}
	a.closers = append(a.closers, locks.Close)

	idem, err := buildIdempotencyStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("idempotency backend: %w", err)
	}
	a.closers = append(a.closers, idem.Close)

	ckptStore, err := buildCheckpointStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("checkpoint backend: %w", err)
	}
	a.closers = append(a.closers, ckptStore.Close)
	ckpts := checkpoint.NewManager(ckptStore, logger)

	auditStore, err := buildAuditStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("audit backend: %w", err)
	}
	a.closers = append(a.closers, auditStore.Close)
	log := audit.NewLog(auditStore, logger)

	coord, err := coordinator.New(coordinator.Config{
		Locks:       locks,
		Idempotency: idem,
		Checkpoints: ckpts,
		Audit:       log,
		LockOptions: lock.AcquireOptions{
			TryAcquireOptions: lock.TryAcquireOptions{TTL: cfg.Lock.TTL},
			WaitTimeout:       cfg.Lock.WaitTimeout,
			RetryInterval:     cfg.Lock.RetryInterval,
		},
		Metrics:     collector,
		LockBackend: cfg.Lock.Backend,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	signingKey, err := loadSigningKey(cfg, logger)
	if err != nil {
		return nil, err
	}

	api := server.New(coord, server.Options{
		Logger:         logger,
		Metrics:        collector,
		JWTSecret:      cfg.Auth.JWTSecret,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		SigningKey:     signingKey,
		SigningKeyID:   cfg.Audit.SigningKeyID,
	})

	// End-to-end readiness probes against the live backends.
	api.Health().RegisterCheck(server.NewPingCheck("locks", func(ctx context.Context) error {
		_, err := locks.List(ctx)
		return err
	}))
	api.Health().RegisterCheck(server.NewPingCheck("audit", func(ctx context.Context) error {
		_, err := log.GetChainState(ctx, "readiness-probe")
		return err
	}))

	serverCfg := httpserver.DefaultConfig()
	serverCfg.Addr = fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	if cfg.Server.ReadTimeout > 0 {
		serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout > 0 {
		serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	a.manager = httpserver.NewManager(api.Handler(), serverCfg, logger)

	if configPath != "" {
		a.reloader = buildReloader(cfg, configPath, logger, logLevel)
	}

	return a, nil
}

// buildReloader watches the config file and applies log level changes
// live. Backend changes are observed but require a restart.
func buildReloader(cfg *config.Config, configPath string, logger *zap.Logger, logLevel zap.AtomicLevel) *config.Reloader {
	loader := config.NewLoader().WithConfigPath(configPath)
	reloader, err := config.NewReloader(loader, cfg, logger)
	if err != nil {
		logger.Warn("config reload disabled", zap.Error(err))
		return nil
	}

	reloader.Subscribe(func(next *config.Config, changes []config.Change) {
		for _, ch := range changes {
			if ch.Section != config.SectionLog || !ch.Applied {
				continue
			}
			var level zapcore.Level
			if err := level.UnmarshalText([]byte(next.Log.Level)); err == nil {
				logLevel.SetLevel(level)
				logger.Info("log level updated", zap.String("level", next.Log.Level))
			}
		}
	})

	return reloader
}

func loadSigningKey(cfg *config.Config, logger *zap.Logger) (ed25519.PrivateKey, error) {
	if cfg.Audit.SigningKeyPath == "" {
		logger.Info("no export signing key configured; signed exports disabled")
		return nil, nil
	}

	key, err := audit.LoadSigningKey(cfg.Audit.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	logger.Info("export signing key loaded",
		zap.String("path", cfg.Audit.SigningKeyPath),
		zap.String("key_id", cfg.Audit.SigningKeyID),
	)
	return key, nil
}

// Run starts the listener and blocks until a signal or serve error,
// then tears everything down in reverse order.
func (a *app) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.reloader != nil {
		if err := a.reloader.Start(ctx); err != nil {
			a.logger.Warn("config reloader failed to start", zap.Error(err))
		} else {
			defer a.reloader.Stop()
		}
	}

	if a.cfg.Server.TLSCertFile != "" && a.cfg.Server.TLSKeyFile != "" {
		if err := a.manager.StartTLS(a.cfg.Server.TLSCertFile, a.cfg.Server.TLSKeyFile); err != nil {
			return err
		}
	} else if err := a.manager.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case err := <-a.manager.Errors():
			return err
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			a.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()

	shutdownErr := a.manager.Shutdown(context.Background())
	if err == nil {
		err = shutdownErr
	}

	a.shutdownTelemetry()
	a.closeBackends()

	return err
}

func (a *app) shutdownTelemetry() {
	if a.otel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func (a *app) closeBackends() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("backend close failed", zap.Error(err))
		}
	}
}

// buildLockManager selects the lock backend per config.
func buildLockManager(cfg *config.Config, logger *zap.Logger) (lock.Manager, error) {
	switch cfg.Lock.Backend {
	case "memory":
		return lock.NewMemoryManager(logger), nil
	case "redis":
		return lock.NewRedisManager(lock.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Lock.KeyPrefix,
		}, logger)
	case "mongo":
		return lock.NewMongoManager(lock.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Lock.Backend)
	}
}

// buildIdempotencyStore selects the idempotency backend per config.
func buildIdempotencyStore(cfg *config.Config, logger *zap.Logger) (idempotency.Store, error) {
	retention := idempotency.RetentionConfig{
		TTL:             cfg.Idempotency.RetentionTTL,
		CleanupInterval: cfg.Idempotency.CleanupInterval,
	}

	switch cfg.Idempotency.Backend {
	case "memory":
		return idempotency.NewMemoryStore(retention, logger), nil
	case "redis":
		return idempotency.NewRedisStore(idempotency.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Idempotency.KeyPrefix,
		}, retention, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Idempotency.Backend)
	}
}

// buildCheckpointStore selects the checkpoint backend per config.
func buildCheckpointStore(cfg *config.Config, logger *zap.Logger) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(logger), nil
	case "redis":
		return checkpoint.NewRedisStore(checkpoint.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Checkpoint.KeyPrefix,
			TTL:       cfg.Checkpoint.TTL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Checkpoint.Backend)
	}
}

// buildAuditStore selects the audit ledger backend per config.
func buildAuditStore(cfg *config.Config, logger *zap.Logger) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "memory":
		return audit.NewMemoryStore(logger), nil
	case "sql":
		pool := database.DefaultPoolConfig()
		if cfg.Database.MaxOpenConns > 0 {
			pool.MaxOpenConns = cfg.Database.MaxOpenConns
		}
		if cfg.Database.MaxIdleConns > 0 {
			pool.MaxIdleConns = cfg.Database.MaxIdleConns
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		return audit.NewSQLStore(audit.SQLConfig{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN(),
			Pool:   pool,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Audit.Backend)
	}
}
