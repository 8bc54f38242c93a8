package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ============================================================================
// Composition root
// ============================================================================

// deps is everything a command can use. Each component exists once per
// process.
type deps struct {
	fx.In

	Config   *Config
	Logger   *zap.Logger
	Client   *chatsync.Client
	Store    chatsync.Store
	Manager  *chatsync.Manager
	Registry *prometheus.Registry
	Messages *chatsync.MessageRepository
	Push     *chatsync.PushApplier
}

const stopTimeout = 10 * time.Second

// withApp assembles the components, starts them, runs fn and tears everything
// down. Errors from fn and from teardown are combined.
func withApp(ctx context.Context, fn func(ctx context.Context, d deps) error) error {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}
	if cfg.Default.BaseURL == "" {
		return errors.New("no base url configured; run 'chatsync init <base-url> <token>' first")
	}

	logger, err := newLogger(effectiveLogLevel(cfg))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var d deps
	app := fx.New(
		fx.Supply(cfg, logger),
		fx.Provide(
			newTokenResolver,
			newClient,
			newStore,
			newRegistry,
			newMetrics,
			newManager,
			newSyncPolicy,
			newMessageRepository,
			newPushApplier,
		),
		fx.Invoke(func(in deps) { d = in }),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	runErr := fn(ctx, d)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return multierr.Append(runErr, app.Stop(stopCtx))
}

func newTokenResolver(cfg *Config) chatsync.TokenResolver {
	return &chatsync.JWTTokenResolver{Source: chatsync.StaticToken(cfg.Auth.Token)}
}

func newClient(cfg *Config, tokens chatsync.TokenResolver, logger *zap.Logger) *chatsync.Client {
	return chatsync.NewClient(cfg.Default.BaseURL,
		chatsync.WithTokenResolver(tokens),
		chatsync.WithLogger(logger),
	)
}

// newStore opens the durable cache when a path is configured and an
// in-memory one otherwise.
func newStore(lc fx.Lifecycle, cfg *Config, logger *zap.Logger) (chatsync.Store, error) {
	var store chatsync.Store
	if cfg.Cache.Path == "" {
		store = chatsync.NewMemoryStore()
	} else {
		bs, err := chatsync.OpenBadgerStore(cfg.Cache.Path, logger)
		if err != nil {
			return nil, err
		}
		store = bs
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func newMetrics(reg *prometheus.Registry) *chatsync.Metrics {
	return chatsync.NewMetrics(reg)
}

func newManager(lc fx.Lifecycle, cfg *Config, tokens chatsync.TokenResolver, metrics *chatsync.Metrics, logger *zap.Logger) (*chatsync.Manager, error) {
	rc, err := realtimeConfig(cfg)
	if err != nil {
		return nil, err
	}
	rc.Tokens = tokens
	rc.Metrics = metrics
	rc.Logger = logger

	mgr := chatsync.NewManager(rc)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			mgr.Close()
			return nil
		},
	})
	return mgr, nil
}

func realtimeConfig(cfg *Config) (chatsync.RealtimeConfig, error) {
	rc := chatsync.RealtimeConfig{
		BaseURL:      cfg.Default.BaseURL,
		StreamBuffer: cfg.Realtime.StreamBuffer,
	}
	var err error
	if s := cfg.Realtime.HeartbeatInterval; s != "" {
		if rc.HeartbeatInterval, err = time.ParseDuration(s); err != nil {
			return rc, fmt.Errorf("realtime.heartbeat_interval: %w", err)
		}
	}
	if s := cfg.Realtime.ReconnectDelay; s != "" {
		if rc.ReconnectDelay, err = time.ParseDuration(s); err != nil {
			return rc, fmt.Errorf("realtime.reconnect_delay: %w", err)
		}
	}
	return rc, nil
}

func newSyncPolicy(logger *zap.Logger, metrics *chatsync.Metrics) chatsync.SyncPolicy {
	return chatsync.SyncPolicy{Logger: logger.Named("cache"), Metrics: metrics}
}

func newMessageRepository(client *chatsync.Client, store chatsync.Store, policy chatsync.SyncPolicy) *chatsync.MessageRepository {
	return chatsync.NewMessageRepository(client.Messages, store, policy)
}

func newPushApplier(store chatsync.Store, logger *zap.Logger) *chatsync.PushApplier {
	return chatsync.NewPushApplier(store, logger)
}
