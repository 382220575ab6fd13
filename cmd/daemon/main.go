package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/genricoloni/mpriswatch/internal/artcache"
	"github.com/genricoloni/mpriswatch/internal/bus"
	"github.com/genricoloni/mpriswatch/internal/config"
	"github.com/genricoloni/mpriswatch/internal/domain"
	"github.com/genricoloni/mpriswatch/internal/engine"
	"github.com/genricoloni/mpriswatch/internal/registry"
)

// AppOptions is the full dependency graph, exported so tests can
// validate it with fx.ValidateApp.
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		config.Load,
		newBusClient,
		newArtCache,
		newRegistry,
		newPlayerSource,
		newEngine,
	),
	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(
		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),

		AppOptions,
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the application
	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop the application gracefully
	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// newBusClient connects to the session bus. A connection failure is
// fatal: the app refuses to start without the bus.
func newBusClient(lc fx.Lifecycle, logger *zap.Logger) (bus.Client, error) {
	client, err := bus.NewStdClient()
	if err != nil {
		logger.Error("Failed to connect to session bus", zap.Error(err))
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newArtCache(logger *zap.Logger, cfg *config.Config) (domain.ArtResolver, error) {
	return artcache.New(logger, cfg.CacheDir)
}

func newRegistry(logger *zap.Logger, cfg *config.Config, client bus.Client, art domain.ArtResolver) *registry.Registry {
	reg := registry.New(logger, client, art, cfg.PollInterval)
	reg.SetCoverCache(cfg.CoverCacheEnabled())
	return reg
}

func newPlayerSource(reg *registry.Registry) domain.PlayerSource {
	return reg
}

func newEngine(logger *zap.Logger, cfg *config.Config, source domain.PlayerSource) *engine.Engine {
	return engine.New(logger, source, cfg.Debounce)
}

// registerHooks ties the registry and engine to the app lifecycle
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, reg *registry.Registry, eng *engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := reg.Start(ctx); err != nil {
				return err
			}
			return eng.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if err := eng.Stop(ctx); err != nil {
				return err
			}
			return reg.Stop(ctx)
		},
	})
	logger.Info("mpriswatch daemon wired")
}