package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/genricoloni/presenced/internal/api"
	"github.com/genricoloni/presenced/internal/config"
	"github.com/genricoloni/presenced/internal/discord"
	"github.com/genricoloni/presenced/internal/domain"
	"github.com/genricoloni/presenced/internal/engine"
	"github.com/genricoloni/presenced/internal/metrics"
	"github.com/genricoloni/presenced/internal/monitor"
	"github.com/genricoloni/presenced/internal/scheduler"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppOptions wires every component. The caller supplies config.Overrides.
var AppOptions = fx.Options(
	// Logger configuration
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	// Provide dependencies
	fx.Provide(
		newLogger,
		fx.Annotate(config.NewAppConfig, fx.As(new(domain.Config))),
		fx.Annotate(config.NewFileStore, fx.As(new(domain.FormStore))),
		fx.Annotate(monitor.NewMprisSource, fx.As(new(domain.MediaSource))),
		fx.Annotate(discord.NewClient, fx.As(new(domain.Sink))),
		scheduler.NewGocron,
		func(g *scheduler.Gocron) domain.Scheduler { return g },
		metrics.New,
		engine.NewEngine,
		func(e *engine.Engine) api.Controller { return e },
		api.NewHandler,
		newRouter,
		api.NewServer,
	),

	// Lifecycle hooks, started in this order and stopped in reverse
	fx.Invoke(
		scheduler.Register,
		registerSource,
		registerEngine,
		api.Register,
		registerHooks,
	),
)

func main() {
	var overrides config.Overrides
	fs := pflag.NewFlagSet("presenced", pflag.ExitOnError)
	overrides.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	app := fx.New(
		AppOptions,
		fx.Supply(overrides),
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

	// Stop the application gracefully; the engine clears the presence
	stopCtx, stop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stop()
	if err := app.Stop(stopCtx); err != nil {
		panic(err)
	}
}

// newLogger creates the process logger. PRESENCED_LOG_LEVEL=debug switches
// to the development configuration; other values set the production level.
func newLogger() (*zap.Logger, error) {
	level := strings.ToLower(strings.TrimSpace(os.Getenv("PRESENCED_LOG_LEVEL")))
	if level == "debug" {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func newRouter(h *api.Handler, logger *zap.Logger, m *metrics.Metrics) http.Handler {
	return api.NewRouter(h, logger, m)
}

func registerSource(lc fx.Lifecycle, src domain.MediaSource) {
	lc.Append(fx.Hook{
		OnStart: src.Start,
		OnStop:  src.Stop,
	})
}

func registerEngine(lc fx.Lifecycle, e *engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: e.Start,
		OnStop:  e.Stop,
	})
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, cfg domain.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Presence daemon started", zap.String("config", cfg.GetConfigFile()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			return nil
		},
	})
}
