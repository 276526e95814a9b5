package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	"github.com/zatomos/krab-relay/internal/config"
	"github.com/zatomos/krab-relay/internal/display"
	"github.com/zatomos/krab-relay/internal/handlers"
	"github.com/zatomos/krab-relay/internal/host"
	"github.com/zatomos/krab-relay/internal/notify"
	"github.com/zatomos/krab-relay/internal/prefs"
	"github.com/zatomos/krab-relay/internal/redis"
	"github.com/zatomos/krab-relay/internal/widget"
	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLI is the top-level command structure
type CLI struct {
	Serve  ServeCmd  `cmd:"" default:"1" help:"Run the widget relay daemon."`
	Render RenderCmd `cmd:"" help:"Render one widget frame to a PNG file."`
}

// ServeCmd runs the HTTP API, the Redis event consumer and the widget pipeline
type ServeCmd struct {
	Port int `help:"HTTP port, overrides SERVER_PORT." default:"0"`
}

// Run starts the daemon and blocks until SIGINT or SIGTERM
func (s *ServeCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if s.Port != 0 {
		cfg.Server.Port = s.Port
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := models.LoadProviderRegistry(cfg.Widget.ProvidersFile)
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}

	// Redis carries host events, frames and app events when enabled
	var redisClient *redis.Client
	var publisher host.FramePublisher
	var appNotifier widget.AppNotifier
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		publisher = redisClient
		appNotifier = redisClient
	}

	store, err := openPrefs(cfg, redisClient)
	if err != nil {
		return err
	}

	rasterizer, err := display.NewRasterizer(cfg.Widget.FrameCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create rasterizer: %w", err)
	}

	widgetHost := host.New(store, providers, rasterizer, publisher, logger)
	service := widget.NewService(providers, store, widget.NewFileLoader(), widgetHost, cfg.Widget.Workers, logger)
	service.Start()
	pin := widget.NewPinFlow(service, appNotifier, logger)

	var consumer *redis.Consumer
	if redisClient != nil {
		eventHandler := handlers.NewEventHandler(service, widgetHost, pin, logger)
		consumer = redis.NewConsumer(redisClient, eventHandler, logger)
		go func() {
			if err := consumer.Start(); err != nil {
				logger.Error("Redis consumer failed", zap.Error(err))
				cancel()
			}
		}()
	}

	notifier, closeDB, err := openNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	e := handlers.NewRouter(
		handlers.NewWidgetHandler(service, widgetHost, pin, providers, logger),
		handlers.NewWebhookHandler(notifier, cfg.Server.WebhookSecret, logger),
		logger,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Server started",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("providers", service.Providers()),
		zap.String("prefs_backend", cfg.Widget.PrefsBackend),
		zap.Bool("redis", redisClient != nil),
		zap.Bool("notifications", notifier != nil))

	// Wait for interrupt signal or a fatal component error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if consumer != nil {
		consumer.Stop()
	}

	// Pending widget updates are dropped
	service.Stop()
	cancel()

	logger.Info("Server shutdown complete")
	return nil
}

// openPrefs selects the preference backend. The redis backend reuses the
// event connection when there is one.
func openPrefs(cfg *config.Config, client *redis.Client) (prefs.Store, error) {
	switch cfg.Widget.PrefsBackend {
	case "memory":
		return prefs.NewMemoryStore(), nil
	case "redis":
		if client != nil {
			return prefs.NewRedisStoreFromClient(client.Raw(), ""), nil
		}
		return prefs.NewRedisStore(&cfg.Redis), nil
	case "file", "":
		store, err := prefs.NewFileStore(cfg.Widget.PrefsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open preferences: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported preference backend: %s", cfg.Widget.PrefsBackend)
	}
}

// openNotifier wires the webhook service. Without a database URL the
// webhooks stay disabled and answer 503.
func openNotifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (handlers.Notifier, func(), error) {
	noop := func() {}
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, notification webhooks disabled")
		return nil, noop, nil
	}

	serviceAccount, err := cfg.FCM.ServiceAccount()
	if err != nil {
		return nil, noop, fmt.Errorf("failed to read service account: %w", err)
	}
	if len(serviceAccount) == 0 {
		logger.Warn("No Google service account configured, notification webhooks disabled")
		return nil, noop, nil
	}

	db, err := notify.OpenDB(cfg.Database)
	if err != nil {
		return nil, noop, err
	}
	store := notify.NewSQLStore(db, cfg.Database.Type)
	if err := store.Ping(ctx); err != nil {
		logger.Warn("Database not reachable yet", zap.Error(err))
	}

	sender, err := notify.NewFCMClient(ctx, serviceAccount, cfg.FCM.Endpoint, logger)
	if err != nil {
		db.Close()
		return nil, noop, err
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	return notify.NewService(store, sender, logger), closeDB, nil
}

// newLogger builds a zap logger. An empty format picks console output on a
// terminal and JSON otherwise.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	if format == "" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "console"
		}
	}

	var zcfg zap.Config
	switch format {
	case "json":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("krab-relay"),
		kong.Description("Widget refresh pipeline and notification relay."),
		kong.UsageOnError())
	if err := ctx.Run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}
