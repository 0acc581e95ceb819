package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/zapgate/zapgate/internal/config"
	"github.com/zapgate/zapgate/internal/handlers"
	"github.com/zapgate/zapgate/internal/logger"
	"github.com/zapgate/zapgate/internal/media"
	"github.com/zapgate/zapgate/internal/normalize"
	"github.com/zapgate/zapgate/internal/outbound"
	"github.com/zapgate/zapgate/internal/protocol"
	"github.com/zapgate/zapgate/internal/server"
	"github.com/zapgate/zapgate/internal/session"
	"github.com/zapgate/zapgate/internal/webhook"
)

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDialer,
			provideAuthStore,
			provideMediaStore,
			provideDispatcher,
			provideNormalizer,
			provideManager,
			provideSender,
			provideHealthHandler,
			provideGatewayHandler,
			provideSendHandler,
			provideMediaHandler,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDialer(cfg config.Config) (protocol.Dialer, error) {
	return protocol.OpenDialer(cfg.Network.Driver)
}

func provideAuthStore(cfg config.Config) (protocol.AuthStore, error) {
	return protocol.NewDirAuthStore(cfg.Network.AuthDir)
}

func provideMediaStore(log *slog.Logger, cfg config.Config) (*media.Store, error) {
	return media.NewStore(log, cfg.Media.Dir, cfg.Media.MaxBytes)
}

func provideDispatcher(log *slog.Logger, cfg config.Config) *webhook.Dispatcher {
	return webhook.NewDispatcher(log, cfg.Webhook.URL, cfg.Webhook.Source, cfg.Webhook.Timeout())
}

func provideNormalizer(log *slog.Logger, store *media.Store, dispatcher *webhook.Dispatcher) *normalize.Normalizer {
	return normalize.New(log, store, dispatcher)
}

func provideManager(log *slog.Logger, dialer protocol.Dialer, auth protocol.AuthStore, dispatcher *webhook.Dispatcher, normalizer *normalize.Normalizer, cfg config.Config) *session.Manager {
	return session.NewManager(log, dialer, auth, dispatcher, normalizer, session.Config{
		PhoneNumber: cfg.Network.PhoneNumber,
		Backoff: session.Backoff{
			Base:       cfg.Retry.BaseDelay(),
			MaxRetries: cfg.Retry.MaxRetries,
		},
		SettleDelay: cfg.Retry.PairingSettleDelay(),
	})
}

func provideSender(log *slog.Logger, manager *session.Manager, store *media.Store, cfg config.Config) *outbound.Sender {
	return outbound.NewSender(log, manager, store, cfg.Network.AddressSuffix)
}

func provideHealthHandler(log *slog.Logger) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log)
}

func provideGatewayHandler(log *slog.Logger, manager *session.Manager) *handlers.GatewayHandler {
	return handlers.NewGatewayHandler(log, manager)
}

func provideSendHandler(log *slog.Logger, sender *outbound.Sender) *handlers.SendHandler {
	return handlers.NewSendHandler(log, sender)
}

func provideMediaHandler(log *slog.Logger, store *media.Store) *handlers.MediaHandler {
	return handlers.NewMediaHandler(log, store)
}

func provideWebhookHandler(log *slog.Logger, dispatcher *webhook.Dispatcher) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, dispatcher)
}

func provideServer(log *slog.Logger, cfg config.Config, healthHandler *handlers.HealthHandler, gatewayHandler *handlers.GatewayHandler, sendHandler *handlers.SendHandler, mediaHandler *handlers.MediaHandler, webhookHandler *handlers.WebhookHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, healthHandler, gatewayHandler, sendHandler, mediaHandler, webhookHandler)
}

func startManager(lc fx.Lifecycle, manager *session.Manager, dispatcher *webhook.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			manager.Connect(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := manager.Disconnect(ctx); err != nil {
				return fmt.Errorf("disconnect session: %w", err)
			}
			dispatcher.Wait()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
