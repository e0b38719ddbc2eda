// handlers.go contains the command implementations: wiring the
// configuration into the bridge's components and running them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/homechat-bridge/internal/bus"
	"github.com/haasonsaas/homechat-bridge/internal/config"
	"github.com/haasonsaas/homechat-bridge/internal/conversation"
	"github.com/haasonsaas/homechat-bridge/internal/coordinator"
	"github.com/haasonsaas/homechat-bridge/internal/dispatch"
	"github.com/haasonsaas/homechat-bridge/internal/gateway"
	"github.com/haasonsaas/homechat-bridge/internal/homechat"
	"github.com/haasonsaas/homechat-bridge/internal/media"
	"github.com/haasonsaas/homechat-bridge/internal/observability"
	"github.com/haasonsaas/homechat-bridge/internal/provision"
	"github.com/haasonsaas/homechat-bridge/internal/state"
	"github.com/haasonsaas/homechat-bridge/internal/webhook"
)

// runServe is the long-running bridge process.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       os.Stderr,
		RedactValues: cfg.SecretValues(),
	})
	logger := obsLogger.Slog()

	metrics := observability.NewMetrics(nil)

	httpClient := &http.Client{Timeout: homechat.DefaultTimeout}
	client, err := homechat.NewClient(homechat.Config{
		Host:       cfg.HomeChat.Host,
		Port:       cfg.HomeChat.Port,
		TLS:        cfg.HomeChat.TLS,
		Token:      cfg.HomeChat.APIToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	// A dead or misconfigured server fails setup outright; everything
	// after this point degrades instead of failing.
	info, err := provision.ValidateProfile(ctx, client)
	if err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}
	logger.Info("connected to homechat server",
		"service", info.Service, "version", info.Version)

	store, err := state.Open(cfg.State.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	webhookSecret := cfg.HomeChat.WebhookSecret
	identity, err := provision.EnsureBot(ctx, client, store,
		cfg.HomeChat.BotUsername, cfg.HomeChat.WebhookID, logger)
	if err != nil {
		// Provisioning is best effort; the bridge works without a bot.
		logger.Warn("bot provisioning failed", "error", err)
	}
	if identity != nil && webhookSecret == "" {
		webhookSecret = identity.WebhookSecret
	}

	eventBus := bus.New(logger)

	coord := coordinator.New(client, coordinator.Config{
		Interval: cfg.Coordinator.Interval,
		Logger:   logger,
		Metrics:  metrics,
		OnReauthRequired: func() {
			logger.Error("homechat rejected the api token, reconfiguration required")
		},
		OnSnapshot: func(snap coordinator.Snapshot) {
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := store.SaveSnapshot(saveCtx, snap.Channels); err != nil {
				logger.Warn("failed to persist channel snapshot", "error", err)
			}
		},
	})

	if channels, savedAt, err := store.LoadSnapshot(ctx); err == nil && len(channels) > 0 {
		coord.Seed(channels, savedAt)
		logger.Debug("seeded channel snapshot from state", "channel_count", len(channels))
	}

	loader := media.NewLoader(cfg.Dispatch.MediaBaseDir, httpClient)
	dispatcher, err := dispatch.New(client, eventBus, loader, dispatch.Config{
		DefaultRoomID: cfg.Dispatch.DefaultRoomID,
		DMTargets:     cfg.Dispatch.DMTargets,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	var receiver *webhook.Receiver
	if cfg.HomeChat.WebhookID != "" {
		receiver = webhook.NewReceiver(eventBus, webhook.Config{
			WebhookID: cfg.HomeChat.WebhookID,
			Secret:    webhookSecret,
			Logger:    logger,
			Metrics:   metrics,
		})
	}

	server := gateway.NewServer(gateway.Deps{
		Config:      *cfg,
		Coordinator: coord,
		Dispatcher:  dispatcher,
		Agent:       conversation.NewAgent(client, coord, logger),
		Receiver:    receiver,
		Bus:         eventBus,
		ServerInfo:  info,
		Logger:      logger,
	})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(runCtx); err != nil {
		// The poll loop keeps running; the first refresh failing is not
		// fatal after the profile already validated.
		logger.Warn("initial channel refresh failed", "error", err)
	}
	if err := server.Start(runCtx); err != nil {
		coord.Stop()
		return err
	}

	logger.Info("bridge running",
		"listen", server.Addr(),
		"webhook_enabled", receiver != nil,
		"operations", len(dispatcher.Operations()))

	<-runCtx.Done()
	logger.Info("shutting down")

	server.Stop(context.Background())
	coord.Stop()
	return nil
}

// runStatus probes the configured server and prints a summary.
func runStatus(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client, err := homechat.NewClient(homechat.Config{
		Host:  cfg.HomeChat.Host,
		Port:  cfg.HomeChat.Port,
		TLS:   cfg.HomeChat.TLS,
		Token: cfg.HomeChat.APIToken,
	})
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, homechat.DefaultTimeout)
	defer cancel()

	summary := map[string]any{
		"host": fmt.Sprintf("%s:%d", cfg.HomeChat.Host, cfg.HomeChat.Port),
	}

	info, err := provision.ValidateProfile(probeCtx, client)
	if err != nil {
		summary["reachable"] = false
		summary["error"] = err.Error()
		return printJSON(out, summary)
	}
	summary["reachable"] = true
	summary["service"] = info.Service
	summary["version"] = info.Version

	if list, err := client.ListChannels(probeCtx); err == nil {
		summary["channel_count"] = len(list.Channels)
	}
	return printJSON(out, summary)
}

// runSchema prints the configuration JSON Schema.
func runSchema(out io.Writer) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
