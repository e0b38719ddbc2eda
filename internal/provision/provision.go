// Package provision handles first-contact setup against a HomeChat
// server: validating a connection profile before it is accepted, and
// creating the bridge's bot account exactly once.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/homechat-bridge/internal/homechat"
	"github.com/haasonsaas/homechat-bridge/internal/state"
)

// BotDescription labels the auto-provisioned bot on the server.
const BotDescription = "Home Assistant Bot for two-way communication"

// ErrCannotConnect means the server is unreachable or unhealthy.
var ErrCannotConnect = errors.New("cannot connect to homechat server")

// ErrInvalidAuth means the server is reachable but rejected the token.
var ErrInvalidAuth = errors.New("homechat api token rejected")

// Info is what a successful validation learns about the server.
type Info struct {
	Title   string `json:"title"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ValidateProfile probes the server twice: the unauthenticated health
// endpoint first, then an authenticated endpoint. The two probes keep
// "server down" and "wrong token" distinguishable for the operator.
func ValidateProfile(ctx context.Context, client *homechat.Client) (*Info, error) {
	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCannotConnect, err)
	}

	if err := client.CheckAuth(ctx); err != nil {
		if homechat.IsAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCannotConnect, err)
	}

	info := &Info{
		Title:   fmt.Sprintf("HomeChat (%s)", hostLabel(client.BaseURL())),
		Service: health.Service,
		Version: health.Version,
	}
	if info.Service == "" {
		info.Service = "HomeChat"
	}
	if info.Version == "" {
		info.Version = "unknown"
	}
	return info, nil
}

// EnsureBot creates the bridge's bot account on the server if, and only
// if, none has been provisioned before. The persisted identity is the
// at-most-once guard: once a bot id exists in the store, provisioning
// never runs again, even across restarts.
//
// Returns the identity (existing or freshly created), or nil when bot
// provisioning is not configured.
func EnsureBot(ctx context.Context, client *homechat.Client, store *state.Store, username, webhookID string, logger *slog.Logger) (*state.BotIdentity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	existing, err := store.BotIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Debug("bot already provisioned", "bot_id", existing.BotID, "username", existing.Username)
		return existing, nil
	}

	if username == "" || webhookID == "" {
		return nil, nil
	}

	resp, err := client.CreateBot(ctx, username, BotDescription, webhookID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot %q: %w", username, err)
	}

	identity := state.BotIdentity{
		BotID:         resp.Bot.ID,
		Username:      username,
		WebhookSecret: resp.WebhookSecret,
	}
	if err := store.SaveBotIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("bot %d created but identity not persisted: %w", resp.Bot.ID, err)
	}

	logger.Info("provisioned bot", "bot_id", identity.BotID, "username", username)
	return &identity, nil
}

func hostLabel(baseURL string) string {
	trimmed := strings.TrimPrefix(baseURL, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	return strings.TrimSuffix(trimmed, "/")
}
