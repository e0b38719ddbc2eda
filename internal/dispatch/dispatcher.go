// Package dispatch exposes the bridge's outbound operations. Every
// operation validates its JSON payload against a schema before any
// network call; past validation, failures are logged and swallowed so
// a broken chat server never breaks the caller's automations.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/homechat-bridge/internal/bus"
	"github.com/haasonsaas/homechat-bridge/internal/homechat"
	"github.com/haasonsaas/homechat-bridge/internal/media"
	"github.com/haasonsaas/homechat-bridge/internal/observability"
)

// Operation names.
const (
	OpSendMessage      = "send_message"
	OpSendNotification = "send_notification"
	OpCreateBot        = "create_bot"
	OpListChannels     = "list_channels"
	OpJoinChannel      = "join_channel"
	OpLeaveChannel     = "leave_channel"
	OpSendDM           = "send_dm"
	OpSearch           = "search"

	// opDMShortcut is the shared schema key for the per-user shortcut
	// operations registered from config (send_dm_<name>).
	opDMShortcut = "dm_shortcut"

	dmShortcutPrefix = "send_dm_"
)

// ValidationError marks a payload rejected before any network call.
type ValidationError struct {
	Operation string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload for %s: %v", e.Operation, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Config holds configuration for the dispatcher.
type Config struct {
	// DefaultRoomID receives messages that name no target.
	DefaultRoomID string

	// DMTargets maps shortcut names to user ids; each entry registers a
	// send_dm_<name> operation.
	DMTargets map[string]int

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observability.Metrics
}

// Dispatcher routes named operations to the HomeChat client.
type Dispatcher struct {
	client        *homechat.Client
	bus           *bus.Bus
	loader        *media.Loader
	logger        *slog.Logger
	metrics       *observability.Metrics
	defaultRoomID string
	dmTargets     map[string]int

	now func() time.Time
}

// New creates a dispatcher. loader may be nil when image attachments
// are disabled.
func New(client *homechat.Client, b *bus.Bus, loader *media.Loader, cfg Config) (*Dispatcher, error) {
	if err := initSchemas(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultRoomID == "" {
		cfg.DefaultRoomID = "general"
	}
	return &Dispatcher{
		client:        client,
		bus:           b,
		loader:        loader,
		logger:        cfg.Logger.With("component", "dispatch"),
		metrics:       cfg.Metrics,
		defaultRoomID: cfg.DefaultRoomID,
		dmTargets:     cfg.DMTargets,
		now:           time.Now,
	}, nil
}

// Operations lists every registered operation name, shortcuts included,
// sorted for stable output.
func (d *Dispatcher) Operations() []string {
	ops := []string{
		OpSendMessage, OpSendNotification, OpCreateBot, OpListChannels,
		OpJoinChannel, OpLeaveChannel, OpSendDM, OpSearch,
	}
	for name := range d.dmTargets {
		ops = append(ops, dmShortcutPrefix+name)
	}
	sort.Strings(ops)
	return ops
}

// Validate checks a payload against the operation's schema without
// executing it. An unknown operation is a validation error.
func (d *Dispatcher) Validate(operation string, payload []byte) error {
	schemaKey, _, err := d.resolve(operation)
	if err != nil {
		return err
	}

	var decoded any
	if len(payload) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(payload, &decoded); err != nil {
		return &ValidationError{Operation: operation, Err: err}
	}
	if err := opSchemas.schemas[schemaKey].Validate(decoded); err != nil {
		return &ValidationError{Operation: operation, Err: err}
	}
	return nil
}

// Dispatch validates and executes an operation. The returned error is
// non-nil only for validation failures; execution failures are logged
// and counted, never propagated to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, operation string, payload []byte) error {
	schemaKey, dmUserID, err := d.resolve(operation)
	if err != nil {
		d.count(operation, "rejected")
		return err
	}
	if err := d.Validate(operation, payload); err != nil {
		d.count(operation, "rejected")
		return err
	}

	var execErr error
	switch schemaKey {
	case OpSendMessage:
		execErr = d.sendMessage(ctx, payload)
	case OpSendNotification:
		execErr = d.sendNotification(ctx, payload)
	case OpCreateBot:
		execErr = d.createBot(ctx, payload)
	case OpListChannels:
		execErr = d.listChannels(ctx)
	case OpJoinChannel:
		execErr = d.channelAction(ctx, payload, d.client.JoinChannel)
	case OpLeaveChannel:
		execErr = d.channelAction(ctx, payload, d.client.LeaveChannel)
	case OpSendDM:
		execErr = d.sendDM(ctx, payload)
	case OpSearch:
		execErr = d.search(ctx, payload)
	case opDMShortcut:
		execErr = d.sendDMShortcut(ctx, dmUserID, payload)
	}

	if execErr != nil {
		// Log-and-continue boundary: downstream failures never reach
		// the caller.
		d.count(operation, "error")
		d.logger.Error("operation failed", "operation", operation, "error", execErr)
		return nil
	}
	d.count(operation, "success")
	return nil
}

type sendMessagePayload struct {
	Message string `json:"message"`
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Image   string `json:"image"`
}

func (d *Dispatcher) sendMessage(ctx context.Context, payload []byte) error {
	var p sendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	if p.Image != "" {
		err := d.sendWithImage(ctx, p)
		if err == nil {
			return nil
		}
		// Best effort: a broken image or unresolvable channel degrades
		// to a plain text send.
		d.logger.Warn("image attach failed, falling back to text",
			"image", p.Image, "error", err)
	}

	_, err := d.client.SendMessage(ctx, p.Message, p.RoomID, p.UserID, p.Title)
	d.countMessage(OpSendMessage, err)
	return err
}

func (d *Dispatcher) sendWithImage(ctx context.Context, p sendMessagePayload) error {
	if d.loader == nil {
		return fmt.Errorf("media loading is not configured")
	}

	room := p.RoomID
	if room == "" {
		room = d.defaultRoomID
	}
	channelID, ok, err := d.client.GetOrCreateChannel(ctx, room)
	if err != nil {
		return fmt.Errorf("failed to resolve channel %q: %w", room, err)
	}
	if !ok {
		return fmt.Errorf("channel %q could not be resolved", room)
	}

	img, err := d.loader.Load(ctx, p.Image)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	caption := p.Message
	if p.Title != "" {
		caption = fmt.Sprintf("**%s**\n%s", p.Title, caption)
	}
	_, err = d.client.UploadMedia(ctx, channelID, img.Data, caption, img.Filename)
	d.countMessage("media", err)
	return err
}

func (d *Dispatcher) sendNotification(ctx context.Context, payload []byte) error {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return err
	}

	formatted := formatNotification(n, d.now())
	_, err := d.client.SendMessage(ctx, formatted, n.RoomID, "", n.Title)
	d.countMessage(OpSendNotification, err)
	return err
}

func (d *Dispatcher) createBot(ctx context.Context, payload []byte) error {
	var p struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		WebhookID   string `json:"webhook_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	resp, err := d.client.CreateBot(ctx, p.Name, p.Description, p.WebhookID)
	if err != nil {
		return err
	}
	d.logger.Info("created bot", "name", p.Name, "bot_id", resp.Bot.ID)
	return nil
}

func (d *Dispatcher) listChannels(ctx context.Context) error {
	list, err := d.client.ListChannels(ctx)
	if err != nil {
		return err
	}

	channels := make([]map[string]any, 0, len(list.Channels))
	for _, ch := range list.Channels {
		channels = append(channels, map[string]any{
			"id": ch.ID, "name": ch.Name, "type": ch.Type,
		})
	}
	d.bus.Publish(bus.EventChannelsUpdated, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
	return nil
}

func (d *Dispatcher) channelAction(ctx context.Context, payload []byte, action func(context.Context, int) error) error {
	var p struct {
		ChannelID int `json:"channel_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	return action(ctx, p.ChannelID)
}

func (d *Dispatcher) sendDM(ctx context.Context, payload []byte) error {
	var p struct {
		UserID  int    `json:"user_id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	_, err := d.client.SendDirectMessage(ctx, p.UserID, p.Message)
	d.countMessage(OpSendDM, err)
	return err
}

func (d *Dispatcher) sendDMShortcut(ctx context.Context, userID int, payload []byte) error {
	var p struct {
		Message string `json:"message"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	message := p.Message
	if p.Title != "" {
		message = fmt.Sprintf("**%s**\n%s", p.Title, message)
	}
	_, err := d.client.SendDirectMessage(ctx, userID, message)
	d.countMessage(OpSendDM, err)
	return err
}

func (d *Dispatcher) search(ctx context.Context, payload []byte) error {
	var p struct {
		Query string `json:"query"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Type == "" {
		p.Type = "all"
	}

	results, err := d.client.Search(ctx, p.Query, p.Type)
	if err != nil {
		return err
	}
	d.bus.Publish(bus.EventSearchResults, map[string]any{
		"query":    results.Query,
		"users":    len(results.Users),
		"channels": len(results.Channels),
		"messages": len(results.Messages),
		"results":  results,
	})
	return nil
}

func (d *Dispatcher) count(operation, status string) {
	if d.metrics != nil {
		d.metrics.DispatchOperations.WithLabelValues(operation, status).Inc()
	}
}

func (d *Dispatcher) countMessage(operation string, err error) {
	if d.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	d.metrics.MessagesSent.WithLabelValues(operation, status).Inc()
}

func (d *Dispatcher) resolve(operation string) (schemaKey string, dmUserID int, err error) {
	if _, ok := opSchemas.schemas[operation]; ok && operation != opDMShortcut {
		return operation, 0, nil
	}
	if name, ok := strings.CutPrefix(operation, dmShortcutPrefix); ok {
		if id, found := d.dmTargets[name]; found {
			return opDMShortcut, id, nil
		}
	}
	return "", 0, &ValidationError{Operation: operation, Err: fmt.Errorf("unknown operation")}
}
