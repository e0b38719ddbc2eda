package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/haasonsaas/homechat-bridge/internal/bus"
	"github.com/haasonsaas/homechat-bridge/internal/observability"
)

// DefaultMaxBodyBytes caps inbound delivery bodies. Chat payloads are
// small; anything near this size is abuse, not traffic.
const DefaultMaxBodyBytes = 1 << 20

// Config holds configuration for the receiver.
type Config struct {
	// WebhookID is the path identifier deliveries must address.
	WebhookID string

	// Secret enables signature verification when non-empty.
	Secret string

	// MaxBodyBytes caps the request body. Defaults to
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observability.Metrics
}

// Receiver handles inbound webhook deliveries. It holds no per-request
// state and is safe for concurrent use.
type Receiver struct {
	webhookID string
	secret    string
	maxBody   int64
	bus       *bus.Bus
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// delivery is the wire shape the HomeChat server posts. Unknown fields
// are ignored; the listed ones are copied verbatim into the bus event.
type delivery struct {
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	RoomID    string `json:"room_id"`
	ChannelID int    `json:"channel_id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

// NewReceiver creates a webhook receiver publishing to b.
func NewReceiver(b *bus.Bus, cfg Config) *Receiver {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Receiver{
		webhookID: cfg.WebhookID,
		secret:    cfg.Secret,
		maxBody:   cfg.MaxBodyBytes,
		bus:       b,
		logger:    cfg.Logger.With("component", "webhook"),
		metrics:   cfg.Metrics,
	}
}

// ServeHTTP handles POST /webhook/{id}. The signature covers the raw
// body, so the body is read in full before any JSON parsing.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id := r.PathValue("id"); id != rc.webhookID {
		// Do not reveal whether the configured id exists.
		writeError(w, http.StatusNotFound, "unknown webhook")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rc.maxBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			rc.count("oversized")
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		rc.count("malformed")
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if rc.secret != "" {
		if !Verify(body, r.Header.Get(SignatureHeader), rc.secret) {
			rc.count("invalid_signature")
			rc.logger.Warn("rejected webhook delivery with invalid signature",
				"remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var d delivery
	if err := json.Unmarshal(body, &d); err != nil {
		rc.count("malformed")
		rc.logger.Error("failed to parse webhook payload", "error", err)
		writeError(w, http.StatusInternalServerError, "invalid payload")
		return
	}

	messageType := d.Type
	if messageType == "" {
		messageType = "message"
	}
	data := map[string]any{
		"webhook_id":   rc.webhookID,
		"message":      d.Message,
		"sender":       d.Sender,
		"room_id":      d.RoomID,
		"channel_id":   d.ChannelID,
		"timestamp":    d.Timestamp,
		"message_type": messageType,
	}

	name := bus.EventMessageReceived
	if d.Type == "bot_message" {
		name = bus.EventBotMessage
	}
	event := rc.bus.Publish(name, data)
	rc.count("accepted")
	if rc.metrics != nil {
		rc.metrics.BusEvents.WithLabelValues(name).Inc()
	}
	rc.logger.Debug("webhook delivery accepted",
		"event", name, "event_id", event.ID, "sender", d.Sender)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rc *Receiver) count(outcome string) {
	if rc.metrics != nil {
		rc.metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
