// Package homechat implements the typed REST client for a HomeChat
// server. All calls go through one shared http.Client so connections
// are reused, carry Bearer authentication, and are bounded by the
// client timeout.
package homechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/homechat-bridge/internal/observability"
)

const (
	// DefaultTimeout bounds every outbound request.
	DefaultTimeout = 30 * time.Second

	// senderName identifies the bridge in outbound messages.
	senderName = "Home Assistant"

	// maxErrorBody caps how much of an error response is kept on a
	// RequestError.
	maxErrorBody = 2048
)

// Config holds configuration for the HomeChat client.
type Config struct {
	// Host is the HomeChat server hostname (required).
	Host string

	// Port is the HomeChat server port.
	Port int

	// TLS selects https when true.
	TLS bool

	// Token is the API token sent as a Bearer credential (required).
	Token string

	// HTTPClient is the shared client to issue requests with. A default
	// client with DefaultTimeout is created when nil.
	HTTPClient *http.Client

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger

	// Metrics is optional; request latency is recorded when set.
	Metrics *observability.Metrics
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Host == "" {
		return ErrInvalidInput("host is required", nil)
	}
	if c.Token == "" {
		return ErrInvalidInput("api token is required", nil)
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Client issues authenticated calls against the HomeChat REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a HomeChat client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheme := "http"
	if cfg.TLS {
		scheme = "https"
	}
	return &Client{
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		token:      cfg.Token,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger.With("component", "homechat_client"),
		metrics:    cfg.Metrics,
	}, nil
}

// BaseURL returns the resolved server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthCheck reports whether the server answers its health endpoint
// with HTTP 200. Transport errors degrade to false and are never
// propagated.
func (c *Client) HealthCheck(ctx context.Context) bool {
	info, err := c.Health(ctx)
	if err != nil {
		c.logger.Debug("health check failed", "error", err)
		return false
	}
	return info != nil
}

// Health fetches the health endpoint body. A non-200 status or a
// transport failure yields an error; callers that only need liveness
// should use HealthCheck.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var info HealthInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CheckAuth probes an authenticated endpoint to verify the API token.
// A 401 surfaces as an auth error; any other completed response, error
// status included, proves the token was examined and passes. Transport
// failures propagate so callers can distinguish "cannot connect" from
// "bad credentials".
func (c *Client) CheckAuth(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/messages", nil, nil)
	if err == nil || IsAuthError(err) {
		return err
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return nil
	}
	return err
}

// SendMessage posts a message. Exactly one of roomID or userID should
// be set; when both are empty the server routes to its default room.
func (c *Client) SendMessage(ctx context.Context, message, roomID, userID, title string) (*ChatResponse, error) {
	if message == "" {
		return nil, ErrInvalidInput("message is required", nil)
	}
	body := map[string]any{
		"message": message,
		"sender":  senderName,
	}
	if roomID != "" {
		body["room_id"] = roomID
	}
	if userID != "" {
		body["user_id"] = userID
	}
	if title != "" {
		body["title"] = title
	}
	var resp ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/messages", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateBot creates a bot account. When webhookID is set the bot is
// provisioned as a webhook bot and the response may carry a fresh
// webhook secret; persisting it is the caller's responsibility.
func (c *Client) CreateBot(ctx context.Context, name, description, webhookID string) (*BotResponse, error) {
	if name == "" {
		return nil, ErrInvalidInput("bot name is required", nil)
	}
	bot := Bot{Name: name, Description: description, Type: BotTypeAPI}
	if webhookID != "" {
		bot.Type = BotTypeWebhook
		bot.WebhookID = webhookID
	}
	var resp BotResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/bots", map[string]any{"bot": bot}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BotStatus fetches the status of a bot by id.
func (c *Client) BotStatus(ctx context.Context, botID int) (*BotStatus, error) {
	var status BotStatus
	path := fmt.Sprintf("/api/v1/bots/%d/status", botID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListChannels fetches all channels visible to the bridge.
func (c *Client) ListChannels(ctx context.Context) (*ChannelList, error) {
	var list ChannelList
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/channels", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// JoinChannel joins the channel with the given id.
func (c *Client) JoinChannel(ctx context.Context, channelID int) error {
	path := fmt.Sprintf("/api/v1/channels/%d/join", channelID)
	return c.doJSON(ctx, http.MethodPost, path, map[string]any{}, nil)
}

// LeaveChannel leaves the channel with the given id.
func (c *Client) LeaveChannel(ctx context.Context, channelID int) error {
	path := fmt.Sprintf("/api/v1/channels/%d/leave", channelID)
	return c.doJSON(ctx, http.MethodPost, path, map[string]any{}, nil)
}

// ChannelMembers lists the members of a channel.
func (c *Client) ChannelMembers(ctx context.Context, channelID int) (*ChannelMembers, error) {
	var members ChannelMembers
	path := fmt.Sprintf("/api/v1/channels/%d/members", channelID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return &members, nil
}

// SendChannelMessage posts a message into a specific channel.
func (c *Client) SendChannelMessage(ctx context.Context, channelID int, message, messageType string) (*ChatResponse, error) {
	if message == "" {
		return nil, ErrInvalidInput("message is required", nil)
	}
	if messageType == "" {
		messageType = "chat"
	}
	body := map[string]any{
		"message": message,
		"type":    messageType,
		"sender":  senderName,
	}
	var resp ChatResponse
	path := fmt.Sprintf("/api/v1/channels/%d/messages", channelID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendDirectMessage delivers a message to a single user through the
// per-user messages endpoint.
func (c *Client) SendDirectMessage(ctx context.Context, userID int, message string) (*ChatResponse, error) {
	if message == "" {
		return nil, ErrInvalidInput("message is required", nil)
	}
	body := map[string]any{
		"message": message,
		"sender":  senderName,
	}
	var resp ChatResponse
	path := fmt.Sprintf("/api/v1/users/%d/messages", userID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadMedia posts a file into a channel as a multipart upload with an
// optional caption.
func (c *Client) UploadMedia(ctx context.Context, channelID int, data []byte, caption, filename string) (*ChatResponse, error) {
	if len(data) == 0 {
		return nil, ErrInvalidInput("media payload is empty", nil)
	}
	if filename == "" {
		filename = "upload"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files[]", filename)
	if err != nil {
		return nil, ErrInternal("failed to build multipart body", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, ErrInternal("failed to build multipart body", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return nil, ErrInternal("failed to build multipart body", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, ErrInternal("failed to build multipart body", err)
	}

	path := fmt.Sprintf("/api/v1/channels/%d/media", channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, ErrInternal("failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp ChatResponse
	if err := c.do(req, "upload_media", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search queries the server. searchType is one of all, users, channels
// or messages.
func (c *Client) Search(ctx context.Context, query, searchType string) (*SearchResults, error) {
	if query == "" {
		return nil, ErrInvalidInput("query is required", nil)
	}
	if searchType == "" {
		searchType = "all"
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", searchType)
	var results SearchResults
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/search?"+params.Encode(), nil, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// GetOrCreateChannel resolves a channel id by exact name. When the
// channel is missing it sends a placeholder message addressed to the
// name, which creates the channel server-side, then re-lists. Returns
// (0, false) if the channel still cannot be resolved. Best effort: a
// concurrent caller creating the same name can win the race.
func (c *Client) GetOrCreateChannel(ctx context.Context, name string) (int, bool, error) {
	if name == "" {
		return 0, false, ErrInvalidInput("channel name is required", nil)
	}

	list, err := c.ListChannels(ctx)
	if err != nil {
		return 0, false, err
	}
	if id, ok := findChannel(list.Channels, name); ok {
		return id, true, nil
	}

	c.logger.Debug("channel not found, creating via placeholder", "channel", name)
	if _, err := c.SendMessage(ctx, "Channel created by Home Assistant", name, "", ""); err != nil {
		return 0, false, err
	}

	list, err = c.ListChannels(ctx)
	if err != nil {
		return 0, false, err
	}
	if id, ok := findChannel(list.Channels, name); ok {
		return id, true, nil
	}
	return 0, false, nil
}

func findChannel(channels []Channel, name string) (int, bool) {
	for _, ch := range channels {
		if ch.Name == name {
			return ch.ID, true
		}
	}
	return 0, false
}

// doJSON issues a request with an optional JSON body and decodes a JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return ErrInternal("failed to encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return ErrInternal("failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := opFromPath(method, path)
	return c.do(req, op, out)
}

// do executes req, maps non-2xx statuses onto RequestError, and decodes
// the response body into out when out is non-nil.
func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ErrConnection(fmt.Sprintf("homechat %s request failed", op), err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	if c.metrics != nil {
		c.metrics.RequestDuration.WithLabelValues(op).Observe(latency.Seconds())
	}
	c.logger.Debug("homechat request",
		"op", op,
		"status", resp.StatusCode,
		"latency_ms", latency.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RequestError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return ErrInternal(fmt.Sprintf("homechat %s: invalid response body", op), err)
	}
	return nil
}

// opFromPath derives a short operation label for logs and errors.
func opFromPath(method, path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	return strings.ToLower(method) + " " + path
}
