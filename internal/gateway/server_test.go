package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/homechat-bridge/internal/bus"
	"github.com/haasonsaas/homechat-bridge/internal/config"
	"github.com/haasonsaas/homechat-bridge/internal/conversation"
	"github.com/haasonsaas/homechat-bridge/internal/coordinator"
	"github.com/haasonsaas/homechat-bridge/internal/dispatch"
	"github.com/haasonsaas/homechat-bridge/internal/homechat"
	"github.com/haasonsaas/homechat-bridge/internal/observability"
	"github.com/haasonsaas/homechat-bridge/internal/webhook"
)

const testSecret = "hook-secret"

type env struct {
	server  *Server
	handler http.Handler
	bus     *bus.Bus
}

// newEnv stands up a fake HomeChat server and a fully wired gateway.
func newEnv(t *testing.T) *env {
	t.Helper()

	upstream := http.NewServeMux()
	upstream.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	upstream.HandleFunc("/api/v1/channels", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"channels": []map[string]any{
			{"id": 1, "name": "general", "type": "public"},
		}})
	})
	upstream.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	chatServer := httptest.NewServer(upstream)
	t.Cleanup(chatServer.Close)

	u, err := url.Parse(chatServer.URL)
	if err != nil {
		t.Fatalf("parse chat server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	client, err := homechat.NewClient(homechat.Config{
		Host:       u.Hostname(),
		Port:       port,
		Token:      "real-token",
		HTTPClient: chatServer.Client(),
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	b := bus.New(nil)
	coord := coordinator.New(client, coordinator.Config{Metrics: metrics})
	if err := coord.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	dispatcher, err := dispatch.New(client, b, nil, dispatch.Config{Metrics: metrics})
	if err != nil {
		t.Fatalf("create dispatcher: %v", err)
	}

	cfg := config.Config{}
	cfg.HomeChat.Host = u.Hostname()
	cfg.HomeChat.Port = port
	cfg.HomeChat.APIToken = "real-token"
	cfg.HomeChat.WebhookID = "hook-1"
	cfg.HomeChat.WebhookSecret = testSecret
	cfg.ApplyDefaults()
	cfg.Server.Listen = "127.0.0.1:0"

	receiver := webhook.NewReceiver(b, webhook.Config{
		WebhookID: "hook-1",
		Secret:    testSecret,
		Metrics:   metrics,
	})

	server := NewServer(Deps{
		Config:      cfg,
		Coordinator: coord,
		Dispatcher:  dispatcher,
		Agent:       conversation.NewAgent(client, coord, nil),
		Receiver:    receiver,
		Bus:         b,
		Gatherer:    registry,
	})
	return &env{server: server, handler: server.Handler(), bus: b}
}

func (e *env) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var body map[string]any
	if strings.Contains(rec.Header().Get("Content-Type"), "json") {
		json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

func (e *env) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rec, body := e.get(t, "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("unexpected healthz response: %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestStatusReadModel(t *testing.T) {
	e := newEnv(t)
	rec, body := e.get(t, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d", rec.Code)
	}
	if body["status"] != "online" {
		t.Errorf("expected online, got %v", body["status"])
	}
	if body["channel_count"] != float64(1) {
		t.Errorf("expected channel_count 1, got %v", body["channel_count"])
	}
}

func TestDiagnosticsRedactsSecrets(t *testing.T) {
	e := newEnv(t)
	rec, _ := e.get(t, "/diagnostics")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d", rec.Code)
	}

	raw := rec.Body.String()
	if strings.Contains(raw, "real-token") || strings.Contains(raw, testSecret) {
		t.Error("diagnostics leaked credentials")
	}
	if !strings.Contains(raw, "hook-1") {
		t.Error("non-secret fields should be visible")
	}
}

func TestServiceEndpointAccepts(t *testing.T) {
	e := newEnv(t)
	rec, body := e.post(t, "/services/send_message", `{"message": "hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["status"] != "accepted" || body["operation"] != "send_message" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestServiceEndpointRejectsInvalidPayload(t *testing.T) {
	e := newEnv(t)
	rec, body := e.post(t, "/services/send_message", `{"bogus": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body["status"] != "error" {
		t.Errorf("expected structured error, got %v", body)
	}
}

func TestServiceEndpointUnknownOperation(t *testing.T) {
	e := newEnv(t)
	rec, _ := e.post(t, "/services/self_destruct", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown operation, got %d", rec.Code)
	}
}

func TestConversationEndpoint(t *testing.T) {
	e := newEnv(t)
	rec, body := e.post(t, "/conversation", `{"text": "send hello to general"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["intent"] != "send_message" || body["sent"] != true {
		t.Errorf("unexpected result: %v", body)
	}
}

func TestConversationEndpointRejectsEmptyText(t *testing.T) {
	e := newEnv(t)
	rec, _ := e.post(t, "/conversation", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookRouteWired(t *testing.T) {
	e := newEnv(t)
	events, cancel := e.bus.Subscribe(bus.EventMessageReceived)
	defer cancel()

	payload := `{"message": "hi", "sender": "alice"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/hook-1", strings.NewReader(payload))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(payload), testSecret))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	event := <-events
	if event.Data["sender"] != "alice" {
		t.Errorf("unexpected event: %v", event.Data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	rec, _ := e.get(t, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "homechat_poll_results_total") {
		t.Error("expected bridge metrics in exposition")
	}
}

func TestEventsSSEStream(t *testing.T) {
	e := newEnv(t)
	if err := e.server.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { e.server.Stop(context.Background()) })

	// Start serves on a real listener so the SSE stream can flush.
	resp, err := http.Get("http://" + e.server.Addr() + "/events")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	e.bus.Publish(bus.EventBotMessage, map[string]any{"message": "pong"})

	reader := bufio.NewReader(resp.Body)
	var sawEvent, sawData bool
	for i := 0; i < 10 && !(sawEvent && sawData); i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if strings.HasPrefix(line, "event: "+bus.EventBotMessage) {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "pong") {
			sawData = true
		}
	}
	if !sawEvent || !sawData {
		t.Error("expected SSE frame with event name and data")
	}
}
