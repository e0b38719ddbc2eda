package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/homechat-bridge/internal/bus"
)

const (
	testWebhookID = "hc-webhook-1"
	testSecret    = "webhook-secret"
)

func newTestReceiver(t *testing.T, cfg Config) (*bus.Bus, http.Handler) {
	t.Helper()
	if cfg.WebhookID == "" {
		cfg.WebhookID = testWebhookID
	}
	b := bus.New(nil)
	mux := http.NewServeMux()
	mux.Handle("/webhook/{id}", NewReceiver(b, cfg))
	return b, mux
}

func postWebhook(handler http.Handler, id string, body []byte, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, bytes.NewReader(body))
	if sign {
		req.Header.Set(SignatureHeader, Sign(body, testSecret))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestReceiverAcceptsSignedDelivery(t *testing.T) {
	b, handler := newTestReceiver(t, Config{Secret: testSecret})
	events, cancel := b.Subscribe()
	defer cancel()

	body := []byte(`{"message":"lights are on","sender":"alice","room_id":"general","channel_id":3,"timestamp":"2026-08-31T10:00:00Z"}`)
	rec := postWebhook(handler, testWebhookID, body, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected ok status, got %q", resp["status"])
	}

	event := <-events
	if event.Name != bus.EventMessageReceived {
		t.Errorf("expected %s, got %s", bus.EventMessageReceived, event.Name)
	}
	if event.Data["message"] != "lights are on" {
		t.Errorf("message not copied: %v", event.Data)
	}
	if event.Data["sender"] != "alice" {
		t.Errorf("sender not copied: %v", event.Data)
	}
	if event.Data["room_id"] != "general" {
		t.Errorf("room_id not copied: %v", event.Data)
	}
	if event.Data["channel_id"] != 3 {
		t.Errorf("channel_id not copied: %v", event.Data)
	}
	if event.Data["message_type"] != "message" {
		t.Errorf("expected default message_type, got %v", event.Data["message_type"])
	}
	if event.Data["webhook_id"] != testWebhookID {
		t.Errorf("webhook_id not set: %v", event.Data)
	}
}

func TestReceiverBotMessageEvent(t *testing.T) {
	b, handler := newTestReceiver(t, Config{Secret: testSecret})
	events, cancel := b.Subscribe()
	defer cancel()

	body := []byte(`{"message":"done","sender":"ha-bot","type":"bot_message"}`)
	rec := postWebhook(handler, testWebhookID, body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	event := <-events
	if event.Name != bus.EventBotMessage {
		t.Errorf("expected %s, got %s", bus.EventBotMessage, event.Name)
	}
	if event.Data["message_type"] != "bot_message" {
		t.Errorf("expected bot_message type, got %v", event.Data["message_type"])
	}
}

func TestReceiverRejectsInvalidSignature(t *testing.T) {
	b, handler := newTestReceiver(t, Config{Secret: testSecret})
	events, cancel := b.Subscribe()
	defer cancel()

	body := []byte(`{"message":"spoofed"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+testWebhookID, bytes.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte("other payload"), testSecret))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	if resp["status"] != "error" {
		t.Errorf("expected error status, got %q", resp["status"])
	}
	select {
	case event := <-events:
		t.Errorf("no event must fire on rejected delivery, got %s", event.Name)
	default:
	}
}

func TestReceiverRejectsMissingSignature(t *testing.T) {
	_, handler := newTestReceiver(t, Config{Secret: testSecret})
	rec := postWebhook(handler, testWebhookID, []byte(`{"message":"x"}`), false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 when header absent, got %d", rec.Code)
	}
}

func TestReceiverNoSecretSkipsVerification(t *testing.T) {
	b, handler := newTestReceiver(t, Config{})
	events, cancel := b.Subscribe()
	defer cancel()

	rec := postWebhook(handler, testWebhookID, []byte(`{"message":"open"}`), false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without configured secret, got %d", rec.Code)
	}
	event := <-events
	if event.Name != bus.EventMessageReceived {
		t.Errorf("unexpected event %s", event.Name)
	}
}

func TestReceiverMalformedJSON(t *testing.T) {
	b, handler := newTestReceiver(t, Config{Secret: testSecret})
	events, cancel := b.Subscribe()
	defer cancel()

	body := []byte(`{"message": truncated`)
	rec := postWebhook(handler, testWebhookID, body, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on malformed JSON, got %d", rec.Code)
	}
	select {
	case event := <-events:
		t.Errorf("no event must fire on malformed delivery, got %s", event.Name)
	default:
	}
}

func TestReceiverUnknownWebhookID(t *testing.T) {
	_, handler := newTestReceiver(t, Config{Secret: testSecret})
	body := []byte(`{"message":"x"}`)
	rec := postWebhook(handler, "some-other-id", body, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown webhook id, got %d", rec.Code)
	}
}

func TestReceiverOversizedBody(t *testing.T) {
	_, handler := newTestReceiver(t, Config{Secret: testSecret, MaxBodyBytes: 64})
	body := []byte(`{"message":"` + strings.Repeat("a", 256) + `"}`)
	rec := postWebhook(handler, testWebhookID, body, true)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized body, got %d", rec.Code)
	}
}

func TestReceiverMethodNotAllowed(t *testing.T) {
	_, handler := newTestReceiver(t, Config{Secret: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/webhook/"+testWebhookID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
