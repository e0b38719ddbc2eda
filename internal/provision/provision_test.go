package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/homechat-bridge/internal/homechat"
	"github.com/haasonsaas/homechat-bridge/internal/state"
)

func newTestClient(t *testing.T, handler http.Handler) *homechat.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	client, err := homechat.NewClient(homechat.Config{
		Host:       u.Hostname(),
		Port:       port,
		Token:      "test-token",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestValidateProfileSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok", "service": "HomeChat", "version": "1.4.0",
		})
	})
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	})

	info, err := ValidateProfile(context.Background(), newTestClient(t, mux))
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if info.Service != "HomeChat" || info.Version != "1.4.0" {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Title == "" {
		t.Error("expected a title")
	}
}

func TestValidateProfileCannotConnect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := ValidateProfile(context.Background(), newTestClient(t, mux))
	if !errors.Is(err, ErrCannotConnect) {
		t.Errorf("expected ErrCannotConnect, got %v", err)
	}
}

func TestValidateProfileInvalidAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := ValidateProfile(context.Background(), newTestClient(t, mux))
	if !errors.Is(err, ErrInvalidAuth) {
		t.Errorf("expected ErrInvalidAuth, got %v", err)
	}
}

func TestValidateProfileToleratesNon401Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	// A 405 on the probe endpoint still proves the token was accepted.
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	if _, err := ValidateProfile(context.Background(), newTestClient(t, mux)); err != nil {
		t.Errorf("non-401 probe status must pass, got %v", err)
	}
}

func TestEnsureBotCreatesOnce(t *testing.T) {
	var createCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bots", func(w http.ResponseWriter, r *http.Request) {
		createCalls.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		bot, _ := body["bot"].(map[string]any)
		if bot["description"] != BotDescription {
			t.Errorf("unexpected bot description: %v", bot["description"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"bot":            map[string]any{"id": 42, "name": bot["name"]},
			"webhook_secret": "issued-secret",
		})
	})

	client := newTestClient(t, mux)
	store := newTestStore(t)
	ctx := context.Background()

	identity, err := EnsureBot(ctx, client, store, "ha-bot", "hook-1", nil)
	if err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}
	if identity == nil || identity.BotID != 42 || identity.WebhookSecret != "issued-secret" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	// Second call hits the guard, not the server.
	again, err := EnsureBot(ctx, client, store, "ha-bot", "hook-1", nil)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if again.BotID != 42 {
		t.Errorf("expected persisted identity, got %+v", again)
	}
	if createCalls.Load() != 1 {
		t.Errorf("expected exactly one create call, got %d", createCalls.Load())
	}
}

func TestEnsureBotSkippedWhenUnconfigured(t *testing.T) {
	client := newTestClient(t, http.NewServeMux())
	store := newTestStore(t)

	identity, err := EnsureBot(context.Background(), client, store, "", "hook-1", nil)
	if err != nil || identity != nil {
		t.Errorf("expected skip without username, got %+v, %v", identity, err)
	}
	identity, err = EnsureBot(context.Background(), client, store, "ha-bot", "", nil)
	if err != nil || identity != nil {
		t.Errorf("expected skip without webhook id, got %+v, %v", identity, err)
	}
}

func TestEnsureBotPropagatesCreateFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bots", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t)
	_, err := EnsureBot(context.Background(), newTestClient(t, mux), store, "ha-bot", "hook-1", nil)
	if err == nil {
		t.Fatal("expected error from failed create")
	}

	// Nothing persisted on failure; a later retry may still provision.
	identity, err := store.BotIdentity(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if identity != nil {
		t.Errorf("failed provisioning must not persist an identity, got %+v", identity)
	}
}
