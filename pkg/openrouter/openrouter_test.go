package openrouter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	if NewClient(Config{}) != nil {
		t.Fatal("expected nil client without an api key")
	}
}

func TestHasModel(t *testing.T) {
	t.Parallel()

	var gotAuth, gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[
			{"id":"openai/gpt-4o-mini","object":"model","created":1,"owned_by":"openai"},
			{"id":"x-ai/grok-4.1-fast","object":"model","created":1,"owned_by":"x-ai"}]}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "or-key", SiteName: "voice"})

	ok, err := HasModel(context.Background(), client, "openai/gpt-4o-mini")
	if err != nil || !ok {
		t.Fatalf("HasModel() = %v, %v; want true", ok, err)
	}
	ok, err = HasModel(context.Background(), client, "missing/model")
	if err != nil || ok {
		t.Fatalf("HasModel() = %v, %v; want false", ok, err)
	}
	if gotAuth != "Bearer or-key" || gotTitle != "voice" {
		t.Fatalf("unexpected headers: auth=%q title=%q", gotAuth, gotTitle)
	}
}

func TestNewChatModel(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseURL: "http://127.0.0.1:1", APIKey: "or-key", Temperature: 0.3}
	if _, err := cfg.New(context.Background()); err == nil {
		t.Fatal("expected an error without a model name")
	}

	cfg.Model = "openai/gpt-4o-mini"
	m, err := cfg.New(context.Background())
	if err != nil || m == nil {
		t.Fatalf("New() = %v, %v", m, err)
	}
}
