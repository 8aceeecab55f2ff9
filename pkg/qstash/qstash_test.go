package qstash

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPublish(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotRetries, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetries = r.Header.Get("Upstash-Retries")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = io.WriteString(w, `{"messageId":"msg_1"}`)
	}))
	defer srv.Close()

	client := MustNew(Config{URL: srv.URL, Token: "tok", Retries: 2})
	id, err := client.Publish(context.Background(), "https://hooks.example.com/events", []byte(`{"type":"agent_result"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg_1" {
		t.Fatalf("unexpected message id: %q", id)
	}
	if gotPath != "/v2/publish/https://hooks.example.com/events" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotAuth != "Bearer tok" || gotRetries != "2" {
		t.Fatalf("unexpected headers: auth=%q retries=%q", gotAuth, gotRetries)
	}
	if gotBody != `{"type":"agent_result"}` {
		t.Fatalf("unexpected body: %q", gotBody)
	}
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid token"}`)
	}))
	defer srv.Close()

	client := MustNew(Config{URL: srv.URL, Token: "tok"})
	_, err := client.Publish(context.Background(), "https://hooks.example.com", nil)
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if _, err := client.Publish(context.Background(), " ", nil); !errors.Is(err, ErrPublish) {
		t.Fatalf("expected publish error for empty destination, got %v", err)
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{URL: "https://qstash.upstash.io"}); err == nil {
		t.Fatal("expected error without token")
	}
	if (Config{Token: " "}).Enabled() {
		t.Fatal("blank token must be disabled")
	}
}
