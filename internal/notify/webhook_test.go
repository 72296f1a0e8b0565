package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestSendPostsContent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := New(srv.URL, 2000, zap.NewNop())
	if err := n.Send(context.Background(), "heartbeat ok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["content"] != "heartbeat ok" {
		t.Errorf("got %q, want %q", got["content"], "heartbeat ok")
	}
}

func TestSendTruncates(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := New(srv.URL, 100, zap.NewNop())
	if err := n.Send(context.Background(), strings.Repeat("x", 500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got["content"]) != 100 {
		t.Errorf("got %d chars, want 100", len(got["content"]))
	}
	if !strings.HasSuffix(got["content"], "...") {
		t.Error("truncated content should end with ellipsis")
	}
}

func TestSendRetriesOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	n := New(srv.URL, 2000, zap.NewNop())
	if err := n.Send(context.Background(), "retry me"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("got %d calls, want 2", calls)
	}
}

func TestSendNoURL(t *testing.T) {
	n := New("", 2000, zap.NewNop())
	if n.Enabled() {
		t.Error("notifier with no URL should be disabled")
	}
	if err := n.Send(context.Background(), "dropped"); err != nil {
		t.Fatalf("no-op send returned error: %v", err)
	}
}
