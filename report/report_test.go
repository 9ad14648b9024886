package report

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/probekit/mailprobe/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPushUpWithPing(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
	}))
	defer srv.Close()

	latency := 123 * time.Millisecond
	outcome := model.Succeeded("primary", &latency)

	if err := NewClient(discardLogger()).Push(context.Background(), srv.URL+"/api/push/token123", outcome); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if got.Get("status") != "up" {
		t.Errorf("status = %q, want up", got.Get("status"))
	}
	if got.Get("msg") != "OK" {
		t.Errorf("msg = %q, want OK", got.Get("msg"))
	}
	if got.Get("ping") != "123" {
		t.Errorf("ping = %q, want 123", got.Get("ping"))
	}
}

func TestPushDownWithoutPing(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
	}))
	defer srv.Close()

	outcome := model.SendFailed("primary", context.DeadlineExceeded)
	if err := NewClient(discardLogger()).Push(context.Background(), srv.URL, outcome); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if got.Get("status") != "down" {
		t.Errorf("status = %q, want down", got.Get("status"))
	}
	if !strings.HasPrefix(got.Get("msg"), "SMTP failed:") {
		t.Errorf("msg = %q", got.Get("msg"))
	}
	if got.Has("ping") {
		t.Error("ping must be omitted when no latency was measured")
	}
}

func TestPushTruncatesLongMessage(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
	}))
	defer srv.Close()

	outcome := model.Outcome{Account: "primary", Message: strings.Repeat("x", 300)}
	if err := NewClient(discardLogger()).Push(context.Background(), srv.URL, outcome); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if len(got.Get("msg")) != 200 {
		t.Errorf("msg length = %d, want truncation to 200", len(got.Get("msg")))
	}
}

func TestPushEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(discardLogger()).Push(context.Background(), srv.URL, model.Succeeded("primary", nil))
	if err == nil {
		t.Error("expected error for HTTP 500")
	}
}

func TestPushUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	err := NewClient(discardLogger()).Push(context.Background(), addr, model.Succeeded("primary", nil))
	if err == nil {
		t.Error("expected error for unreachable endpoint")
	}
}
