package httpapi

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	logx "sensorpush/pkg/logx"
)

func TestServerStartStop(t *testing.T) {
	t.Parallel()
	h := http.NewServeMux()
	h.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })

	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0", ReadHeaderTimeout: time.Second}, h, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Idempotent.
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected bound address")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(b) != "ok" {
		t.Fatalf("body = %q", b)
	}

	srv.Stop(ctx)
	if got := srv.Addr(); got != "" {
		t.Fatalf("Addr after Stop = %q", got)
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatal("server still answering after Stop")
	}
}

func TestServerStartBindError(t *testing.T) {
	t.Parallel()
	a := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, http.NotFoundHandler(), logx.Nop())
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(ctx)

	b := NewServer(ServerConfig{Addr: a.Addr()}, http.NotFoundHandler(), logx.Nop())
	if err := b.Start(ctx); err == nil {
		b.Stop(ctx)
		t.Fatal("expected bind error on a used port")
	}
}
