package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sandeepkv93/session-token-authority/internal/config"
)

func TestNewAssignsDependenciesAndTimeouts(t *testing.T) {
	cfg := &config.Config{
		ShutdownTimeout:              10 * time.Second,
		ShutdownHTTPDrainTimeout:     2 * time.Second,
		ShutdownObservabilityTimeout: 3 * time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}

	a := New(cfg, logger, server, nil, nil)
	if a.Config != cfg || a.Logger != logger || a.Server != server {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout || a.ShutdownHTTPDrainTimeout != cfg.ShutdownHTTPDrainTimeout || a.ShutdownObservabilityTimeout != cfg.ShutdownObservabilityTimeout {
		t.Fatal("expected app shutdown timeouts copied from config")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := &config.Config{
		ShutdownTimeout:              2 * time.Second,
		ShutdownHTTPDrainTimeout:     time.Second,
		ShutdownObservabilityTimeout: time.Second,
	}
	server := &http.Server{Addr: addr, Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), server, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
	if _, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		t.Fatal("expected listener to be closed after shutdown")
	}
}
