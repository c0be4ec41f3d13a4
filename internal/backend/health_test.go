package backend

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Paintersrp/minicars/internal/config"
	"github.com/Paintersrp/minicars/internal/probe"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return port
}

func TestWaitUntilReadyAtAttemptK(t *testing.T) {
	for _, k := range []int{1, 5, 15} {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if int(hits.Add(1)) < k {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok","service":"minicars-backend"}`))
		}))

		var intervals int
		h := NewHealthChecker(config.Default())
		h.Host = "127.0.0.1"
		h.Sleep = func(ctx context.Context, d time.Duration) error {
			intervals++
			return nil
		}

		if !h.WaitUntilReady(context.Background(), serverPort(t, srv)) {
			t.Fatalf("k=%d: expected ready", k)
		}
		if intervals != k || int(hits.Load()) != k {
			t.Fatalf("k=%d: intervals=%d requests=%d", k, intervals, hits.Load())
		}
		srv.Close()
	}
}

func TestWaitUntilReadyNeverSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	var waited time.Duration
	h := NewHealthChecker(config.Default())
	h.Host = "127.0.0.1"
	h.Sleep = func(ctx context.Context, d time.Duration) error {
		waited += d
		return nil
	}

	if h.WaitUntilReady(context.Background(), serverPort(t, srv)) {
		t.Fatalf("expected health check to fail")
	}
	if hits.Load() != 15 {
		t.Fatalf("expected 15 attempts, got %d", hits.Load())
	}
	if waited != 15*500*time.Millisecond {
		t.Fatalf("expected 7.5s of intervals, got %v", waited)
	}
}

func TestWaitUntilReadyConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	h := &HealthChecker{
		Host:   "127.0.0.1",
		Policy: probe.Policy{Attempts: 3, Interval: time.Millisecond, Timeout: 100 * time.Millisecond},
	}
	if h.WaitUntilReady(context.Background(), port) {
		t.Fatalf("expected refused connections to fail")
	}
}

func TestHealthURL(t *testing.T) {
	h := NewHealthChecker(config.Default())
	if got := h.URL(8000); got != "http://localhost:8000/health" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestWaitUntilReadyLogsHealthURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHealthChecker(config.Default())
	h.Host = "127.0.0.1"
	h.Sleep = func(context.Context, time.Duration) error { return nil }
	h.Logger = zap.New(core)

	port := serverPort(t, srv)
	if !h.WaitUntilReady(context.Background(), port) {
		t.Fatalf("expected ready")
	}
	entries := logs.FilterMessage("backend healthy").All()
	if len(entries) != 1 {
		t.Fatalf("expected one readiness entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["url"]; got != h.URL(port) {
		t.Fatalf("expected url %q, got %v", h.URL(port), got)
	}
}
