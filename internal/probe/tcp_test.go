package probe

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	prober, err := NewTCP(addr)
	if err != nil {
		t.Fatalf("NewTCP: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := prober.Probe(ctx); err != nil {
		t.Fatalf("expected open port to probe healthy: %v", err)
	}

	_ = ln.Close()
	if err := prober.Probe(ctx); err == nil {
		t.Fatalf("expected closed port to fail")
	}

	if _, err := NewTCP(""); err == nil {
		t.Fatalf("expected empty address to be rejected")
	}
}
