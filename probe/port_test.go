package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

func listenerPort(t *testing.T, ln net.Listener) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("Failed to split host/port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Failed to parse port: %v", err)
	}
	return port
}

func TestWaitForPort_Open(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer ln.Close()

	err = WaitForPort(context.Background(), "127.0.0.1", listenerPort(t, ln), 2*time.Second)
	if err != nil {
		t.Errorf("WaitForPort failed for open port: %v", err)
	}
}

func TestWaitForPort_Timeout(t *testing.T) {
	// Closed port on localhost refuses immediately; WaitForPort should
	// keep retrying until the deadline.
	start := time.Now()
	timeout := 200 * time.Millisecond

	err := WaitForPort(context.Background(), "127.0.0.1", 45678, timeout)
	if err == nil {
		t.Error("Expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("Returned before timeout: %v < %v", elapsed, timeout)
	}
}

func TestWaitForPort_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitForPort(ctx, "127.0.0.1", 45678, 5*time.Second)
	if err == nil {
		t.Error("Expected error for cancelled context, got nil")
	}
}

func TestWaitForPort_DelayedStart(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to pick free port: %v", err)
	}
	port := listenerPort(t, ln)
	address := ln.Addr().String()
	ln.Close()

	go func() {
		time.Sleep(300 * time.Millisecond)
		ln, err := net.Listen("tcp", address)
		if err == nil {
			time.Sleep(1 * time.Second)
			ln.Close()
		}
	}()

	err = WaitForPort(context.Background(), "127.0.0.1", port, 3*time.Second)
	if err != nil {
		t.Errorf("WaitForPort failed for delayed start on port %d: %v", port, err)
	}
}
