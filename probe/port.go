package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// probePortBehavior times TCP connect attempts against the primary port and
// a fixed set of well-known ports. Quick answers, whether accepts or
// refusals, mean the host's network stack is up; universal timeouts usually
// mean the host is gone. Returns true on the quick-rejection classification.
func (d *Detector) probePortBehavior(tally *Tally, out *Outcome) bool {
	ports := append([]int{d.Port}, d.testPorts()...)

	quick := 0
	anyResponse := false
	for _, p := range ports {
		addr := net.JoinHostPort(d.Host, strconv.Itoa(p))
		start := time.Now()
		conn, err := d.dial()("tcp", addr, d.socketTimeout())
		elapsed := time.Since(start)

		if err == nil {
			_ = conn.Close()
			anyResponse = true
			if elapsed < d.quickThreshold() {
				quick++
			}
			continue
		}
		if elapsed < d.quickThreshold() {
			// Refused promptly: the stack answered even though the
			// port is closed.
			quick++
			anyResponse = true
		}
	}

	switch {
	case quick >= minQuickRejections:
		out.PortBehavior = PortBehaviorQuickRejection
		tally.Pass()
		return true
	case anyResponse:
		out.PortBehavior = PortBehaviorMixedResponse
		tally.Pass()
		return false
	default:
		out.PortBehavior = PortBehaviorAllTimeout
		tally.Fail("all ports timed out - likely host shutdown")
		return false
	}
}

// probeTCPStack repeats timed connects against the primary port. A live TCP
// stack answers quickly whether or not the service behind the port does.
func (d *Detector) probeTCPStack(tally *Tally, out *Outcome) bool {
	addr := net.JoinHostPort(d.Host, strconv.Itoa(d.Port))

	quick := 0
	for i := 0; i < d.tcpTests(); i++ {
		start := time.Now()
		conn, err := d.dial()("tcp", addr, DefaultPingTimeout)
		if err == nil {
			_ = conn.Close()
		}
		if time.Since(start) < d.quickThreshold() {
			quick++
		}
	}

	if quick >= minQuickTCPResponses {
		out.TCPStackActive = true
		tally.Pass()
		return true
	}
	tally.Fail("")
	return false
}

// WaitForPort blocks until the TCP port on host accepts connections, polling
// once per second, or until ctx is done or timeout elapses. It is used to
// wait out a reboot before attempting to re-establish a session.
func WaitForPort(ctx context.Context, host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	try := func() bool {
		conn, err := net.DialTimeout("tcp", addr, DefaultSocketTimeout)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}

	// Check immediately before waiting for the ticker.
	if try() {
		return nil
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timeout waiting for %s", addr)
			}
			return ctx.Err()
		case <-ticker.C:
			if try() {
				return nil
			}
		}
	}
}
