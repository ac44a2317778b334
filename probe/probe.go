// Package probe implements session-free liveness probes for a remote host:
// ICMP reachability, TCP port behavior analysis, and TCP stack
// responsiveness. The probes operate purely at the network level so they can
// tell an unreachable host from one whose shell service is merely down.
//
// Each probe records its evidence in a shared [Tally]; [Detector.Detect]
// fuses the individual signals into an aggregate verdict using a weighted
// indicator sum.
package probe

import (
	"context"
	"net"
	"time"
)

// Probe timing defaults, tuned for hosts on a local test network.
const (
	DefaultPingCount          = 3
	DefaultPingTimeout        = 1 * time.Second
	DefaultPingProcessTimeout = 8 * time.Second

	DefaultSocketTimeout          = 2 * time.Second
	DefaultQuickResponseThreshold = 500 * time.Millisecond
	DefaultTCPTests               = 3

	minQuickRejections   = 2
	minQuickTCPResponses = 2
)

// DefaultTestPorts are the well-known ports probed in addition to the
// target's primary port during port behavior analysis.
var DefaultTestPorts = []int{22, 80, 443}

// Tally accumulates pass/fail evidence across all probes of one liveness
// evaluation. One Tally belongs to exactly one evaluation and must not be
// reused.
type Tally struct {
	Passed  int
	Failed  int
	Reasons []string
}

// Pass records a successful check.
func (t *Tally) Pass() { t.Passed++ }

// Fail records a failed check. An empty reason increments the counter
// without recording a human-readable explanation.
func (t *Tally) Fail(reason string) {
	t.Failed++
	if reason != "" {
		t.Reasons = append(t.Reasons, reason)
	}
}

// Total returns the number of checks recorded so far.
func (t *Tally) Total() int { return t.Passed + t.Failed }

// PortBehavior classifies how the host responded to TCP connect attempts.
type PortBehavior string

const (
	// PortBehaviorUnknown means port behavior analysis has not run.
	PortBehaviorUnknown PortBehavior = "unknown"
	// PortBehaviorQuickRejection means at least two ports answered (accept
	// or refuse) faster than the quick-response threshold. A live network
	// stack refuses closed ports promptly, so this is a strong OS signal.
	PortBehaviorQuickRejection PortBehavior = "quick_rejection"
	// PortBehaviorMixedResponse means at least one port produced a
	// response, but too few were quick.
	PortBehaviorMixedResponse PortBehavior = "mixed_response"
	// PortBehaviorAllTimeout means every probed port timed out.
	PortBehaviorAllTimeout PortBehavior = "all_timeout"
)

// Outcome carries the per-probe results of one network-level detection pass.
type Outcome struct {
	// NetworkResponsive is true when any positive signal was observed.
	NetworkResponsive bool
	// OSActive is true when the weighted evidence says the host's
	// operating system is still running, even if its shell service is not.
	OSActive bool

	PingResponsive  bool
	PortBehavior    PortBehavior
	TCPStackActive  bool
	ResponsePattern string
}

// DialFunc attempts one TCP connection. The production implementation is
// net.DialTimeout; tests substitute scripted behavior.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Detector runs the three network probe tiers against one host.
type Detector struct {
	Host string
	Port int

	// SocketTimeout bounds each TCP connect attempt.
	SocketTimeout time.Duration
	// QuickThreshold is the latency below which a response (accept or
	// refuse) counts as quick.
	QuickThreshold time.Duration
	// TCPTests is the number of timed connects in the stack probe.
	TCPTests int
	// TestPorts are probed alongside the primary port.
	TestPorts []int

	// Dial and Pinger are injection points; nil selects the production
	// implementations.
	Dial   DialFunc
	Pinger Pinger
}

// NewDetector returns a Detector for host with default probe settings.
func NewDetector(host string, port int) *Detector {
	return &Detector{Host: host, Port: port}
}

// Detect runs the ICMP, port behavior, and TCP stack probes, recording each
// result in tally, and fuses their signals into an Outcome.
//
// The fusion weights ping and quick port rejection at 2 and raw TCP stack
// timing at 1, so either strong signal alone establishes an active OS while
// the weak signal can only corroborate.
func (d *Detector) Detect(ctx context.Context, tally *Tally) Outcome {
	out := Outcome{
		PortBehavior:    PortBehaviorUnknown,
		ResponsePattern: "timeout",
	}

	pingOK := d.probePing(ctx, tally, &out)
	quickRejection := d.probePortBehavior(tally, &out)
	stackOK := d.probeTCPStack(tally, &out)

	indicators := 0
	if pingOK {
		indicators += 2
	}
	if quickRejection {
		indicators += 2
	}
	if stackOK {
		indicators++
	}
	out.OSActive = indicators >= 2
	out.NetworkResponsive = indicators >= 1
	return out
}

func (d *Detector) dial() DialFunc {
	if d.Dial != nil {
		return d.Dial
	}
	return net.DialTimeout
}

func (d *Detector) socketTimeout() time.Duration {
	if d.SocketTimeout > 0 {
		return d.SocketTimeout
	}
	return DefaultSocketTimeout
}

func (d *Detector) quickThreshold() time.Duration {
	if d.QuickThreshold > 0 {
		return d.QuickThreshold
	}
	return DefaultQuickResponseThreshold
}

func (d *Detector) tcpTests() int {
	if d.TCPTests > 0 {
		return d.TCPTests
	}
	return DefaultTCPTests
}

func (d *Detector) testPorts() []int {
	if d.TestPorts != nil {
		return d.TestPorts
	}
	return DefaultTestPorts
}
