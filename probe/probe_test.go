package probe

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	output string
	err    error
}

func (p *fakePinger) Ping(_ context.Context, _ string) (string, error) {
	return p.output, p.err
}

// exitError produces a genuine *exec.ExitError for the ping-unanswered path.
func exitError(t *testing.T) error {
	t.Helper()
	err := exec.Command("false").Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Skipf("could not produce exec.ExitError: %v", err)
	}
	return err
}

type dialBehavior struct {
	connect bool
	latency time.Duration
}

// scriptedDial returns a DialFunc with uniform behavior for every address.
func scriptedDial(b dialBehavior) DialFunc {
	return func(_, _ string, _ time.Duration) (net.Conn, error) {
		if b.latency > 0 {
			time.Sleep(b.latency)
		}
		if b.connect {
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		}
		return nil, errors.New("connection refused")
	}
}

func testDetector(dial DialFunc, pinger Pinger) *Detector {
	return &Detector{
		Host:           "192.0.2.10",
		Port:           22,
		QuickThreshold: 20 * time.Millisecond,
		SocketTimeout:  50 * time.Millisecond,
		Dial:           dial,
		Pinger:         pinger,
	}
}

func TestDetect_AllSignalsPositive(t *testing.T) {
	t.Parallel()
	d := testDetector(scriptedDial(dialBehavior{connect: false}), &fakePinger{output: "64 bytes: ttl=64 time=0.3 ms"})

	var tally Tally
	out := d.Detect(context.Background(), &tally)

	assert.True(t, out.PingResponsive)
	assert.Equal(t, PortBehaviorQuickRejection, out.PortBehavior)
	assert.True(t, out.TCPStackActive)
	assert.Equal(t, "normal", out.ResponsePattern)
	assert.True(t, out.OSActive)
	assert.True(t, out.NetworkResponsive)
	assert.Equal(t, 3, tally.Passed)
	assert.Equal(t, 0, tally.Failed)
}

func TestDetect_PingAloneEstablishesOSActive(t *testing.T) {
	t.Parallel()
	// Every connect attempt times out, only ping answers.
	slow := scriptedDial(dialBehavior{connect: false, latency: 30 * time.Millisecond})
	d := testDetector(slow, &fakePinger{output: "64 bytes: ttl=64"})

	var tally Tally
	out := d.Detect(context.Background(), &tally)

	assert.True(t, out.OSActive, "ping alone should be sufficient")
	assert.Equal(t, PortBehaviorAllTimeout, out.PortBehavior)
	assert.False(t, out.TCPStackActive)
}

func TestDetect_QuickRejectionSustainsOSActiveWithoutPing(t *testing.T) {
	t.Parallel()
	// Uniform fast refusals trip both the port probe and the stack probe.
	d := testDetector(scriptedDial(dialBehavior{connect: false}), &fakePinger{err: errors.New("no ping binary")})

	var tally Tally
	out := d.Detect(context.Background(), &tally)

	// quick_rejection (2) + tcp stack (1) = 3 >= 2.
	assert.True(t, out.OSActive)
	assert.False(t, out.PingResponsive)
	assert.Equal(t, 2, tally.Passed)
	assert.Equal(t, 1, tally.Failed)
}

func TestDetect_AllProbesFail(t *testing.T) {
	t.Parallel()
	slow := scriptedDial(dialBehavior{connect: false, latency: 30 * time.Millisecond})
	d := testDetector(slow, &fakePinger{err: errors.New("ping unavailable")})

	var tally Tally
	out := d.Detect(context.Background(), &tally)

	assert.False(t, out.OSActive)
	assert.False(t, out.NetworkResponsive)
	assert.Equal(t, 0, tally.Passed)
	assert.Equal(t, 3, tally.Failed)
	assert.Contains(t, tally.Reasons, "ping test failed: ping unavailable")
	assert.Contains(t, tally.Reasons, "all ports timed out - likely host shutdown")
}

func TestProbePing_HostNotAnswering(t *testing.T) {
	t.Parallel()
	d := testDetector(nil, &fakePinger{output: "100% packet loss", err: exitError(t)})

	var tally Tally
	var out Outcome
	ok := d.probePing(context.Background(), &tally, &out)

	assert.False(t, ok)
	assert.False(t, out.PingResponsive)
	assert.Equal(t, []string{"host not responding to ping"}, tally.Reasons)
}

func TestProbePing_TTLMarkerSetsNormalPattern(t *testing.T) {
	t.Parallel()
	d := testDetector(nil, &fakePinger{output: "64 bytes from 192.0.2.10: TTL=63"})

	var tally Tally
	out := Outcome{ResponsePattern: "timeout"}
	ok := d.probePing(context.Background(), &tally, &out)

	assert.True(t, ok)
	assert.Equal(t, "normal", out.ResponsePattern)
	assert.Equal(t, 1, tally.Passed)
}

func TestProbePortBehavior_MixedResponse(t *testing.T) {
	t.Parallel()
	// One port connects slowly, everything else times out: a response
	// exists but nothing is quick.
	calls := 0
	dial := func(_, _ string, _ time.Duration) (net.Conn, error) {
		calls++
		time.Sleep(30 * time.Millisecond)
		if calls == 1 {
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		}
		return nil, errors.New("timeout")
	}
	d := testDetector(dial, nil)

	var tally Tally
	var out Outcome
	ok := d.probePortBehavior(&tally, &out)

	assert.False(t, ok)
	assert.Equal(t, PortBehaviorMixedResponse, out.PortBehavior)
	assert.Equal(t, 1, tally.Passed)
}

func TestProbePortBehavior_QuickConnectsCount(t *testing.T) {
	t.Parallel()
	d := testDetector(scriptedDial(dialBehavior{connect: true}), nil)

	var tally Tally
	var out Outcome
	ok := d.probePortBehavior(&tally, &out)

	assert.True(t, ok, "immediate accepts count toward quick rejection")
	assert.Equal(t, PortBehaviorQuickRejection, out.PortBehavior)
}

func TestProbeTCPStack_SilentFailure(t *testing.T) {
	t.Parallel()
	slow := scriptedDial(dialBehavior{connect: false, latency: 30 * time.Millisecond})
	d := testDetector(slow, nil)

	var tally Tally
	var out Outcome
	ok := d.probeTCPStack(&tally, &out)

	assert.False(t, ok)
	assert.False(t, out.TCPStackActive)
	assert.Equal(t, 1, tally.Failed)
	assert.Empty(t, tally.Reasons, "sub-threshold stack timing records no reason")
}

func TestTally(t *testing.T) {
	t.Parallel()
	var tally Tally
	tally.Pass()
	tally.Pass()
	tally.Fail("one")
	tally.Fail("")
	tally.Fail("two")

	assert.Equal(t, 2, tally.Passed)
	assert.Equal(t, 3, tally.Failed)
	assert.Equal(t, 5, tally.Total())
	assert.Equal(t, []string{"one", "two"}, tally.Reasons)
}

func TestSystemPingerArgs(t *testing.T) {
	t.Parallel()
	args := unixPingArgs("192.0.2.10")
	assert.Equal(t, []string{"-c", "3", "-W", "1", "192.0.2.10"}, args)

	args = windowsPingArgs("192.0.2.10")
	assert.Equal(t, []string{"-n", "3", "-w", "1000", "192.0.2.10"}, args)
}
