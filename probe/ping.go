package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Pinger abstracts the local ICMP utility. The argument shape of the ping
// binary differs per platform, so the concrete pinger is selected once at
// construction rather than branched inside the probe.
type Pinger interface {
	// Ping probes host and returns the tool's combined output. A non-nil
	// error of type *exec.ExitError means the host did not answer; any
	// other error means the probe itself could not run.
	Ping(ctx context.Context, host string) (string, error)
}

type systemPinger struct {
	args func(host string) []string
}

// SystemPinger returns a Pinger that shells out to the platform's ping
// binary, bounded by DefaultPingProcessTimeout.
func SystemPinger() Pinger {
	if runtime.GOOS == "windows" {
		return &systemPinger{args: windowsPingArgs}
	}
	return &systemPinger{args: unixPingArgs}
}

func unixPingArgs(host string) []string {
	return []string{
		"-c", strconv.Itoa(DefaultPingCount),
		"-W", strconv.Itoa(int(DefaultPingTimeout.Seconds())),
		host,
	}
}

func windowsPingArgs(host string) []string {
	return []string{
		"-n", strconv.Itoa(DefaultPingCount),
		"-w", strconv.Itoa(int(DefaultPingTimeout.Milliseconds())),
		host,
	}
}

func (p *systemPinger) Ping(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultPingProcessTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ping", p.args(host)...).CombinedOutput()
	return string(out), err
}

func (d *Detector) pinger() Pinger {
	if d.Pinger != nil {
		return d.Pinger
	}
	return SystemPinger()
}

// probePing tests basic ICMP reachability. A TTL marker in the tool output
// indicates a normal response pattern.
func (d *Detector) probePing(ctx context.Context, tally *Tally, out *Outcome) bool {
	output, err := d.pinger().Ping(ctx, d.Host)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			tally.Fail("host not responding to ping")
		} else {
			tally.Fail(fmt.Sprintf("ping test failed: %v", err))
		}
		return false
	}

	tally.Pass()
	out.PingResponsive = true
	if strings.Contains(strings.ToLower(output), "ttl=") {
		out.ResponsePattern = "normal"
	}
	return true
}
