package vmconn

import (
	"context"
	"fmt"
	"time"

	"github.com/vmtools/vmconn/probe"
)

// Level selects how deep an IsAlive evaluation goes. Each level strictly
// includes the checks of the level below it.
type Level string

const (
	// LevelBasic runs only the session-free network probes.
	LevelBasic Level = "basic"
	// LevelMedium adds the authenticated session connectivity probe.
	LevelMedium Level = "medium"
	// LevelThorough adds system service checks and OS detection over the
	// session, when one is available.
	LevelThorough Level = "thorough"
)

const (
	// Confidence thresholds of the alive decision rule.
	aliveConfidenceThreshold   = 0.6
	sessionConfidenceThreshold = 0.7

	connectivityCheckTimeout = 5 * time.Second
	serviceCheckTimeout      = 5 * time.Second
	osDetectionTimeout       = 3 * time.Second
)

// Verdict is the fused result of one liveness evaluation.
type Verdict struct {
	// Alive is the aggregate decision: the host counts as alive when the
	// network-level evidence says its OS is active and confidence
	// exceeds 0.6, or when an authenticated session works and
	// confidence exceeds 0.7.
	Alive bool

	// Confidence is ChecksPassed over all checks performed, in [0,1].
	// It is 0.0 when no check could be performed: no evidence means not
	// alive.
	Confidence float64

	ChecksPassed int
	ChecksFailed int
	FailedChecks []string

	// SessionAvailable reports whether the authenticated connectivity
	// probe succeeded. Always false at LevelBasic.
	SessionAvailable bool
	// NetworkReachable reports any positive network-level signal.
	NetworkReachable bool
	// OSActive reports strong network-level evidence of a running OS.
	OSActive bool

	// Probe carries the detailed network probe outcome.
	Probe probe.Outcome
}

type serviceCheck struct {
	command     string
	description string
}

var mediumServiceChecks = []serviceCheck{
	{"uptime", "system uptime check"},
	{"df -h /", "disk space check"},
	{"ps aux | head -5", "process list check"},
}

var thoroughServiceChecks = []serviceCheck{
	{"free -m", "memory usage check"},
	{"who", "user session check"},
	{`systemctl is-system-running 2>/dev/null || echo "unknown"`, "system state check"},
}

var osDetectionChecks = []string{
	"cat /proc/version 2>/dev/null | head -1",
	"uname -a",
	"cat /etc/os-release 2>/dev/null | head -3",
}

// IsAlive judges whether the remote host is alive, fusing network-level and
// session-level signals into a confidence-scored verdict. It never fails:
// every probe error is folded into the verdict's tally. The network probes
// always run, so a dead session does not blind the evaluation.
func (c *Connection) IsAlive(ctx context.Context, level Level) Verdict {
	c.log.V(1).Info("starting liveness evaluation", "host", c.cfg.Host, "level", string(level))

	var tally probe.Tally
	outcome := c.probes.Detect(ctx, &tally)

	verdict := Verdict{
		Probe:            outcome,
		NetworkReachable: outcome.NetworkResponsive,
		OSActive:         outcome.OSActive,
	}

	if level == LevelMedium || level == LevelThorough {
		verdict.SessionAvailable = c.checkSessionConnectivity(ctx, &tally)

		if level == LevelThorough {
			if verdict.SessionAvailable {
				c.checkSystemServices(ctx, &tally, level)
				c.advancedOSDetection(ctx, &tally)
			} else {
				tally.Fail("system services check skipped - session unavailable")
				tally.Fail("advanced OS detection skipped - session unavailable")
			}
		}
	}

	verdict.ChecksPassed = tally.Passed
	verdict.ChecksFailed = tally.Failed
	verdict.FailedChecks = tally.Reasons

	if tally.Total() > 0 {
		verdict.Confidence = float64(tally.Passed) / float64(tally.Total())
	}
	verdict.Alive = (verdict.OSActive && verdict.Confidence > aliveConfidenceThreshold) ||
		(verdict.SessionAvailable && verdict.Confidence > sessionConfidenceThreshold)

	result := "dead"
	if verdict.Alive {
		result = "alive"
	}
	livenessEvaluations.WithLabelValues(c.cfg.Host, string(level), result).Inc()
	c.log.V(1).Info("liveness evaluation complete",
		"host", c.cfg.Host,
		"passed", verdict.ChecksPassed,
		"failed", verdict.ChecksFailed,
		"confidence", verdict.Confidence,
		"alive", verdict.Alive)
	if len(verdict.FailedChecks) > 0 {
		c.log.V(1).Info("failed checks", "reasons", verdict.FailedChecks)
	}
	return verdict
}

// checkSessionConnectivity verifies the authenticated path: an active (or
// freshly re-established) session plus one trivial command round-trip. Both
// halves contribute one tally entry each.
func (c *Connection) checkSessionConnectivity(ctx context.Context, tally *probe.Tally) bool {
	if c.conn != nil && c.conn.Alive() {
		tally.Pass()
	} else {
		_ = c.Close()
		if err := c.Connect(ctx); err != nil {
			tally.Fail(fmt.Sprintf("session connection failed: %v", err))
			return false
		}
		tally.Pass()
	}

	code, err := c.Execute(ctx, `echo "health_check"`, WithTimeout(connectivityCheckTimeout))
	switch {
	case IsCommandTimeout(err):
		tally.Fail("session command timed out")
		return false
	case err != nil:
		tally.Fail(fmt.Sprintf("session check failed: %v", err))
		return false
	case code != 0:
		tally.Fail(fmt.Sprintf("basic session command failed: exit %d", code))
		return false
	}
	tally.Pass()
	return true
}

// checkSystemServices runs a battery of read-only diagnostics over the
// session, each independently tallied. No-op without a session.
func (c *Connection) checkSystemServices(ctx context.Context, tally *probe.Tally, level Level) {
	if c.conn == nil {
		return
	}

	checks := mediumServiceChecks
	if level == LevelThorough {
		checks = append(append([]serviceCheck{}, mediumServiceChecks...), thoroughServiceChecks...)
	}

	for _, check := range checks {
		code, err := c.Execute(ctx, check.command, WithTimeout(serviceCheckTimeout))
		switch {
		case err != nil:
			tally.Fail(fmt.Sprintf("%s error: %v", check.description, err))
		case code != 0:
			tally.Fail(fmt.Sprintf("%s failed", check.description))
		default:
			tally.Pass()
		}
	}
}

// advancedOSDetection reads kernel and OS identification files. Failures
// here affect only the counts, not the reason list. No-op without a
// session.
func (c *Connection) advancedOSDetection(ctx context.Context, tally *probe.Tally) {
	if c.conn == nil {
		return
	}

	for _, command := range osDetectionChecks {
		code, err := c.Execute(ctx, command, WithTimeout(osDetectionTimeout))
		if err != nil || code != 0 {
			tally.Fail("")
			continue
		}
		tally.Pass()
	}
}
