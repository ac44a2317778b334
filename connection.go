package vmconn

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/vmtools/vmconn/internal/retry"
	"github.com/vmtools/vmconn/probe"
)

// bootIDCommand reads a token that is unique per boot instance of the
// remote kernel, which makes reboots detectable by comparison.
const bootIDCommand = "cat /proc/sys/kernel/random/boot_id"

const (
	readyRetryInitialDelay = 2 * time.Second
	readyRetryMaxAttempts  = 10
)

// Connection manages one authenticated session to a remote host and layers
// resilience on top of it: deadline-bounded streaming execution, retrying
// reconnection, boot identity tracking, and liveness evaluation.
//
// A Connection is not safe for concurrent use.
type Connection struct {
	cfg       Config
	transport Transport
	log       logr.Logger

	// sleep is the inter-attempt delay used by Reconnect; tests stub it.
	sleep func(time.Duration)

	conn       Conn
	lastBootID string
	probes     *probe.Detector
}

// Option configures a Connection at construction.
type Option func(*Connection)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log logr.Logger) Option {
	return func(c *Connection) { c.log = log }
}

// WithTransport substitutes the session transport. Used by tests and by
// callers with a non-SSH execution channel.
func WithTransport(t Transport) Option {
	return func(c *Connection) { c.transport = t }
}

// New builds a Connection for the host described by cfg. Configuration is
// validated at Connect, not here.
func New(cfg Config, opts ...Option) *Connection {
	cfg.applyDefaults()
	c := &Connection{
		cfg:       cfg,
		transport: defaultTransport(),
		log:       logr.Discard(),
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.probes = probe.NewDetector(cfg.Host, cfg.Port)
	return c
}

// Connect opens the session. It fails with *ConfigError when key material
// is missing, *AuthError when the credentials are rejected, and
// *ConnectError for any other transport or network failure.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	conn, err := c.transport.Dial(ctx, &c.cfg)
	if err != nil {
		return err
	}
	c.conn = conn
	c.log.V(1).Info("session established", "host", c.cfg.Host, "port", c.cfg.Port)
	return nil
}

// Close tears down the session. It is idempotent and safe to call when no
// session is open.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether a session is currently open.
func (c *Connection) Connected() bool { return c.conn != nil }

// Reconnect tears down any existing session and re-establishes it, making
// up to retries attempts with delay between them (but not after the last).
// It never fails hard: the boolean reports whether a session is open on
// return. Fatal failures (bad credentials, bad configuration) end the loop
// early since repeating them cannot help.
func (c *Connection) Reconnect(ctx context.Context, retries int, delay time.Duration) bool {
	for attempt := 1; attempt <= retries; attempt++ {
		_ = c.Close()
		err := c.Connect(ctx)
		if err == nil {
			reconnectAttempts.WithLabelValues(c.cfg.Host, "success").Inc()
			return true
		}
		reconnectAttempts.WithLabelValues(c.cfg.Host, "failure").Inc()
		c.log.V(1).Info("reconnect attempt failed", "attempt", attempt, "retries", retries, "error", err.Error())
		if !isRetryableConnect(err) {
			return false
		}
		if attempt < retries {
			if ctx.Err() != nil {
				return false
			}
			c.sleep(delay)
		}
	}
	return false
}

// RecordBootID queries and stores the current boot identity for later
// comparison by CheckReboot. Requires an open session.
func (c *Connection) RecordBootID(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	id, err := c.bootID(ctx)
	if err != nil {
		c.log.Error(err, "failed to record boot id")
		return err
	}
	c.lastBootID = id
	c.log.V(1).Info("boot id recorded", "bootID", shortID(id))
	return nil
}

// CheckReboot re-queries the boot identity and compares it against the
// recorded one. A changed token fails with *RebootError; a matching token
// returns nil. Requires an open session and a previously recorded identity;
// any other query failure propagates unchanged.
func (c *Connection) CheckReboot(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if c.lastBootID == "" {
		return ErrBootIDNotRecorded
	}
	current, err := c.bootID(ctx)
	if err != nil {
		c.log.Error(err, "failed to check reboot status")
		return err
	}
	if current != c.lastBootID {
		c.log.Info("host reboot detected", "recorded", shortID(c.lastBootID), "current", shortID(current))
		return &RebootError{Recorded: c.lastBootID, Current: current}
	}
	return nil
}

// bootID runs the boot identity query over the raw session. Empty stdout is
// a failed query; whatever the remote said on stderr goes into the error.
func (c *Connection) bootID(_ context.Context) (string, error) {
	proc, err := c.conn.Start(bootIDCommand)
	if err != nil {
		return "", fmt.Errorf("boot id query failed: %w", err)
	}
	defer func() { _ = proc.Close() }()

	out, _ := io.ReadAll(proc.Stdout())
	errOut, _ := io.ReadAll(proc.Stderr())
	_, _ = proc.Wait()

	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", &BootIDError{Stderr: strings.TrimSpace(string(errOut))}
	}
	return id, nil
}

// WaitUntilReady blocks until the host accepts connections on the session
// port and a session has been re-established, or the timeout elapses. It is
// meant for the window after CheckReboot reports a reboot, when the host is
// expected to come back on its own.
func (c *Connection) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := probe.WaitForPort(ctx, c.cfg.Host, c.cfg.Port, timeout); err != nil {
		return fmt.Errorf("host did not come back: %w", err)
	}

	err := retry.Do(ctx, func() error {
		_ = c.Close()
		err := c.Connect(ctx)
		if err != nil && !isRetryableConnect(err) {
			return retry.Fatal(err)
		}
		return err
	},
		retry.WithMaxAttempts(readyRetryMaxAttempts),
		retry.WithInitialDelay(readyRetryInitialDelay),
	)
	if err != nil {
		return fmt.Errorf("host reachable but session could not be established: %w", err)
	}
	return nil
}
