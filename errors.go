package vmconn

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned by operations that require an open session
// when none exists. The caller must Connect first.
var ErrNotConnected = errors.New("not connected to host")

// ErrBootIDNotRecorded is returned by CheckReboot when no boot identity has
// been recorded with RecordBootID.
var ErrBootIDNotRecorded = errors.New("boot id not recorded")

// ConfigError reports invalid or missing configuration. It is fatal: the
// caller must fix the configuration, retrying cannot help.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "invalid configuration: " + e.Reason }

// AuthError wraps a credential rejection from the transport. It is fatal
// for the configured credentials and is never retried internally.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectError wraps a non-authentication failure to reach the host. This
// is the retryable class that Reconnect recovers from.
type ConnectError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandTimeoutError reports that a command did not signal completion
// before its deadline. The command's output handle has been force-closed;
// the session itself remains open and the command may be retried.
type CommandTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// RebootError signals that the remote boot identity changed between
// RecordBootID and CheckReboot. It carries both tokens so callers can log
// the transition.
type RebootError struct {
	Recorded string
	Current  string
}

func (e *RebootError) Error() string {
	return fmt.Sprintf("host reboot detected: boot id changed from %s to %s",
		shortID(e.Recorded), shortID(e.Current))
}

// BootIDError reports a boot identity query that produced no output,
// carrying whatever the remote wrote to stderr.
type BootIDError struct {
	Stderr string
}

func (e *BootIDError) Error() string {
	if e.Stderr == "" {
		return "failed to get boot id: empty output"
	}
	return "failed to get boot id: " + e.Stderr
}

// IsReboot reports whether err signals a detected reboot.
func IsReboot(err error) bool {
	var rebootErr *RebootError
	return errors.As(err, &rebootErr)
}

// IsCommandTimeout reports whether err is a command deadline expiry.
func IsCommandTimeout(err error) bool {
	var timeoutErr *CommandTimeoutError
	return errors.As(err, &timeoutErr)
}

// isRetryableConnect reports whether err is a connection-class failure that
// another attempt might fix.
func isRetryableConnect(err error) bool {
	var connectErr *ConnectError
	return errors.As(err, &connectErr)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
