package vmconn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	// pollInterval caps each wait inside the execution loop so the exit
	// status is rechecked at least once per second even without a
	// deadline.
	pollInterval = 1 * time.Second

	// drainTimeout bounds how long the engine collects buffered output
	// after the remote reports completion. Output still in flight after
	// this is dropped, not an error.
	drainTimeout = 2 * time.Second

	stderrPrefix = "STDERR: "

	lineBufferSize = 64
	maxLineLength  = 1024 * 1024
)

// ExecOption configures one Execute call.
type ExecOption func(*execSettings)

type execSettings struct {
	timeout time.Duration
	onLine  func(string)
}

// WithTimeout sets a hard wall-clock deadline for the command. When it
// elapses before the remote signals completion, Execute force-closes the
// command's output handle and returns a *CommandTimeoutError. The deadline
// is honored with roughly one-second granularity.
func WithTimeout(d time.Duration) ExecOption {
	return func(s *execSettings) { s.timeout = d }
}

// WithOutputFunc registers a per-line sink. It is invoked synchronously
// within Execute, once per produced line with the trailing newline
// stripped, in arrival order per stream; stderr lines carry a "STDERR: "
// prefix. Absence of a sink simply discards output.
func WithOutputFunc(fn func(line string)) ExecOption {
	return func(s *execSettings) { s.onLine = fn }
}

// Execute runs command on the open session, streaming its output, and
// returns the remote exit code. It fails with ErrNotConnected when no
// session is open and *CommandTimeoutError when the deadline elapses first.
//
// At most one Execute may be in flight per Connection; the session's
// request/response model is inherently serialized.
func (c *Connection) Execute(ctx context.Context, command string, opts ...ExecOption) (int, error) {
	if c.conn == nil {
		return 0, ErrNotConnected
	}

	var settings execSettings
	for _, opt := range opts {
		opt(&settings)
	}

	start := time.Now()
	code, err := runCommand(ctx, c.conn, command, settings)
	commandDuration.WithLabelValues(c.cfg.Host).Observe(time.Since(start).Seconds())
	if IsCommandTimeout(err) {
		commandTimeouts.WithLabelValues(c.cfg.Host).Inc()
		c.log.V(1).Info("command timed out", "command", command, "timeout", settings.timeout)
	}
	return code, err
}

type taggedLine struct {
	text   string
	stderr bool
}

type waitResult struct {
	code int
	err  error
}

// runCommand drives one command to completion: both output streams are
// pumped line-wise into a shared channel while the consumer loop multiplexes
// lines, the exit status, and the deadline.
func runCommand(ctx context.Context, conn Conn, command string, settings execSettings) (int, error) {
	proc, err := conn.Start(command)
	if err != nil {
		return 0, fmt.Errorf("failed to start command %q: %w", command, err)
	}

	lines := make(chan taggedLine, lineBufferSize)
	var pumps sync.WaitGroup
	pumps.Add(2)
	go pumpLines(proc.Stdout(), false, lines, &pumps)
	go pumpLines(proc.Stderr(), true, lines, &pumps)
	go func() {
		pumps.Wait()
		close(lines)
	}()

	done := make(chan waitResult, 1)
	go func() {
		code, waitErr := proc.Wait()
		done <- waitResult{code: code, err: waitErr}
	}()

	emit := func(line taggedLine) {
		if settings.onLine == nil {
			return
		}
		if line.stderr {
			settings.onLine(stderrPrefix + line.text)
		} else {
			settings.onLine(line.text)
		}
	}

	start := time.Now()
	for {
		wait := pollInterval
		if settings.timeout > 0 {
			remaining := settings.timeout - time.Since(start)
			if remaining <= 0 {
				_ = proc.Close()
				go discardLines(lines)
				return 0, &CommandTimeoutError{Command: command, Timeout: settings.timeout}
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case line, ok := <-lines:
			timer.Stop()
			if !ok {
				// Both streams hit EOF; only the exit status is
				// still pending.
				lines = nil
				continue
			}
			emit(line)
		case result := <-done:
			timer.Stop()
			drainLines(lines, emit)
			_ = proc.Close()
			if result.err != nil {
				return 0, fmt.Errorf("command %q finished without exit status: %w", command, result.err)
			}
			return result.code, nil
		case <-ctx.Done():
			timer.Stop()
			_ = proc.Close()
			go discardLines(lines)
			return 0, ctx.Err()
		case <-timer.C:
			// Loop re-checks the deadline.
		}
	}
}

// pumpLines forwards r line by line. Read errors are swallowed: output is
// best-effort, the exit status decides success.
func pumpLines(r io.Reader, stderr bool, out chan<- taggedLine, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		out <- taggedLine{text: scanner.Text(), stderr: stderr}
	}
}

// drainLines forwards whatever output is still buffered after the remote
// reported completion. Output not collected within drainTimeout is lost
// silently.
func drainLines(lines <-chan taggedLine, emit func(taggedLine)) {
	if lines == nil {
		return
	}
	deadline := time.After(drainTimeout)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			emit(line)
		case <-deadline:
			go discardLines(lines)
			return
		}
	}
}

// discardLines unblocks the pump goroutines of an abandoned command.
func discardLines(lines <-chan taggedLine) {
	if lines == nil {
		return
	}
	for range lines {
	}
}
