package vmconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// fakeProc is a scripted Proc. Output comes from plain readers; the exit
// status becomes available after waitDelay.
type fakeProc struct {
	stdout    io.Reader
	stderr    io.Reader
	exitCode  int
	waitErr   error
	waitDelay time.Duration

	mu         sync.Mutex
	closeCount int
	closed     chan struct{}
}

func newFakeProc(stdout, stderr string, exitCode int) *fakeProc {
	return &fakeProc{
		stdout:   strings.NewReader(stdout),
		stderr:   strings.NewReader(stderr),
		exitCode: exitCode,
		closed:   make(chan struct{}),
	}
}

func (p *fakeProc) Stdout() io.Reader { return p.stdout }

func (p *fakeProc) Stderr() io.Reader { return p.stderr }

func (p *fakeProc) Wait() (int, error) {
	if p.waitDelay == 0 {
		return p.exitCode, p.waitErr
	}
	select {
	case <-time.After(p.waitDelay):
		return p.exitCode, p.waitErr
	case <-p.closed:
		return 0, errors.New("session closed before exit")
	}
}

func (p *fakeProc) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCount++
	if p.closeCount == 1 {
		close(p.closed)
	}
	return nil
}

func (p *fakeProc) closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

// timedLines returns a reader that emits one line per interval.
func timedLines(lines []string, interval time.Duration) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		for _, line := range lines {
			time.Sleep(interval)
			fmt.Fprintln(pw, line)
		}
		_ = pw.Close()
	}()
	return pr
}

// fakeConn is a scripted Conn. startFn decides what each command does;
// without one every command succeeds silently.
type fakeConn struct {
	alive   bool
	startFn func(command string) (Proc, error)

	started    []string
	closeCount int
}

func (c *fakeConn) Start(command string) (Proc, error) {
	c.started = append(c.started, command)
	if c.startFn != nil {
		return c.startFn(command)
	}
	return newFakeProc("", "", 0), nil
}

func (c *fakeConn) Alive() bool { return c.alive }

func (c *fakeConn) Close() error {
	c.closeCount++
	return nil
}

// exitMap builds a startFn that scripts exit codes per command; unknown
// commands exit zero.
func exitMap(codes map[string]int) func(command string) (Proc, error) {
	return func(command string) (Proc, error) {
		return newFakeProc("", "", codes[command]), nil
	}
}

// fakeTransport is a scripted Transport.
type fakeTransport struct {
	dialFn func(ctx context.Context, cfg *Config) (Conn, error)
	dials  int
}

func (t *fakeTransport) Dial(ctx context.Context, cfg *Config) (Conn, error) {
	t.dials++
	if t.dialFn != nil {
		return t.dialFn(ctx, cfg)
	}
	return &fakeConn{alive: true}, nil
}

func testConfig() Config {
	return Config{Host: "192.0.2.10", User: "tester", KeyData: []byte("test-key")}
}

// connected returns a Connection with an already-open scripted session.
func connected(conn Conn, transport Transport) *Connection {
	if transport == nil {
		transport = &fakeTransport{}
	}
	c := New(testConfig(), WithTransport(transport))
	c.conn = conn
	return c
}
