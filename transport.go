package vmconn

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Transport opens authenticated sessions to remote hosts. It exists so the
// resilience layer can be exercised against scripted implementations in
// tests; the production implementation is the SSH transport returned by
// defaultTransport.
//
// Dial classifies its failures: credential rejection surfaces as *AuthError,
// anything else as *ConnectError.
type Transport interface {
	Dial(ctx context.Context, cfg *Config) (Conn, error)
}

// Conn is one open, authenticated session.
type Conn interface {
	// Start launches command remotely and returns its in-flight handle.
	Start(command string) (Proc, error)
	// Alive reports whether the transport still considers the session
	// usable.
	Alive() bool
	Close() error
}

// Proc is one in-flight remote command with independent output streams.
type Proc interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the remote reports completion and returns the
	// exit code. A non-nil error means the exit status could not be
	// determined, not that the command exited nonzero.
	Wait() (int, error)
	// Close force-closes the command's channel without waiting for
	// completion. Both output streams unblock with EOF or an error.
	Close() error
}

func defaultTransport() Transport { return &sshTransport{} }

type sshTransport struct{}

func (t *sshTransport) Dial(ctx context.Context, cfg *Config) (Conn, error) {
	key := cfg.KeyData
	if len(key) == 0 {
		data, err := os.ReadFile(expandHome(cfg.KeyPath))
		if err != nil {
			return nil, &ConfigError{Reason: "failed to read private key: " + err.Error()}
		}
		key = data
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, &ConfigError{Reason: "failed to parse private key: " + err.Error()}
	}

	clientConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// Hosts under test reinstall and reboot freely; pinning host
		// keys would reject them after every reimage.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(raw, addr, clientConfig)
	if err != nil {
		_ = raw.Close()
		// x/crypto/ssh reports client-side auth rejection only through
		// the handshake error text.
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthError{Err: err}
		}
		return nil, &ConnectError{Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	return &sshSession{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

type sshSession struct {
	client *ssh.Client
}

func (s *sshSession) Start(command string) (Proc, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	if err := session.Start(command); err != nil {
		_ = session.Close()
		return nil, err
	}
	return &sshProc{session: session, stdout: stdout, stderr: stderr}, nil
}

// Alive sends a keepalive request; the SSH protocol has no cheaper way to
// ask whether the other side is still there.
func (s *sshSession) Alive() bool {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (s *sshSession) Close() error { return s.client.Close() }

func (s *sshSession) sftpClient() (*sftp.Client, error) {
	return sftp.NewClient(s.client)
}

type sshProc struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader

	closeOnce sync.Once
	closeErr  error
}

func (p *sshProc) Stdout() io.Reader { return p.stdout }

func (p *sshProc) Stderr() io.Reader { return p.stderr }

func (p *sshProc) Wait() (int, error) {
	err := p.session.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return 0, err
}

func (p *sshProc) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.session.Close() })
	return p.closeErr
}
