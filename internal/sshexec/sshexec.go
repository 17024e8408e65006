// Package sshexec is the remote command channel: it opens an authenticated
// SSH connection to a host, runs a single command or streams a script into
// `bash -s`, and returns the captured output and exit status.
//
// One connection is opened per call. Sessions are infrequent relative to
// connection setup cost and every operation happens at human timescales, so
// no pooling or multiplexing is attempted.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/antonkrylov/sshspawn/internal/creds"
)

// scriptShell is the remote command used for script execution; the script
// itself arrives on stdin so multi-statement launch logic never needs to be
// quoted through the remote command line.
const scriptShell = "bash -s"

// Endpoint identifies one remote SSH endpoint.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Result holds the output of one remote command. Transient; never persisted.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

// Channel runs commands on remote hosts. The concrete implementation is
// Dialer; tests substitute fakes.
type Channel interface {
	// Run executes command on the endpoint and returns its output.
	// A non-zero remote exit yields a populated Result and a *CommandError.
	Run(ctx context.Context, ep Endpoint, c creds.Credentials, command string) (Result, error)

	// RunScript pipes script into `bash -s` on the endpoint.
	RunScript(ctx context.Context, ep Endpoint, c creds.Credentials, script []byte) (Result, error)
}

// ConnectError reports that the channel never got a command running:
// the host was unreachable, the handshake failed, or authentication was
// rejected.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandError reports that the remote command ran and exited non-zero.
// Stderr is retained for diagnostics.
type CommandError struct {
	Command    string
	ExitStatus int
	Stderr     []byte
}

func (e *CommandError) Error() string {
	if len(e.Stderr) > 0 {
		return fmt.Sprintf("remote command %q exited %d: %s", e.Command, e.ExitStatus, bytes.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("remote command %q exited %d", e.Command, e.ExitStatus)
}

// Dialer is the SSH-backed Channel.
type Dialer struct {
	// Timeout bounds dial and handshake when the context has no deadline.
	Timeout time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

const defaultTimeout = 30 * time.Second

func (d *Dialer) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return defaultTimeout
}

func (d *Dialer) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dialer) Run(ctx context.Context, ep Endpoint, c creds.Credentials, command string) (Result, error) {
	return d.run(ctx, ep, c, command, nil)
}

func (d *Dialer) RunScript(ctx context.Context, ep Endpoint, c creds.Credentials, script []byte) (Result, error) {
	return d.run(ctx, ep, c, scriptShell, script)
}

func (d *Dialer) run(ctx context.Context, ep Endpoint, c creds.Credentials, command string, stdin []byte) (Result, error) {
	addr := ep.Addr()

	cfg, err := clientConfig(c, d.timeout())
	if err != nil {
		return Result{}, &ConnectError{Addr: addr, Err: err}
	}

	conn, err := (&net.Dialer{Timeout: d.timeout()}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, &ConnectError{Addr: addr, Err: err}
	}

	// The ssh handshake and session run have no context support of their
	// own; closing the transport unblocks both when the caller's deadline
	// expires. The remote side is NOT assumed to have stopped on timeout,
	// only the local wait is abandoned.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return Result{}, &ConnectError{Addr: addr, Err: err}
	}
	client := ssh.NewClient(cc, chans, reqs)
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return Result{}, &ConnectError{Addr: addr, Err: err}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}

	d.log().Debug("running remote command", "addr", addr, "user", c.Username, "command", command)

	runErr := sess.Run(command)
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if runErr == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitStatus = exitErr.ExitStatus()
		return res, &CommandError{Command: command, ExitStatus: res.ExitStatus, Stderr: res.Stderr}
	}
	if ctx.Err() != nil {
		runErr = ctx.Err()
	}
	return res, &ConnectError{Addr: addr, Err: runErr}
}

// clientConfig builds the ssh client config for one call. Host keys are not
// verified: pool members are operator-managed and interchangeable, matching
// the StrictHostKeyChecking=no posture this channel replaces.
func clientConfig(c creds.Credentials, timeout time.Duration) (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", c.PrivateKeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", c.PrivateKeyPath, err)
	}

	if c.CertificatePath != "" {
		certBytes, err := os.ReadFile(c.CertificatePath)
		if err != nil {
			return nil, fmt.Errorf("read certificate %s: %w", c.CertificatePath, err)
		}
		pub, _, _, _, err := ssh.ParseAuthorizedKey(certBytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate %s: %w", c.CertificatePath, err)
		}
		cert, ok := pub.(*ssh.Certificate)
		if !ok {
			return nil, fmt.Errorf("certificate %s is not an ssh certificate", c.CertificatePath)
		}
		signer, err = ssh.NewCertSigner(cert, signer)
		if err != nil {
			return nil, fmt.Errorf("certificate %s does not match key: %w", c.CertificatePath, err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}
