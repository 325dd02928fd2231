// Package sshsession wraps golang.org/x/crypto/ssh with the connect/auth/
// keepalive conventions a Supervisor needs: key or password auth with
// automatic private-key-type detection, a handshake timeout, a background
// keepalive, and helpers for short diagnostic commands versus long-running
// streamed commands.
package sshsession

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/sshfleet/sshfleet/internal/domain"
	"github.com/sshfleet/sshfleet/internal/domain/sverr"
)

const (
	dialTimeout     = 15 * time.Second
	bannerTimeout   = 30 * time.Second
	keepaliveEvery  = 30 * time.Second
	keepaliveMisses = 3
)

// Session is one live SSH connection to a supervised host. It is not safe
// for concurrent Close and Start* calls from different goroutines without
// external synchronization; the Supervisor that owns it only ever touches
// it from its own control loop.
type Session struct {
	client *ssh.Client
	log    *zap.Logger

	mu        sync.Mutex
	closed    bool
	stopKeep  chan struct{}
	keepDone  chan struct{}
}

// Dial opens and authenticates an SSH connection for the given host spec.
// Auth errors (bad key, rejected credentials) are returned as
// *sverr.AuthErr, an unknown auth type as *sverr.PreconditionErr, and
// transport failures as *sverr.NetworkErr.
func Dial(ctx context.Context, spec domain.HostSpec, log *zap.Logger) (*Session, error) {
	authMethod, err := authMethodFor(spec.Auth)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            spec.Username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
		BannerCallback:  ssh.BannerDisplayStderr(),
	}

	addr := fmt.Sprintf("%s:%d", spec.Host, spec.Port)

	dialCtx, cancel := context.WithTimeout(ctx, bannerTimeout)
	defer cancel()

	var conn net.Conn
	dialErrCh := make(chan error, 1)
	go func() {
		c, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			dialErrCh <- err
			return
		}
		conn = c
		dialErrCh <- nil
	}()

	select {
	case <-dialCtx.Done():
		return nil, sverr.Network(fmt.Sprintf("dial %s: %s", addr, dialCtx.Err()))
	case err := <-dialErrCh:
		if err != nil {
			return nil, sverr.Network(fmt.Sprintf("dial %s: %s", addr, err))
		}
	}

	// Bound the SSH handshake; cleared once the connection is established.
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if isAuthFailure(err) {
			return nil, sverr.Auth(fmt.Sprintf("%s: %s", addr, err))
		}
		return nil, sverr.Network(fmt.Sprintf("%s: %s", addr, err))
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	s := &Session{
		client:   client,
		log:      log,
		stopKeep: make(chan struct{}),
		keepDone: make(chan struct{}),
	}
	go s.keepaliveLoop()
	return s, nil
}

func isAuthFailure(err error) bool {
	_, ok := err.(*ssh.ExitMissingError)
	if ok {
		return false
	}
	// x/crypto/ssh returns a plain *ssh.handshakeError or
	// "ssh: handshake failed: ssh: unable to authenticate" style errors for
	// rejected credentials; there is no exported sentinel, so match on the
	// phrase the library itself uses.
	return containsAny(err.Error(), "unable to authenticate", "no supported methods remain", "permission denied")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if bytes.Contains([]byte(s), []byte(sub)) {
			return true
		}
	}
	return false
}

func authMethodFor(a domain.Auth) (ssh.AuthMethod, error) {
	switch a.Type {
	case domain.AuthPassword:
		if a.Password == "" {
			return nil, sverr.Auth("password auth requires a password")
		}
		return ssh.Password(a.Password), nil
	case domain.AuthKey:
		return keyAuthMethod(a.KeyPath, a.Passphrase)
	default:
		return nil, sverr.Precondition(fmt.Sprintf("unknown auth type: %q", a.Type))
	}
}

// keyAuthMethod loads a private key file, auto-detecting its type the way
// an operator would: try each key algorithm in turn rather than requiring
// the caller to know which one a given file holds.
func keyAuthMethod(keyPath, passphrase string) (ssh.AuthMethod, error) {
	if keyPath == "" {
		return nil, sverr.Auth("key auth requires a key_path")
	}
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, sverr.Auth(fmt.Sprintf("private key not found: %s", keyPath))
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(raw)
	}
	if err != nil {
		return nil, sverr.Auth(fmt.Sprintf("failed to load private key: %s", err))
	}
	return ssh.PublicKeys(signer), nil
}

func (s *Session) keepaliveLoop() {
	defer close(s.keepDone)
	ticker := time.NewTicker(keepaliveEvery)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-s.stopKeep:
			return
		case <-ticker.C:
			_, _, err := s.client.SendRequest("keepalive@sshfleet", true, nil)
			if err != nil {
				misses++
				if s.log != nil {
					s.log.Warn("keepalive probe failed", zap.Int("misses", misses), zap.Error(err))
				}
				if misses >= keepaliveMisses {
					s.client.Close()
					return
				}
				continue
			}
			misses = 0
		}
	}
}

// IsConnected reports whether the underlying transport still believes the
// connection is alive. A false positive briefly after a network drop is
// expected — the next keepalive probe or command attempt surfaces it.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.client == nil {
		return false
	}
	_, _, err := s.client.SendRequest("keepalive@sshfleet", true, nil)
	return err == nil
}

// Close tears down the connection and stops the keepalive goroutine. Safe
// to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopKeep)
	<-s.keepDone
	return s.client.Close()
}

// RunResult is the outcome of a short, bounded command.
type RunResult struct {
	ExitOK bool
	Stdout string
	Stderr string
}

// RunShort executes command and waits for it to finish or ctx to expire.
// It is meant for quick diagnostic and control commands (pgrep, test -f,
// kill scripts) — not for the long-running supervised process itself.
func (s *Session) RunShort(ctx context.Context, command string) (RunResult, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return RunResult{}, sverr.Network(fmt.Sprintf("new session: %s", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return RunResult{}, sverr.Network(fmt.Sprintf("command timed out: %s", command))
	case err := <-done:
		res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			res.ExitOK = true
			return res, nil
		}
		if _, ok := err.(*ssh.ExitError); ok {
			res.ExitOK = false
			return res, nil
		}
		return res, sverr.Protocol(fmt.Sprintf("command failed: %s: %s", command, err))
	}
}

// Stream is a long-running remote command whose stdout/stderr are consumed
// line by line as the process runs.
type Stream struct {
	session *ssh.Session
	Stdout  <-chan string
	Stderr  <-chan string
	done    chan error
}

// Wait blocks until the remote command exits and returns its error, or nil
// on a zero exit status.
func (st *Stream) Wait() error {
	return <-st.done
}

// Kill sends SIGKILL to the remote command's session channel. It does not
// kill the broader process group on the remote host — callers rely on the
// host spec's stop command for that.
func (st *Stream) Kill() {
	st.session.Signal(ssh.SIGKILL)
}

// Close releases the underlying SSH channel.
func (st *Stream) Close() error {
	return st.session.Close()
}

// StartStream launches fullCommand without a pty and returns a Stream that
// delivers its stdout/stderr as they are written. The caller is
// responsible for draining both channels until they close, and for calling
// Wait/Close.
func (s *Session) StartStream(fullCommand string) (*Stream, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, sverr.Network(fmt.Sprintf("new session: %s", err))
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, sverr.Protocol(fmt.Sprintf("stdout pipe: %s", err))
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, sverr.Protocol(fmt.Sprintf("stderr pipe: %s", err))
	}

	if err := session.Start(fullCommand); err != nil {
		session.Close()
		return nil, sverr.Protocol(fmt.Sprintf("start: %s", err))
	}

	stdoutCh := make(chan string, 256)
	stderrCh := make(chan string, 256)
	doneCh := make(chan error, 1)

	go scanLines(stdoutPipe, stdoutCh)
	go scanLines(stderrPipe, stderrCh)
	go func() { doneCh <- session.Wait() }()

	return &Stream{
		session: session,
		Stdout:  stdoutCh,
		Stderr:  stderrCh,
		done:    doneCh,
	}, nil
}

// BuildFullCommand composes the login-shell invocation a supervised
// process is started with: cd into the working dir, run the pre-command
// (if any), export the host's env vars, then run command unbuffered.
func BuildFullCommand(spec domain.HostSpec) string {
	envStr := ""
	for k, v := range spec.Env {
		envStr += fmt.Sprintf("%s=%s ", k, v)
	}

	pre := ""
	if spec.PreCommand != "" {
		pre = spec.PreCommand + " && "
	}

	workDir := spec.WorkingDir
	if workDir == "" {
		workDir = "."
	}

	inner := fmt.Sprintf("cd %s && %s%sPYTHONUNBUFFERED=1 %s", workDir, pre, envStr, spec.Command)
	return fmt.Sprintf("bash -lc %s", shellQuote(inner))
}

func shellQuote(s string) string {
	return "'" + bytesReplaceAll(s, "'", `'\''`) + "'"
}

func bytesReplaceAll(s, old, new string) string {
	return string(bytes.ReplaceAll([]byte(s), []byte(old), []byte(new)))
}
