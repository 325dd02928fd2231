// Package supervisor implements the per-host state machine: connect over
// SSH, detect or start the managed process, stream its output, sample its
// resource usage, evaluate health-check rules, and reconnect with backoff
// on failure. Exactly one Supervisor owns one host's SSH session and
// runtime state; nothing else may mutate it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/sshfleet/sshfleet/internal/domain"
	"github.com/sshfleet/sshfleet/internal/domain/sverr"
	"github.com/sshfleet/sshfleet/internal/eventbus"
	"github.com/sshfleet/sshfleet/internal/logsink"
	"github.com/sshfleet/sshfleet/internal/metricssampler"
	"github.com/sshfleet/sshfleet/internal/metricsstore"
	"github.com/sshfleet/sshfleet/internal/procdetect"
	"github.com/sshfleet/sshfleet/internal/sshsession"
)

const (
	controlTick      = 100 * time.Millisecond
	metricsPeriod    = 1 * time.Second
	externalPoll     = 2 * time.Second
	pidRefreshPeriod = 5 * time.Second
)

// cmdKind is a control operation requested from outside the Supervisor's
// own goroutine.
type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRestart
	cmdForceRestart
	cmdShutdown
)

// Deps are the collaborators a Supervisor publishes to and reads from. All
// are shared across every host's Supervisor in the fleet.
type Deps struct {
	Bus     *eventbus.Bus
	Store   *metricsstore.Store
	LogSink *logsink.Sink
	Log     *zap.Logger
}

// Supervisor drives one host's connect/run/reconnect lifecycle. Create one
// with New, then run it with Run in its own goroutine.
type Supervisor struct {
	deps Deps

	specMu sync.Mutex
	spec   domain.HostSpec

	stateMu sync.Mutex
	state   domain.HostState

	cmdCh chan cmdKind
	log   *zap.Logger

	// desired records whether the control loop should currently be trying
	// to connect and run. It is shared between Run's own select loop and
	// runManaged, which can observe a stop request mid-session and must
	// leave the host durably Stopped rather than relying on a race between
	// a re-armed timer and a re-injected command.
	desired atomic.Bool

	sampler *metricssampler.Sampler
}

// New constructs a Supervisor for spec. It does not start the control
// loop — call Run for that.
func New(spec domain.HostSpec, deps Deps) *Supervisor {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		deps:    deps,
		spec:    spec,
		state:   domain.NewHostState(spec.Name),
		cmdCh:   make(chan cmdKind, 4),
		log:     log.Named("supervisor").With(zap.String("host", spec.Name)),
		sampler: metricssampler.New(),
	}
}

// Spec returns a copy of the host spec currently in effect.
func (sv *Supervisor) Spec() domain.HostSpec {
	sv.specMu.Lock()
	defer sv.specMu.Unlock()
	return sv.spec
}

// UpdateSpec replaces the host spec. Changes to connection or command
// fields take effect on the next (re)connect, not mid-session — matching
// how the original operator tooling required a restart to pick up edits.
func (sv *Supervisor) UpdateSpec(spec domain.HostSpec) {
	sv.specMu.Lock()
	sv.spec = spec
	sv.specMu.Unlock()
}

// State returns a snapshot of the current runtime state.
func (sv *Supervisor) State() domain.HostState {
	sv.stateMu.Lock()
	defer sv.stateMu.Unlock()
	return sv.state.Snapshot()
}

func (sv *Supervisor) setState(mutate func(*domain.HostState)) {
	sv.stateMu.Lock()
	mutate(&sv.state)
	snap := sv.state.Snapshot()
	sv.stateMu.Unlock()

	sv.deps.Bus.Publish(domain.StateChangedEvent(snap))
}

// Start requests the Supervisor attempt to connect and run, if it is
// currently disabled/stopped. Non-blocking.
func (sv *Supervisor) Start() { sv.sendCmd(cmdStart) }

// Stop requests the Supervisor tear down its session and stay Stopped
// until Start, Restart, or ForceRestart is called again. Idempotent:
// calling Stop twice in a row produces no extra state changes.
func (sv *Supervisor) Stop() { sv.sendCmd(cmdStop) }

// Restart requests a normal stop-then-start cycle.
func (sv *Supervisor) Restart() { sv.sendCmd(cmdRestart) }

// ForceRestart requests the managed process be killed and restarted even
// though it is currently healthy by every other measure — used by the
// health-check evaluator and by explicit operator request.
func (sv *Supervisor) ForceRestart() { sv.sendCmd(cmdForceRestart) }

// Shutdown asks the control loop to exit permanently; used when a host is
// deleted from the fleet. Like the other control operations it only
// queues the request: it returns before Run's goroutine exits, and a cycle
// already in progress can still publish events for this host.
func (sv *Supervisor) Shutdown() { sv.sendCmd(cmdShutdown) }

func (sv *Supervisor) sendCmd(k cmdKind) {
	select {
	case sv.cmdCh <- k:
	default:
		// Channel full: a command is already pending. The latest intent
		// wins on the next loop iteration regardless, so dropping a
		// duplicate is safe.
	}
}

// Run executes the control loop until ctx is cancelled or Shutdown is
// called. It should be launched in its own goroutine by the Fleet
// Manager.
func (sv *Supervisor) Run(ctx context.Context) {
	sv.desired.Store(sv.spec.Enabled)

	timer := time.NewTimer(0)
	if !sv.desired.Load() {
		stopTimer(timer)
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-sv.cmdCh:
			switch cmd {
			case cmdShutdown:
				return
			case cmdStop:
				sv.desired.Store(false)
				sv.transitionToStopped("stopped by request")
				stopTimer(timer)
			case cmdStart, cmdRestart, cmdForceRestart:
				sv.desired.Store(true)
				resetTimer(timer, 0)
			}

		case <-timer.C:
			if !sv.desired.Load() {
				continue
			}
			delay := sv.runOnce(ctx)
			if ctx.Err() != nil {
				return
			}
			resetTimer(timer, delay)
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func (sv *Supervisor) transitionToStopped(reason string) {
	sv.setState(func(s *domain.HostState) {
		if s.Status == domain.Stopped {
			return
		}
		s.Status = domain.Stopped
		s.ClearRunningFields()
		s.LastError = reason
	})
}

// runOnce performs one full connect→run→disconnect cycle and returns how
// long to wait before the next attempt.
func (sv *Supervisor) runOnce(ctx context.Context) time.Duration {
	spec := sv.Spec()

	sv.setState(func(s *domain.HostState) { s.Status = domain.Connecting })

	session, err := sshsession.Dial(ctx, spec, sv.log)
	if err != nil {
		return sv.handleConnectError(err)
	}
	defer session.Close()

	sv.sampler.ResetBaseline(spec.Name)

	match, err := procdetect.Detect(ctx, session, spec.ProcessMatchRegex)
	if err != nil {
		sv.log.Warn("process detection failed", zap.Error(err))
	}
	if match != nil {
		return sv.runExternal(ctx, session, spec, match.PID)
	}

	return sv.runManaged(ctx, session, spec)
}

func (sv *Supervisor) handleConnectError(err error) time.Duration {
	switch e := err.(type) {
	case *sverr.PreconditionErr:
		sv.setState(func(s *domain.HostState) {
			s.Status = domain.Error
			s.ClearRunningFields()
			s.LastError = e.Error()
		})
		// Non-retryable: wait for an explicit Start.
		sv.desired.Store(false)
		return backoffFor(sv) // no change, but still need to wait before re-evaluating cmd channel
	default:
		backoff := sv.currentBackoff()
		sv.setState(func(s *domain.HostState) {
			s.Status = domain.Disconnected
			s.ClearRunningFields()
			s.LastError = err.Error()
			s.IncreaseBackoff()
		})
		return time.Duration(backoff) * time.Second
	}
}

func (sv *Supervisor) currentBackoff() int {
	sv.stateMu.Lock()
	defer sv.stateMu.Unlock()
	return sv.state.BackoffS
}

// backoffFor returns the wait for a non-retryable PreconditionError: the
// loop still needs a duration so it does not spin, but the backoff value
// in HostState is left untouched per the error taxonomy.
func backoffFor(sv *Supervisor) time.Duration {
	return time.Duration(domain.MaxBackoffSeconds) * time.Second
}

// runExternal handles the case where the managed process is already
// running under someone else's supervision when we connect. We adopt it
// (status External) and poll until it disappears, then fall through to
// starting our own instance.
func (sv *Supervisor) runExternal(ctx context.Context, session *sshsession.Session, spec domain.HostSpec, pid int) time.Duration {
	sv.setState(func(s *domain.HostState) {
		s.Status = domain.External
		s.PID = domain.IntPtr(pid)
		s.ResetBackoff()
	})

	ticker := time.NewTicker(externalPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0
		case cmd := <-sv.cmdCh:
			if cmd == cmdShutdown || cmd == cmdStop {
				sv.cmdCh <- cmd // let Run's main loop observe and act
				return 0
			}
		case <-ticker.C:
			if !session.IsConnected() {
				sv.setState(func(s *domain.HostState) {
					s.Status = domain.Disconnected
					s.ClearRunningFields()
					s.LastError = "connection lost while external process was running"
				})
				return time.Duration(sv.currentBackoff()) * time.Second
			}
			match, err := procdetect.Detect(ctx, session, spec.ProcessMatchRegex)
			if err != nil {
				continue
			}
			if match == nil {
				sv.setState(func(s *domain.HostState) {
					s.Status = domain.Stopped
					s.ClearRunningFields()
					s.LastError = "External process ended"
				})
				return time.Duration(spec.RestartDelaySeconds) * time.Second
			}
		}
	}
}

// runManaged starts our own instance of the command and supervises it
// until it exits, is force-restarted by a health check, or the session
// itself fails.
func (sv *Supervisor) runManaged(ctx context.Context, session *sshsession.Session, spec domain.HostSpec) time.Duration {
	if scriptPath, ok := scriptPathFromCommand(spec.Command, spec.WorkingDir); ok {
		if !session.VerifyScriptExists(ctx, scriptPath) {
			err := sverr.Precondition(fmt.Sprintf("script not found: %s", scriptPath))
			sv.setState(func(s *domain.HostState) {
				s.Status = domain.Error
				s.ClearRunningFields()
				s.LastError = err.Error()
			})
			sv.desired.Store(false) // non-retryable: wait for an explicit Start
			return time.Duration(spec.RestartDelaySeconds) * time.Second
		}
	}

	fullCmd := sshsession.BuildFullCommand(spec)
	stream, err := session.StartStream(fullCmd)
	if err != nil {
		sv.setState(func(s *domain.HostState) {
			s.Status = domain.Error
			s.ClearRunningFields()
			s.LastError = err.Error()
		})
		return time.Duration(spec.RestartDelaySeconds) * time.Second
	}

	pid := sv.resolveStartedPID(ctx, session, spec)
	startedAt := time.Now()

	sv.setState(func(s *domain.HostState) {
		s.Status = domain.Running
		s.PID = domain.IntPtr(pid)
		s.RestartsCount++
		now := time.Now()
		s.LastRestartTime = &now
		s.ResetBackoff()
		s.LastError = ""
	})

	health := newHealthEvaluator(spec.HealthCheck)
	metricsTicker := time.NewTicker(metricsPeriod)
	defer metricsTicker.Stop()
	pidRefresh := time.NewTicker(pidRefreshPeriod)
	defer pidRefresh.Stop()

	exitCh := waitCh(stream)

	for {
		select {
		case <-ctx.Done():
			stream.Kill()
			stream.Close()
			return 0

		case cmd := <-sv.cmdCh:
			switch cmd {
			case cmdShutdown:
				stream.Kill()
				stream.Close()
				sv.cmdCh <- cmd
				return 0
			case cmdStop:
				sv.runStopCommand(ctx, session, spec)
				stream.Kill()
				stream.Close()
				sv.desired.Store(false)
				sv.transitionToStopped("stopped by request")
				return 0
			case cmdRestart, cmdForceRestart:
				sv.runStopCommand(ctx, session, spec)
				stream.Kill()
				stream.Close()
				sv.setState(func(s *domain.HostState) {
					s.Status = domain.Error
					s.ClearRunningFields()
					s.LastError = "restart requested"
				})
				return time.Duration(spec.RestartDelaySeconds) * time.Second
			}

		case line, ok := <-stream.Stdout:
			if !ok {
				stream.Stdout = nil
				continue
			}
			sv.publishLog(spec.Name, line, domain.StreamStdout)

		case line, ok := <-stream.Stderr:
			if !ok {
				stream.Stderr = nil
				continue
			}
			sv.publishLog(spec.Name, line, domain.StreamStderr)

		case <-metricsTicker.C:
			sample := sv.sampler.Sample(ctx, session, spec.Name)
			sv.deps.Bus.Publish(domain.MetricsEvent(sample))
			if sv.deps.Store != nil {
				if err := sv.deps.Store.Insert(ctx, sample); err != nil {
					sv.log.Warn("metrics store insert failed", zap.Error(err))
				}
			}
			sv.setState(func(s *domain.HostState) {
				s.UptimeS = int(time.Since(startedAt).Seconds())
			})
			if reason, fail := health.observe(sample, time.Now()); fail {
				sv.log.Info("health check triggered force restart", zap.String("reason", reason))
				stream.Kill()
				stream.Close()
				sv.setState(func(s *domain.HostState) {
					s.Status = domain.Error
					s.ClearRunningFields()
					s.LastError = reason
				})
				return time.Duration(spec.RestartDelaySeconds) * time.Second
			}

		case <-pidRefresh.C:
			if sv.State().PID == nil {
				if match, err := procdetect.Detect(ctx, session, spec.ProcessMatchRegex); err == nil && match != nil {
					sv.log.Info("captured PID via retry", zap.Int("pid", match.PID))
					sv.setState(func(s *domain.HostState) { s.PID = domain.IntPtr(match.PID) })
				}
			}

		case waitErr := <-exitCh:
			return sv.handleExit(waitErr, spec)
		}
	}
}

// scriptPathFromCommand returns the path to verify before launching spec's
// command: the last whitespace-separated token, when it looks like a Python
// script. A relative path is resolved against workingDir, matching how the
// command itself is launched from that directory.
func scriptPathFromCommand(command, workingDir string) (string, bool) {
	fields := strings.Fields(command)
	if len(fields) < 2 {
		return "", false
	}
	last := fields[len(fields)-1]
	if !strings.HasSuffix(last, ".py") {
		return "", false
	}
	if strings.HasPrefix(last, "/") {
		return last, true
	}
	dir := workingDir
	if dir == "" {
		dir = "."
	}
	return dir + "/" + last, true
}

func (sv *Supervisor) resolveStartedPID(ctx context.Context, session *sshsession.Session, spec domain.HostSpec) int {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		match, err := procdetect.Detect(ctx, session, spec.ProcessMatchRegex)
		if err == nil && match != nil {
			return match.PID
		}
		time.Sleep(200 * time.Millisecond)
	}
	return 0
}

func (sv *Supervisor) runStopCommand(ctx context.Context, session *sshsession.Session, spec domain.HostSpec) {
	if spec.StopCommand == "" {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := session.RunShort(stopCtx, spec.StopCommand); err != nil {
		sv.log.Warn("stop command failed", zap.Error(err))
	}
}

func (sv *Supervisor) handleExit(err error, spec domain.HostSpec) time.Duration {
	if code, ok := exitCodeOf(err); ok {
		msg := fmt.Sprintf("Exited with code %d", code)
		if code == 0 {
			sv.transitionToStopped(msg)
		} else {
			sv.setState(func(s *domain.HostState) {
				s.Status = domain.Error
				s.ClearRunningFields()
				s.LastError = msg
			})
		}
		return time.Duration(spec.RestartDelaySeconds) * time.Second
	}

	sv.setState(func(s *domain.HostState) {
		s.Status = domain.Error
		s.ClearRunningFields()
		s.LastError = fmt.Sprintf("exited with error: %s", err)
	})
	return time.Duration(spec.RestartDelaySeconds) * time.Second
}

// exitCodeOf reports the remote process's exit status, when err is the
// sentinel that golang.org/x/crypto/ssh's Session.Wait returns for a
// command that ran to completion: nil for status 0, *ssh.ExitError for
// anything else. Any other error (a dropped connection, a signal) reports
// ok=false so the caller falls back to a generic message.
func exitCodeOf(err error) (int, bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	return 0, false
}

func (sv *Supervisor) publishLog(hostName, line string, stream domain.LogStream) {
	evt := domain.LogLineEvent(hostName, line, stream)
	sv.deps.Bus.Publish(evt)
	if sv.deps.LogSink != nil {
		sv.deps.LogSink.WriteLogLine(*evt.Log)
	}
}

// waitCh adapts Stream.Wait (a blocking call) into a channel usable inside
// a select. Callers must invoke this exactly once per stream and reuse the
// returned channel across select iterations — calling it again would race
// a second reader against the same underlying one-shot done signal.
func waitCh(stream *sshsession.Stream) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- stream.Wait() }()
	return ch
}
