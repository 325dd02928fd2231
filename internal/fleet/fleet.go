// Package fleet owns the set of supervised hosts: the configuration list,
// one Supervisor per entry, and the fan-out operations an operator
// or the HTTP control API performs against the whole fleet at once.
package fleet

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sshfleet/sshfleet/internal/config"
	"github.com/sshfleet/sshfleet/internal/domain"
	"github.com/sshfleet/sshfleet/internal/domain/sverr"
	"github.com/sshfleet/sshfleet/internal/eventbus"
	"github.com/sshfleet/sshfleet/internal/logsink"
	"github.com/sshfleet/sshfleet/internal/metricsstore"
	"github.com/sshfleet/sshfleet/internal/sshsession"
	"github.com/sshfleet/sshfleet/internal/supervisor"
)

// Manager owns every Supervisor in the fleet plus the config file they
// were loaded from. All exported methods are safe for concurrent use.
type Manager struct {
	configPath string
	deps       supervisor.Deps
	log        *zap.Logger

	connLimiter *connLimiter

	mu          sync.Mutex
	supervisors map[string]*supervisor.Supervisor
	cancels     map[string]context.CancelFunc
}

// New loads configPath and creates (but does not start) one Supervisor per
// host entry.
func New(configPath string, bus *eventbus.Bus, store *metricsstore.Store, sink *logsink.Sink, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		configPath: configPath,
		deps: supervisor.Deps{
			Bus:     bus,
			Store:   store,
			LogSink: sink,
			Log:     log,
		},
		log:         log.Named("fleet"),
		connLimiter: newConnLimiter(8),
		supervisors: make(map[string]*supervisor.Supervisor),
		cancels:     make(map[string]context.CancelFunc),
	}

	file, err := config.Load(configPath, log)
	if err != nil {
		return nil, err
	}
	for _, spec := range file.Servers {
		m.addLocked(spec)
	}
	return m, nil
}

// StartAll launches the control loop for every Supervisor currently in the
// fleet that is not already running one, and asks those whose spec is
// enabled to start; the loops of disabled hosts stay idle.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, sv := range m.supervisors {
		if _, running := m.cancels[name]; running {
			continue
		}
		m.runLocked(ctx, name, sv)
	}
}

// runLocked must be called with mu held.
func (m *Manager) runLocked(ctx context.Context, name string, sv *supervisor.Supervisor) {
	// The loop outlives the call that launched it (often an HTTP request);
	// it ends through the stored cancel, on Delete or Shutdown.
	svCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancels[name] = cancel
	go sv.Run(svCtx)
	if sv.Spec().Enabled {
		sv.Start()
	}
}

// List returns a snapshot of every host's spec and current runtime state.
type HostView struct {
	Spec  domain.HostSpec
	State domain.HostState
}

func (m *Manager) List() []HostView {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]HostView, 0, len(m.supervisors))
	for _, sv := range m.supervisors {
		out = append(out, HostView{Spec: sv.Spec(), State: sv.State()})
	}
	return out
}

// Get returns one host's view, or false if no such host exists.
func (m *Manager) Get(name string) (HostView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sv, ok := m.supervisors[name]
	if !ok {
		return HostView{}, false
	}
	return HostView{Spec: sv.Spec(), State: sv.State()}, true
}

// Add registers a new host and launches its Supervisor's control loop,
// starting it if the spec is enabled. Rejects duplicate names.
func (m *Manager) Add(ctx context.Context, spec domain.HostSpec) error {
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.supervisors[spec.Name]; exists {
		m.mu.Unlock()
		return sverr.Precondition(fmt.Sprintf("host already exists: %s", spec.Name))
	}
	sv := m.addLocked(spec)
	m.runLocked(ctx, spec.Name, sv)
	m.mu.Unlock()

	return m.persistLocked()
}

// addLocked creates a Supervisor for spec and registers it, without
// starting its control loop. Caller must hold mu.
func (m *Manager) addLocked(spec domain.HostSpec) *supervisor.Supervisor {
	sv := supervisor.New(spec, m.deps)
	m.supervisors[spec.Name] = sv
	return sv
}

// Edit replaces name's spec. The Supervisor is not restarted automatically
// — a change takes effect the next time it reconnects, consistent with
// Supervisor.UpdateSpec's contract.
func (m *Manager) Edit(name string, spec domain.HostSpec) error {
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.Name != name {
		return sverr.Precondition("renaming a host via edit is not supported; delete and re-add instead")
	}

	m.mu.Lock()
	sv, ok := m.supervisors[name]
	if !ok {
		m.mu.Unlock()
		return sverr.Precondition(fmt.Sprintf("no such host: %s", name))
	}
	sv.UpdateSpec(spec)
	m.mu.Unlock()

	return m.persistLocked()
}

// Delete asks name's Supervisor to shut down, cancels its control loop,
// and removes it. It does not wait for the loop to exit, so events the
// loop publishes while winding down can still reach the bus; the SSE
// stream drops events for hosts no longer in the fleet.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	sv, ok := m.supervisors[name]
	if !ok {
		m.mu.Unlock()
		return sverr.Precondition(fmt.Sprintf("no such host: %s", name))
	}
	sv.Shutdown()
	if cancel, ok := m.cancels[name]; ok {
		cancel()
		delete(m.cancels, name)
	}
	delete(m.supervisors, name)
	m.mu.Unlock()

	return m.persistLocked()
}

// Start, Stop, Restart, and ForceRestart forward a control operation to
// one host's Supervisor.
func (m *Manager) Start(name string) error        { return m.forward(name, (*supervisor.Supervisor).Start) }
func (m *Manager) Stop(name string) error          { return m.forward(name, (*supervisor.Supervisor).Stop) }
func (m *Manager) Restart(name string) error       { return m.forward(name, (*supervisor.Supervisor).Restart) }
func (m *Manager) ForceRestart(name string) error  { return m.forward(name, (*supervisor.Supervisor).ForceRestart) }

func (m *Manager) forward(name string, op func(*supervisor.Supervisor)) error {
	m.mu.Lock()
	sv, ok := m.supervisors[name]
	m.mu.Unlock()
	if !ok {
		return sverr.Precondition(fmt.Sprintf("no such host: %s", name))
	}
	op(sv)
	return nil
}

// StopAll requests every Supervisor stop.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sv := range m.supervisors {
		sv.Stop()
	}
}

// TestConnection dials the host out-of-band of its Supervisor (so it
// never disturbs a Running instance) and returns a diagnostic report.
// Connection attempts are capped by the fleet's concurrency limiter so a
// burst of "test all" clicks cannot open unbounded SSH handshakes at
// once.
func (m *Manager) TestConnection(ctx context.Context, name string) (sshsession.ConnTestReport, error) {
	m.mu.Lock()
	sv, ok := m.supervisors[name]
	m.mu.Unlock()
	if !ok {
		return sshsession.ConnTestReport{}, sverr.Precondition(fmt.Sprintf("no such host: %s", name))
	}
	spec := sv.Spec()

	m.connLimiter.acquire()
	defer m.connLimiter.release()

	session, err := sshsession.Dial(ctx, spec, m.log)
	if err != nil {
		return sshsession.ConnTestReport{}, err
	}
	defer session.Close()

	return session.TestConnection(ctx)
}

// Tail returns the last n log lines recorded for name.
func (m *Manager) Tail(name string, n int) []string {
	if m.deps.LogSink == nil {
		return nil
	}
	return m.deps.LogSink.Tail(name, n)
}

// Deps exposes the shared infrastructure the fleet was built with, for
// callers (such as the HTTP API's metrics endpoint) that need direct
// access to the Metrics Store without going through a per-host Supervisor.
func (m *Manager) Deps() supervisor.Deps {
	return m.deps
}

func (m *Manager) persistLocked() error {
	m.mu.Lock()
	specs := make([]domain.HostSpec, 0, len(m.supervisors))
	for _, sv := range m.supervisors {
		specs = append(specs, sv.Spec())
	}
	m.mu.Unlock()

	return config.Save(m.configPath, &config.File{Servers: specs})
}

// Shutdown stops every Supervisor's control loop. Used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cancel := range m.cancels {
		cancel()
		delete(m.cancels, name)
	}
}
