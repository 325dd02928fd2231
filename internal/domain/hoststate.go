package domain

import "time"

// Status is the Supervisor's current place in its connect/run state machine.
type Status string

const (
	Disconnected Status = "Disconnected"
	Connecting   Status = "Connecting"
	Running      Status = "Running"
	Stopped      Status = "Stopped"
	Error        Status = "Error"
	External     Status = "External"
)

// InitialBackoffSeconds and MaxBackoffSeconds bound the reconnect backoff:
// starts at 5s, doubles on each failed attempt, caps at 60s.
const (
	InitialBackoffSeconds = 5
	MaxBackoffSeconds     = 60
)

// HostState is the mutable runtime state owned exclusively by one host's
// Supervisor. No other component may mutate it; snapshots are published
// via StateChanged events.
type HostState struct {
	HostName        string     `json:"host_name"`
	Status          Status     `json:"status"`
	PID             *int       `json:"pid,omitempty"`
	UptimeS         int        `json:"uptime_s"`
	RestartsCount   int        `json:"restarts_count"`
	LastRestartTime *time.Time `json:"last_restart_time,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	BackoffS        int        `json:"backoff_s"`
}

// NewHostState returns the zero-value runtime state for a freshly created
// Supervisor: Disconnected, no PID, backoff at its initial value.
func NewHostState(hostName string) HostState {
	return HostState{
		HostName: hostName,
		Status:   Disconnected,
		BackoffS: InitialBackoffSeconds,
	}
}

// Snapshot returns a copy safe to hand to other goroutines (the event bus,
// an HTTP handler) without risk of the Supervisor mutating it concurrently.
func (s HostState) Snapshot() HostState { return s }

// ResetBackoff restores BackoffS to its initial value after a successful
// connect.
func (s *HostState) ResetBackoff() { s.BackoffS = InitialBackoffSeconds }

// IncreaseBackoff doubles BackoffS, capped at MaxBackoffSeconds.
func (s *HostState) IncreaseBackoff() {
	s.BackoffS *= 2
	if s.BackoffS > MaxBackoffSeconds {
		s.BackoffS = MaxBackoffSeconds
	}
}

// ClearRunningFields enforces that a non-Running status carries no pid and
// no uptime, whenever the caller transitions away from Running.
func (s *HostState) ClearRunningFields() {
	s.PID = nil
	s.UptimeS = 0
}

func IntPtr(v int) *int { return &v }
