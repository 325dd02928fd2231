// Package sverr defines the supervisor's internal error taxonomy. Each kind
// is a distinct Go type implementing Kind() so call sites can branch with
// errors.As instead of matching strings.
package sverr

// Kinder is implemented by every error in this package.
type Kinder interface {
	error
	Kind() string
}

// AuthErr: key not loadable or credential rejected by the remote host.
// Recorded in HostState.LastError; backoff doubles; Supervisor stays
// Disconnected.
type AuthErr struct{ Msg string }

func (e *AuthErr) Error() string { return e.Msg }
func (e *AuthErr) Kind() string  { return "AuthError" }
func Auth(msg string) *AuthErr   { return &AuthErr{Msg: msg} }

// NetworkErr: TCP/SSH transport failure before or during a session. Same
// treatment as AuthErr.
type NetworkErr struct{ Msg string }

func (e *NetworkErr) Error() string { return e.Msg }
func (e *NetworkErr) Kind() string  { return "NetworkError" }
func Network(msg string) *NetworkErr { return &NetworkErr{Msg: msg} }

// ProtocolErr: unexpected channel behavior during streaming. Transitions
// to Error; the session is torn down and the next tick reconnects.
type ProtocolErr struct{ Msg string }

func (e *ProtocolErr) Error() string { return e.Msg }
func (e *ProtocolErr) Kind() string  { return "ProtocolError" }
func Protocol(msg string) *ProtocolErr { return &ProtocolErr{Msg: msg} }

// PreconditionErr: referenced script missing, malformed regex, unknown
// auth type. Non-retryable: status Error, no backoff change, no automatic
// retry loop.
type PreconditionErr struct{ Msg string }

func (e *PreconditionErr) Error() string     { return e.Msg }
func (e *PreconditionErr) Kind() string      { return "PreconditionError" }
func Precondition(msg string) *PreconditionErr { return &PreconditionErr{Msg: msg} }

// MetricsErr: parse failure or remote command missing. The affected
// field(s) are dropped to none; never surfaced as a Supervisor state
// change.
type MetricsErr struct{ Msg string }

func (e *MetricsErr) Error() string   { return e.Msg }
func (e *MetricsErr) Kind() string    { return "MetricsError" }
func Metrics(msg string) *MetricsErr  { return &MetricsErr{Msg: msg} }

// StoreErr: database write failure. Logged; the sample is discarded; never
// surfaced as a Supervisor state change.
type StoreErr struct{ Msg string }

func (e *StoreErr) Error() string  { return e.Msg }
func (e *StoreErr) Kind() string   { return "StoreError" }
func Store(msg string) *StoreErr   { return &StoreErr{Msg: msg} }
