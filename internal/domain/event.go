package domain

import "time"

// EventKind tags the variant carried by Event. Go has no native tagged
// union, so Event carries a kind discriminator plus one populated payload
// field, mirroring a typed envelope over an empty interface{}.
type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventLogLine      EventKind = "log_line"
	EventMetrics      EventKind = "metrics"
)

// LogStream identifies which remote stream a LogLine event came from.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// Event is one unit published to the Event Bus. Exactly one of State,
// Log, or Metrics is populated, selected by Kind.
type Event struct {
	Kind EventKind `json:"kind"`

	State *HostState `json:"state,omitempty"`
	Log   *LogLine   `json:"log,omitempty"`
	Metrics *Sample  `json:"metrics,omitempty"`
}

// LogLine is the payload of an EventLogLine event.
type LogLine struct {
	HostName  string    `json:"host_name"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
	Stream    LogStream `json:"stream"`
}

// StateChangedEvent wraps a HostState snapshot: every transition that
// changes any HostState field emits one of these carrying the new snapshot.
func StateChangedEvent(s HostState) Event {
	snap := s.Snapshot()
	return Event{Kind: EventStateChanged, State: &snap}
}

// LogLineEvent wraps one streamed output line.
func LogLineEvent(hostName, line string, stream LogStream) Event {
	return Event{Kind: EventLogLine, Log: &LogLine{
		HostName:  hostName,
		Timestamp: time.Now(),
		Line:      line,
		Stream:    stream,
	}}
}

// MetricsEvent wraps one metrics sample.
func MetricsEvent(s Sample) Event {
	return Event{Kind: EventMetrics, Metrics: &s}
}

// HostNameOf returns the host name the event pertains to, regardless of
// kind — used to filter out further events for a host once it has been
// removed from the fleet.
func (e Event) HostNameOf() string {
	switch e.Kind {
	case EventStateChanged:
		if e.State != nil {
			return e.State.HostName
		}
	case EventLogLine:
		if e.Log != nil {
			return e.Log.HostName
		}
	case EventMetrics:
		if e.Metrics != nil {
			return e.Metrics.HostName
		}
	}
	return ""
}
