// Package logsink writes per-host log lines to rotating files and keeps a
// small in-memory tail of recent lines per host for the control API to
// serve without re-reading disk.
package logsink

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sshfleet/sshfleet/internal/domain"
)

const (
	maxSizeMB  = 10
	maxBackups = 5
	tailLines  = 500
)

// Sink owns one rotating file writer and one in-memory ring per host.
type Sink struct {
	dir string

	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
	tails   map[string]*ring

	appLog *lumberjack.Logger
}

// New returns a Sink that writes per-host files under dir (one file named
// "<host>-<YYYYMMDD>.log" per host per day) plus an application-level
// "app.log" in the same directory.
func New(dir string) *Sink {
	return &Sink{
		dir:     dir,
		writers: make(map[string]*lumberjack.Logger),
		tails:   make(map[string]*ring),
		appLog: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "app.log"),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		},
	}
}

// AppWriter returns the io.Writer for application-level (not per-host) log
// lines, suitable as a zapcore.AddSync target.
func (s *Sink) AppWriter() *lumberjack.Logger { return s.appLog }

// Write appends one formatted line to hostName's log file and its
// in-memory tail. Rotation happens inside lumberjack once the active file
// crosses maxSizeMB; at most maxBackups old files are kept.
func (s *Sink) Write(hostName, level, message string) {
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format("2006-01-02 15:04:05"), level, message)

	filename := filepath.Join(s.dir, fmt.Sprintf("%s-%s.log", hostName, time.Now().Format("20060102")))

	s.mu.Lock()
	w, ok := s.writers[hostName]
	if ok && w.Filename != filename {
		// A new day has started: close yesterday's file and open today's.
		_ = w.Close()
		ok = false
	}
	if !ok {
		w = &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		}
		s.writers[hostName] = w
	}
	t, ok := s.tails[hostName]
	if !ok {
		t = newRing(tailLines)
		s.tails[hostName] = t
	}
	s.mu.Unlock()

	t.append(line)
	_, _ = w.Write([]byte(line + "\n"))
}

// WriteLogLine records a streamed stdout/stderr line from the supervised
// process, tagging it with its stream.
func (s *Sink) WriteLogLine(l domain.LogLine) {
	level := "STDOUT"
	if l.Stream == domain.StreamStderr {
		level = "STDERR"
	}
	s.Write(l.HostName, level, l.Line)
}

// Tail returns the last n lines recorded for hostName, newest first. If n
// is <= 0 or larger than the ring's capacity, it is clamped.
func (s *Sink) Tail(hostName string, n int) []string {
	s.mu.Lock()
	t, ok := s.tails[hostName]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return t.read(n)
}

// Close flushes and closes every open file handle, including the
// application log.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, w := range s.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.appLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
