package eventbus

import (
	"testing"

	"github.com/sshfleet/sshfleet/internal/domain"
)

func logEvent(hostName, line string) domain.Event {
	return domain.LogLineEvent(hostName, line, domain.StreamStdout)
}

func TestDropOldestOnOverflow(t *testing.T) {
	b := New(4)
	for i := 1; i <= 6; i++ {
		b.Publish(logEvent("h1", string(rune('0'+i))))
	}

	got := b.Drain()
	want := []string{"3", "4", "5", "6"}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Log.Line != w {
			t.Errorf("index %d: got %q, want %q", i, got[i].Log.Line, w)
		}
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	b := New(4)
	b.Publish(logEvent("h1", "a"))
	b.Drain()
	if got := b.Drain(); got != nil {
		t.Errorf("expected nil after drain, got %v", got)
	}
}

func TestPerHostFIFOOrder(t *testing.T) {
	b := New(100)
	for i := 0; i < 10; i++ {
		b.Publish(logEvent("h1", string(rune('a'+i))))
	}
	got := b.Drain()
	for i := 0; i < 10; i++ {
		if got[i].Log.Line != string(rune('a'+i)) {
			t.Errorf("out of order at %d: %q", i, got[i].Log.Line)
		}
	}
}
