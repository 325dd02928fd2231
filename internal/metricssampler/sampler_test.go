package metricssampler

import (
	"context"
	"testing"

	"github.com/sshfleet/sshfleet/internal/sshsession"
)

func TestParseProcStatCPU(t *testing.T) {
	stat := "cpu  1000 0 2000 7000 0 0 0 0 0 0\nintr 123"
	total, idle, ok := parseProcStatCPU(stat)
	if !ok {
		t.Fatal("expected ok")
	}
	if total != 10000 {
		t.Errorf("total = %d, want 10000", total)
	}
	if idle != 7000 {
		t.Errorf("idle = %d, want 7000", idle)
	}
}

func TestParseProcStatCPUMissing(t *testing.T) {
	if _, _, ok := parseProcStatCPU("intr 123\nctxt 456"); ok {
		t.Fatal("expected ok=false for missing cpu line")
	}
}

func TestParseMeminfoLine(t *testing.T) {
	v, ok := parseMeminfoLine("MemTotal:       16384000 kB", "MemTotal:")
	if !ok || v != 16384000 {
		t.Errorf("got %v, %v", v, ok)
	}
	if _, ok := parseMeminfoLine("Buffers:   100 kB", "MemTotal:"); ok {
		t.Fatal("expected no match for wrong prefix")
	}
}

type fakeRunner struct {
	outputs map[string]sshsession.RunResult
}

func (f *fakeRunner) RunShort(_ context.Context, command string) (sshsession.RunResult, error) {
	return f.outputs[command], nil
}

func TestCPUSampleRequiresBaseline(t *testing.T) {
	s := New()
	r := &fakeRunner{outputs: map[string]sshsession.RunResult{
		cpuStatCmd: {ExitOK: true, Stdout: "cpu  1000 0 2000 7000 0 0 0 0 0 0"},
	}}

	if _, ok := s.sampleCPU(context.Background(), r, "h1"); ok {
		t.Fatal("first sample should have no baseline")
	}

	r.outputs[cpuStatCmd] = sshsession.RunResult{ExitOK: true, Stdout: "cpu  2000 0 2500 8000 0 0 0 0 0 0"}
	pct, ok := s.sampleCPU(context.Background(), r, "h1")
	if !ok {
		t.Fatal("second sample should have a baseline")
	}
	if pct <= 0 {
		t.Errorf("expected positive cpu pct, got %v", pct)
	}
}

func TestResetBaselineForcesNone(t *testing.T) {
	s := New()
	r := &fakeRunner{outputs: map[string]sshsession.RunResult{
		cpuStatCmd: {ExitOK: true, Stdout: "cpu  1000 0 2000 7000 0 0 0 0 0 0"},
	}}
	s.sampleCPU(context.Background(), r, "h1")
	s.ResetBaseline("h1")

	r.outputs[cpuStatCmd] = sshsession.RunResult{ExitOK: true, Stdout: "cpu  2000 0 2500 8000 0 0 0 0 0 0"}
	if _, ok := s.sampleCPU(context.Background(), r, "h1"); ok {
		t.Fatal("expected no baseline after reset")
	}
}
