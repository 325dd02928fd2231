package procdetect

import (
	"context"
	"strings"
	"testing"

	"github.com/sshfleet/sshfleet/internal/sshsession"
)

type fakeRunner struct {
	pgrepOut    string
	fallbackOut string
}

func (f *fakeRunner) RunShort(_ context.Context, command string) (sshsession.RunResult, error) {
	if strings.HasPrefix(command, "pgrep") {
		return sshsession.RunResult{ExitOK: true, Stdout: f.pgrepOut}, nil
	}
	return sshsession.RunResult{ExitOK: true, Stdout: f.fallbackOut}, nil
}

func TestDetectViaPgrep(t *testing.T) {
	r := &fakeRunner{pgrepOut: "4711 python3 worker.py"}
	m, err := Detect(context.Background(), r, `worker\.py`)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.PID != 4711 {
		t.Fatalf("got %+v", m)
	}
}

func TestDetectFallsBackToPsGrep(t *testing.T) {
	r := &fakeRunner{pgrepOut: "", fallbackOut: "4712 python3 worker.py"}
	m, err := Detect(context.Background(), r, `worker\.py`)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.PID != 4712 {
		t.Fatalf("got %+v", m)
	}
}

func TestDetectNoMatch(t *testing.T) {
	r := &fakeRunner{}
	m, err := Detect(context.Background(), r, `worker\.py`)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("expected no match, got %+v", m)
	}
}

func TestDetectExcludesSelfMatch(t *testing.T) {
	r := &fakeRunner{pgrepOut: "100 pgrep -af worker\\.py"}
	m, err := Detect(context.Background(), r, `worker\.py`)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("expected self-match to be excluded, got %+v", m)
	}
}
