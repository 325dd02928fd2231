package domain

import "testing"

func TestDeriveProcessMatchRegex(t *testing.T) {
	cases := []struct {
		command string
		want    string
	}{
		{"python3 /home/v13/worker.py", `/home/v13/worker\.py`},
		{"worker.py", `worker\.py`},
		{"", ""},
	}
	for _, c := range cases {
		if got := DeriveProcessMatchRegex(c.command); got != c.want {
			t.Errorf("DeriveProcessMatchRegex(%q) = %q, want %q", c.command, got, c.want)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	s := HostSpec{Name: "h1", Command: "python3 worker.py"}
	s.ApplyDefaults()

	if s.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", s.Port, DefaultPort)
	}
	if s.RestartDelaySeconds != DefaultRestartDelaySeconds {
		t.Errorf("RestartDelaySeconds = %d, want %d", s.RestartDelaySeconds, DefaultRestartDelaySeconds)
	}
	if s.ProcessMatchRegex != `worker\.py` {
		t.Errorf("ProcessMatchRegex = %q", s.ProcessMatchRegex)
	}
	if s.HealthCheck.CPU.ThresholdPct != DefaultHealthThresholdPct {
		t.Errorf("CPU threshold = %v, want %v", s.HealthCheck.CPU.ThresholdPct, DefaultHealthThresholdPct)
	}
	if s.HealthCheck.GPU.DurationS != DefaultHealthDurationS {
		t.Errorf("GPU duration = %v, want %v", s.HealthCheck.GPU.DurationS, DefaultHealthDurationS)
	}
	if s.Env == nil {
		t.Error("Env should be initialized to empty map, not nil")
	}
}

func TestApplyDefaultsPreservesExplicitRegex(t *testing.T) {
	s := HostSpec{Name: "h1", Command: "python3 worker.py", ProcessMatchRegex: "custom-regex"}
	s.ApplyDefaults()
	if s.ProcessMatchRegex != "custom-regex" {
		t.Errorf("explicit regex overwritten: %q", s.ProcessMatchRegex)
	}
}

func TestValidate(t *testing.T) {
	s := HostSpec{Name: "h1", Host: "1.2.3.4", Port: 22, Username: "root", Auth: Auth{Type: AuthKey}}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := HostSpec{Name: "h1", Host: "1.2.3.4", Port: 22, Username: "root", Auth: Auth{Type: "bogus"}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown auth type")
	}

	missing := HostSpec{Name: "h1"}
	if err := missing.Validate(); err == nil {
		t.Fatal("expected error for missing fields")
	}
}
