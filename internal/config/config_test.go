package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/sshfleet/sshfleet/internal/domain"
)

func TestBootstrapWritesExampleEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("expected one illustrative example entry, got %d servers", len(cfg.Servers))
	}
	if cfg.Servers[0].Name == "" || cfg.Servers[0].Command == "" {
		t.Fatalf("expected a fleshed-out example entry, got %+v", cfg.Servers[0])
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected bootstrap file to exist: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")

	os.WriteFile(path, []byte(`{"servers":[{"name":"h1","host":"1.2.3.4","port":22,"username":"root","auth":{"type":"key","key_path":"/tmp/k"},"command":"python3 worker.py"}]}`), 0o644)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(cfg.Servers))
	}
	s := cfg.Servers[0]
	if s.RestartDelaySeconds != domain.DefaultRestartDelaySeconds {
		t.Errorf("RestartDelaySeconds = %d, want %d", s.RestartDelaySeconds, domain.DefaultRestartDelaySeconds)
	}
	if !s.Enabled {
		t.Error("Enabled = false, want true when the field is absent from JSON")
	}
}

func TestLoadEnabledFalseIsRespected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	os.WriteFile(path, []byte(`{"servers":[{"name":"h1","host":"1.2.3.4","port":22,"username":"root","auth":{"type":"key","key_path":"/tmp/k"},"enabled":false}]}`), 0o644)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(cfg.Servers))
	}
	if cfg.Servers[0].Enabled {
		t.Error("Enabled = true, want false: the field was explicit in JSON")
	}
}

func TestLoadSkipsInvalidEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	os.WriteFile(path, []byte(`{"servers":[
		{"name":"good","host":"1.2.3.4","port":22,"username":"root","auth":{"type":"key","key_path":"/tmp/k"}},
		{"name":"missing-host","port":22,"username":"root","auth":{"type":"key","key_path":"/tmp/k"}},
		{"name":"missing-auth-type","host":"5.6.7.8","port":22,"username":"root"}
	]}`), 0o644)

	cfg, err := Load(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].Name != "good" {
		t.Fatalf("expected only the valid entry to survive, got %+v", cfg.Servers)
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	os.WriteFile(path, []byte(`{"servers":[
		{"name":"h1","host":"1.2.3.4","port":22,"username":"root","auth":{"type":"key","key_path":"/tmp/k"}},
		{"name":"h1","host":"5.6.7.8","port":22,"username":"root","auth":{"type":"key","key_path":"/tmp/k"}}
	]}`), 0o644)

	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for duplicate host names")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")

	spec := domain.HostSpec{Name: "h1", Host: "1.2.3.4", Username: "root", Auth: domain.Auth{Type: domain.AuthKey, KeyPath: "/tmp/k"}, Command: "python3 worker.py"}
	spec.ApplyDefaults()

	if err := Save(path, &File{Servers: []domain.HostSpec{spec}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].Name != "h1" {
		t.Fatalf("round trip mismatch: %+v", cfg.Servers)
	}
}
