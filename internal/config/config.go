// Package config loads and saves the fleet's host list from a single JSON
// file, applying field defaults the way the supervisor's runtime does, and
// bootstrapping a starter file the first time the program runs against an
// empty directory.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sshfleet/sshfleet/internal/domain"
	"github.com/sshfleet/sshfleet/internal/domain/sverr"
	"github.com/sshfleet/sshfleet/pkg/jsonx"
)

// File is the on-disk shape of the config file: one array of host specs
// under a single top-level key.
type File struct {
	Servers []domain.HostSpec `json:"servers"`
}

// wireHostSpec is the shape actually decoded from disk. It embeds
// domain.HostSpec and shadows its Enabled field with a tri-state Field so
// Load can tell "enabled" was left out of the JSON entirely (default to
// true) apart from an explicit "enabled": false (respect it). domain.HostSpec
// itself keeps Enabled as a plain bool, since every other caller (Add, Edit,
// the HTTP DTOs) always supplies an explicit value.
type wireHostSpec struct {
	domain.HostSpec
	Enabled jsonx.Field[bool] `json:"enabled"`
}

type wireFile struct {
	Servers []wireHostSpec `json:"servers"`
}

// Load reads path, strictly decoding the JSON (rejecting unknown fields),
// skips any entry missing one of the fields a Supervisor cannot be built
// without (logging a warning for each), and applies HostSpec defaults to
// the rest. If path does not exist, a default starter file is written
// first so a fresh install always has something to edit.
func Load(path string, log *zap.Logger) (*File, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := bootstrap(path); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, sverr.Precondition("open config: " + err.Error())
	}
	defer f.Close()

	var raw wireFile
	if err := jsonx.ParseJSONObject(f, &raw); err != nil {
		return nil, sverr.Precondition("parse config: " + err.Error())
	}

	cfg := &File{Servers: make([]domain.HostSpec, 0, len(raw.Servers))}
	seen := make(map[string]bool, len(raw.Servers))

	for _, entry := range raw.Servers {
		spec := entry.HostSpec
		if err := spec.Validate(); err != nil {
			log.Warn("skipping invalid server config entry", zap.String("name", spec.Name), zap.Error(err))
			continue
		}

		if v, ok := entry.Enabled.Value(); ok {
			spec.Enabled = v
		} else {
			spec.Enabled = true
		}
		spec.ApplyDefaults()

		if seen[spec.Name] {
			return nil, sverr.Precondition("duplicate host name in config: " + spec.Name)
		}
		seen[spec.Name] = true
		cfg.Servers = append(cfg.Servers, spec)
	}

	return cfg, nil
}

// Save writes cfg back to path as indented JSON, defaults included, so a
// round trip (Load then Save) is stable up to field ordering.
func Save(path string, cfg *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sverr.Store("create config dir: " + err.Error())
	}

	tmp := path + ".tmp"
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return sverr.Store("marshal config: " + err.Error())
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return sverr.Store("write config: " + err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		return sverr.Store("finalize config: " + err.Error())
	}
	return nil
}

// bootstrap writes a single illustrative host entry rather than an empty
// list, so a fresh install has a concrete example to edit in place instead
// of a blank file and no clue what a valid entry looks like.
func bootstrap(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sverr.Store("create config dir: " + err.Error())
	}
	example := domain.HostSpec{
		Name:     "example-host",
		Host:     "203.0.113.10",
		Port:     22,
		Username: "ubuntu",
		Auth: domain.Auth{
			Type:    domain.AuthKey,
			KeyPath: "~/.ssh/id_rsa",
		},
		Command:             "python3 /home/ubuntu/worker.py",
		WorkingDir:          "/home/ubuntu",
		StopCommand:         "pkill -f worker.py",
		RestartDelaySeconds: domain.DefaultRestartDelaySeconds,
		Enabled:             true,
	}
	example.ApplyDefaults()
	return Save(path, &File{Servers: []domain.HostSpec{example}})
}
