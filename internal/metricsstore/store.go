// Package metricsstore is a durable, append-only time-series store for
// metric samples: one SQLite file, WAL-mode, one table. Writes are
// serialized by a process-wide mutex (SQLite only allows one writer at a
// time regardless); concurrent reads for the same (host, field, window)
// are deduplicated with singleflight so a burst of identical dashboard
// queries costs one disk read.
package metricsstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/sshfleet/sshfleet/internal/domain"
	"github.com/sshfleet/sshfleet/internal/domain/sverr"
)

const schema = `
CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	server TEXT NOT NULL,
	ts INTEGER NOT NULL,
	cpu REAL,
	ram_used_mb REAL,
	ram_total_mb REAL,
	gpu_util REAL,
	gpu_mem_used_mb REAL,
	gpu_mem_total_mb REAL
);
CREATE INDEX IF NOT EXISTS idx_metrics_server_ts ON metrics(server, ts);
`

// Field names the fetch() caller may request; matches a real column.
type Field string

const (
	FieldCPU        Field = "cpu"
	FieldRAMUsedMB  Field = "ram_used_mb"
	FieldGPUUtil    Field = "gpu_util"
	FieldGPUMemUsed Field = "gpu_mem_used_mb"
)

var validFields = map[Field]bool{
	FieldCPU:        true,
	FieldRAMUsedMB:  true,
	FieldGPUUtil:    true,
	FieldGPUMemUsed: true,
}

// Point is one (timestamp, value) reading returned by Fetch.
type Point struct {
	TimestampS int64
	Value      float64
}

// Store owns the single SQLite connection used for both writes and reads.
// database/sql pools connections internally, but SQLite's own single
// writer lock means a write-mutex here avoids "database is locked" churn
// under concurrent supervisors.
type Store struct {
	db      *sql.DB
	writeMu chan struct{} // 1-buffered: acts as a non-reentrant mutex
	group   singleflight.Group
}

// Open creates (or reuses) the SQLite file at path in WAL mode and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, sverr.Store(fmt.Sprintf("open metrics db: %s", err))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, sverr.Store(fmt.Sprintf("create schema: %s", err))
	}

	s := &Store{db: db, writeMu: make(chan struct{}, 1)}
	s.writeMu <- struct{}{}
	return s, nil
}

// Insert appends one sample row. Failures are always *sverr.StoreErr —
// callers log and discard the sample rather than surface it as a
// Supervisor state change.
func (s *Store) Insert(ctx context.Context, sample domain.Sample) error {
	<-s.writeMu
	defer func() { s.writeMu <- struct{}{} }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics(server, ts, cpu, ram_used_mb, ram_total_mb, gpu_util, gpu_mem_used_mb, gpu_mem_total_mb)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.HostName, sample.TimestampS,
		nullableFloat(sample.CPUPct), nullableFloat(sample.RAMUsedMB), nullableFloat(sample.RAMTotalMB),
		nullableFloat(sample.GPUUtilPct), nullableFloat(sample.GPUMemUsedMB), nullableFloat(sample.GPUMemTotalMB),
	)
	if err != nil {
		return sverr.Store(fmt.Sprintf("insert sample for %s: %s", sample.HostName, err))
	}
	return nil
}

// Fetch returns the field's readings for host over the last window,
// ascending by timestamp, skipping rows where field is null.
func (s *Store) Fetch(ctx context.Context, host string, field Field, window time.Duration) ([]Point, error) {
	if !validFields[field] {
		return nil, sverr.Precondition(fmt.Sprintf("unknown metrics field: %q", field))
	}

	key := fmt.Sprintf("%s|%s|%d", host, field, window/time.Second)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.fetch(ctx, host, field, window)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Point), nil
}

func (s *Store) fetch(ctx context.Context, host string, field Field, window time.Duration) ([]Point, error) {
	sinceTS := time.Now().Add(-window).Unix()

	query := fmt.Sprintf(
		`SELECT ts, %s FROM metrics WHERE server = ? AND ts >= ? AND %s IS NOT NULL ORDER BY ts ASC`,
		field, field,
	)
	rows, err := s.db.QueryContext(ctx, query, host, sinceTS)
	if err != nil {
		return nil, sverr.Store(fmt.Sprintf("fetch %s/%s: %s", host, field, err))
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.TimestampS, &p.Value); err != nil {
			return nil, sverr.Store(fmt.Sprintf("scan %s/%s: %s", host, field, err))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
