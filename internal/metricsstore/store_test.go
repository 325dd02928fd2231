package metricsstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sshfleet/sshfleet/internal/domain"
)

func TestInsertAndFetch(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metrics.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	samples := []domain.Sample{
		{HostName: "h1", TimestampS: now - 10, CPUPct: domain.F64Ptr(10)},
		{HostName: "h1", TimestampS: now - 5, CPUPct: domain.F64Ptr(20)},
		{HostName: "h1", TimestampS: now, CPUPct: nil},
		{HostName: "h2", TimestampS: now, CPUPct: domain.F64Ptr(99)},
	}
	for _, s := range samples {
		if err := store.Insert(ctx, s); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	points, err := store.Fetch(ctx, "h1", FieldCPU, time.Minute)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2 (nil cpu row must be excluded)", len(points))
	}
	if points[0].Value != 10 || points[1].Value != 20 {
		t.Errorf("points out of order or wrong values: %+v", points)
	}
}

func TestFetchRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metrics.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, err := store.Fetch(context.Background(), "h1", Field("nonsense"), time.Minute); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestFetchWindowExcludesOldSamples(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metrics.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	old := domain.Sample{HostName: "h1", TimestampS: time.Now().Add(-time.Hour).Unix(), CPUPct: domain.F64Ptr(5)}
	if err := store.Insert(ctx, old); err != nil {
		t.Fatal(err)
	}

	points, err := store.Fetch(ctx, "h1", FieldCPU, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 0 {
		t.Errorf("expected old sample to be excluded by window, got %+v", points)
	}
}
