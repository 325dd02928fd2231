package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/sshfleet/sshfleet/internal/eventbus"
	"github.com/sshfleet/sshfleet/internal/fleet"
)

func newTestRouter(t *testing.T) (*fleet.Manager, *eventbus.Bus, http.Handler) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "servers.json")
	// Start from an empty host list; a missing file would be bootstrapped
	// with one example entry.
	if err := os.WriteFile(cfgPath, []byte(`{"servers":[]}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	bus := eventbus.New(eventbus.DefaultCapacity)
	manager, err := fleet.New(cfgPath, bus, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("fleet.New: %v", err)
	}
	return manager, bus, NewRouter(manager, bus, zap.NewNop())
}

func TestListHostsEmpty(t *testing.T) {
	_, _, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "[]" {
		t.Fatalf("body = %q, want empty list", rec.Body.String())
	}
}

func TestAddHostThenList(t *testing.T) {
	_, _, router := newTestRouter(t)

	body := `{
		"name": "gpu-box",
		"host": "10.0.0.5",
		"username": "ubuntu",
		"auth": {"type": "password", "password": "secret"},
		"command": "python3 train.py"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/hosts", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)

	var views []fleet.HostView
	if err := json.Unmarshal(listRec.Body.Bytes(), &views); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(views) != 1 || views[0].Spec.Name != "gpu-box" {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestAddHostRejectsMissingFields(t *testing.T) {
	_, _, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/hosts", bytes.NewBufferString(`{"name": "x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestControlOperationOnUnknownHostReturns400(t *testing.T) {
	_, _, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/hosts/nope/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteThenListIsEmpty(t *testing.T) {
	_, _, router := newTestRouter(t)

	addBody := `{
		"name": "gpu-box",
		"host": "10.0.0.5",
		"username": "ubuntu",
		"auth": {"type": "password", "password": "secret"},
		"command": "python3 train.py"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/hosts", bytes.NewBufferString(addBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), req)

	delReq := httptest.NewRequest(http.MethodDelete, "/api/hosts/gpu-box", nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", delRec.Code)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	if listRec.Body.String() != "[]" {
		t.Fatalf("expected empty list after delete, got %s", listRec.Body.String())
	}
}

func TestMetricsEndpointWithoutStoreReturnsEmptyPoints(t *testing.T) {
	_, _, router := newTestRouter(t)

	addBody := `{
		"name": "gpu-box",
		"host": "10.0.0.5",
		"username": "ubuntu",
		"auth": {"type": "password", "password": "secret"},
		"command": "python3 train.py"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/hosts", bytes.NewBufferString(addBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), req)

	metricsReq := httptest.NewRequest(http.MethodGet, "/api/hosts/gpu-box/metrics?field=cpu&seconds=60", nil)
	metricsRec := httptest.NewRecorder()
	router.ServeHTTP(metricsRec, metricsReq)

	if metricsRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", metricsRec.Code, metricsRec.Body.String())
	}
	if metricsRec.Body.String() != `{"points":[]}` {
		t.Fatalf("body = %s, want empty points", metricsRec.Body.String())
	}
}

func TestPingEndpoint(t *testing.T) {
	_, _, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
