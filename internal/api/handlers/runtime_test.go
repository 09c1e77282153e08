package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"relay/internal/domain"
)

type fakeRuntimePortsStore struct {
	ports *domain.RuntimePorts
	err   error
}

func (s *fakeRuntimePortsStore) GetRuntimePorts(_ context.Context) (*domain.RuntimePorts, error) {
	return s.ports, s.err
}

type fakeGatherer struct {
	families []*dto.MetricFamily
}

func (g *fakeGatherer) Gather() ([]*dto.MetricFamily, error) { return g.families, nil }

func counterFamily(name string, value float64) *dto.MetricFamily {
	counterType := dto.MetricType_COUNTER
	return &dto.MetricFamily{
		Name: &name,
		Type: &counterType,
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: &value}},
		},
	}
}

func TestGetRuntimeStatusMetrics_FiltersToRelaySubsystems(t *testing.T) {
	evaluations := "relay_evaluator_master_evaluations_total"
	unrelated := "go_gc_duration_seconds"
	g := &fakeGatherer{families: []*dto.MetricFamily{
		counterFamily(evaluations, 42),
		counterFamily(unrelated, 1),
	}}
	h := NewRuntimeHandler(&fakeRuntimePortsStore{}, g)

	req := httptest.NewRequest("GET", "/api/runtime-status-metrics", nil)
	w := httptest.NewRecorder()
	h.GetRuntimeStatusMetrics(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[string]float64
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got[evaluations] != 42 {
		t.Fatalf("got = %v", got)
	}
	if _, ok := got[unrelated]; ok {
		t.Fatalf("expected unrelated metric filtered out, got %v", got)
	}
}

func TestGetRuntimePorts_ReturnsStoredPorts(t *testing.T) {
	s := &fakeRuntimePortsStore{ports: &domain.RuntimePorts{ReceiverPort: 5555, PublisherPort: 5556}}
	h := NewRuntimeHandler(s, &fakeGatherer{})

	req := httptest.NewRequest("GET", "/api/runtime-ports", nil)
	w := httptest.NewRecorder()
	h.GetRuntimePorts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got domain.RuntimePorts
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ReceiverPort != 5555 {
		t.Fatalf("got = %+v", got)
	}
}
