package handlers

import (
	"context"
	"net/http"
	"strings"

	dto "github.com/prometheus/client_model/go"

	"relay/internal/domain"
)

// RuntimePortsStore is the slice of internal/store.Store the runtime-ports
// handler needs.
type RuntimePortsStore interface {
	GetRuntimePorts(ctx context.Context) (*domain.RuntimePorts, error)
}

// MetricsGatherer is satisfied by prometheus.Gatherer (the default registry
// via prometheus.DefaultGatherer).
type MetricsGatherer interface {
	Gather() ([]*dto.MetricFamily, error)
}

type RuntimeHandler struct {
	store    RuntimePortsStore
	gatherer MetricsGatherer
}

func NewRuntimeHandler(store RuntimePortsStore, gatherer MetricsGatherer) *RuntimeHandler {
	return &RuntimeHandler{store: store, gatherer: gatherer}
}

// GetRuntimePorts handles GET /api/runtime-ports.
func (h *RuntimeHandler) GetRuntimePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := h.store.GetRuntimePorts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondOK(w, ports)
}

// GetRuntimeStatusMetrics handles GET /api/runtime-status-metrics: a flat
// snapshot of the evaluator/copyengine/ingress Prometheus counters, for UIs
// that would rather poll JSON than scrape /metrics.
func (h *RuntimeHandler) GetRuntimeStatusMetrics(w http.ResponseWriter, r *http.Request) {
	families, err := h.gatherer.Gather()
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, "relay_evaluator_") &&
			!strings.HasPrefix(name, "relay_copyengine_") &&
			!strings.HasPrefix(name, "relay_ingress_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := name
			for _, lp := range m.GetLabel() {
				key = key + "." + lp.GetValue()
			}
			switch {
			case m.Counter != nil:
				out[key] = m.GetCounter().GetValue()
			case m.Gauge != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	respondOK(w, out)
}
