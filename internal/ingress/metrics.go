package ingress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesHandled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ingress",
		Name:      "frames_handled_total",
		Help:      "Frames successfully dispatched from the pull socket.",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ingress",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped before dispatch, by reason.",
	}, []string{"reason"})

	framesPanicked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ingress",
		Name:      "frames_panicked_total",
		Help:      "Dispatches that recovered from a panic.",
	})
)
