package egress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "egress",
		Name:      "frames_published_total",
		Help:      "Frames accepted for publication on the pub socket.",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "egress",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because a subscriber's send queue was full.",
	})
)
