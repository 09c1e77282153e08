package copyengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signalsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "copyengine",
		Name:      "signals_evaluated_total",
		Help:      "Trade signals evaluated against a Slave membership.",
	})

	signalsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "copyengine",
		Name:      "signals_published_total",
		Help:      "Transformed trade signals published to a Slave.",
	})

	signalsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "copyengine",
		Name:      "signals_skipped_total",
		Help:      "Trade signals skipped for a Slave membership, by reason.",
	}, []string{"reason"})

	signalsPublishFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "copyengine",
		Name:      "signals_publish_failed_total",
		Help:      "Publish attempts that returned an error.",
	})
)
