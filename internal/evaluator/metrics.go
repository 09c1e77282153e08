package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var masterEvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "relay",
	Subsystem: "evaluator",
	Name:      "master_evaluations_total",
	Help:      "Total number of Master status evaluations",
})

var masterEvaluationsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "relay",
	Subsystem: "evaluator",
	Name:      "master_evaluations_failed_total",
	Help:      "Master status evaluations that failed due to a store error",
})

var slaveEvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "relay",
	Subsystem: "evaluator",
	Name:      "slave_evaluations_total",
	Help:      "Total number of Slave membership status evaluations",
})

var slaveEvaluationsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "relay",
	Subsystem: "evaluator",
	Name:      "slave_evaluations_failed_total",
	Help:      "Slave membership status evaluations that failed due to a store error",
})

var slaveBundlesBuilt = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "relay",
	Subsystem: "evaluator",
	Name:      "slave_bundles_built_total",
	Help:      "Number of times a Slave's status changed enough to rebuild its config bundle",
})

var lastClusterSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "relay",
	Subsystem: "evaluator",
	Name:      "last_cluster_size",
	Help:      "Number of Masters considered in a Slave's most recent cluster snapshot",
}, []string{"slave_account"})
