package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	ledgerReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_idempotent_replays_total",
			Help: "Operations answered from the transaction log without re-applying.",
		},
	)

	ledgerRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_tx_retries_total",
			Help: "Ledger transactions retried after contention.",
		},
	)
)
