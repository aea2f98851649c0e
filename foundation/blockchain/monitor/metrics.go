package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	// blocksTotal counts the blocks read from the mailbox by outcome.
	blocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minernet_monitor_blocks_total",
			Help: "Blocks read from the mailbox by outcome (verified, failed, duplicate).",
		},
		[]string{"outcome"},
	)

	// lastBlock holds the id of the last verified block.
	lastBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minernet_monitor_last_block",
			Help: "Id of the last verified block.",
		},
	)

	// ledgerErrors counts the blocks that could not be written to the ledger.
	ledgerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "minernet_monitor_ledger_errors_total",
			Help: "Blocks that could not be appended to the ledger.",
		},
	)
)

func init() {
	prometheus.MustRegister(blocksTotal)
	prometheus.MustRegister(lastBlock)
	prometheus.MustRegister(ledgerErrors)
}
