// Package metrics exposes the core's Prometheus instrumentation,
// generalizing the teacher's metrics.go (CounterVec/Gauge/GaugeVec
// registered in init(), served via promhttp.Handler()) to the Live
// Broker Core's own operations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokercore_reservations_total",
			Help: "Virtual-spent reservations added, by symbol.",
		},
		[]string{"symbol"},
	)

	Refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokercore_refunds_total",
			Help: "Virtual-spent refunds issued, by symbol and reason.",
		},
		[]string{"symbol", "reason"}, // reason: terminal (the only value the core emits)
	)

	VirtualSpentUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brokercore_virtual_spent_usd",
			Help: "Current virtual-spent reservation total.",
		},
	)

	ReconcileDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokercore_reconcile_drops_total",
			Help: "Entries dropped by the reconciler, by table.",
		},
		[]string{"table"}, // pending_sells|active_buys|buffered_retries
	)

	UncertainModeEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brokercore_uncertain_mode_entries_total",
			Help: "Number of times uncertain mode was entered.",
		},
	)

	UncertainModeActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brokercore_uncertain_mode_active",
			Help: "1 while uncertain mode is active, 0 otherwise.",
		},
	)

	DeferredReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokercore_deferred_replays_total",
			Help: "Deferred BUY intents replayed, by outcome.",
		},
		[]string{"outcome"}, // submitted|failed
	)

	RejectionRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokercore_rejection_retries_total",
			Help: "BUY rejection-downgrade retries submitted, by symbol.",
		},
		[]string{"symbol"},
	)

	CashDegradedWindows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brokercore_cash_degraded_windows_total",
			Help: "Number of times the cash-degraded window was opened.",
		},
	)

	StaleStateResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brokercore_stale_state_resets_total",
			Help: "Number of stale-state resets triggered by day rollover or long gaps.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Reservations,
		Refunds,
		VirtualSpentUSD,
		ReconcileDrops,
		UncertainModeEntries,
		UncertainModeActive,
		DeferredReplays,
		RejectionRetries,
		CashDegradedWindows,
		StaleStateResets,
	)
}
