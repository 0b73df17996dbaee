package config

import "time"

// Config holds every configuration option spec.md §6 names, each with
// the compiled-in default shown in that table.
type Config struct {
	Port       int
	BridgeURL  string
	AlarmWebhookURL string

	SelfHealMinInterval        time.Duration
	PendingSnapshotMinInterval time.Duration
	DeferredReplayMinInterval  time.Duration
	BufferedRetryWarnSeconds   time.Duration

	PendingSnapshotRetryAttempts int
	PendingSnapshotRetrySleep    time.Duration

	UncertainFails      int
	UncertainTTL        time.Duration
	UncertainReplayLogInterval time.Duration

	PendingSellClearEmptySnapshots int
	PendingSellClearEmptySeconds   time.Duration
	ActiveBuyClearEmptySnapshots   int
	ActiveBuyClearEmptySeconds     time.Duration

	OrderStateMemoryMaxItems int
	OrderStateMemoryTTL      time.Duration

	CashDegradedTTL        time.Duration
	DeferredClearGrace     time.Duration
	MaxRejectionDowngrades int
	LotSize                int

	CommissionRate float64
	SlippageRate   float64

	LongGapSeconds time.Duration

	// Open-question policy flags (DESIGN.md).
	ReleaseOnCancelDuringUncertain bool
	StrictMixedSnapshot            bool
	MixedSnapshotConfirmations     int
	RebalanceCashBufferFraction    float64
}

// FromEnv builds a Config purely from the process environment,
// applying spec.md §6's defaults for anything unset. It does not read
// a .env file; call Load() for that.
func FromEnv() Config {
	return Config{
		Port:            getEnvInt("PORT", 8090),
		BridgeURL:       getEnv("BRIDGE_URL", ""),
		AlarmWebhookURL: getEnv("ALARM_WEBHOOK_URL", ""),

		SelfHealMinInterval:        secondsEnv("BROKER_SELF_HEAL_MIN_INTERVAL_SECONDS", 1.0),
		PendingSnapshotMinInterval: secondsEnv("BROKER_PENDING_SNAPSHOT_MIN_INTERVAL_SECONDS", 2.0),
		DeferredReplayMinInterval:  secondsEnv("BROKER_DEFERRED_REPLAY_INTERVAL_SECONDS", 2.0),
		BufferedRetryWarnSeconds:   secondsEnv("BROKER_BUFFERED_RETRY_WARN_SECONDS", 20.0),

		PendingSnapshotRetryAttempts: getEnvInt("BROKER_PENDING_SNAPSHOT_RETRY_ATTEMPTS", 2),
		PendingSnapshotRetrySleep:    time.Duration(getEnvInt("BROKER_PENDING_SNAPSHOT_RETRY_SLEEP_MS", 50)) * time.Millisecond,

		UncertainFails:             getEnvInt("BROKER_PENDING_SNAPSHOT_UNCERTAIN_FAILS", 3),
		UncertainTTL:               secondsEnv("BROKER_PENDING_SNAPSHOT_UNCERTAIN_TTL_SECONDS", 60.0),
		UncertainReplayLogInterval: secondsEnv("BROKER_UNCERTAIN_REPLAY_LOG_INTERVAL_SECONDS", 30.0),

		PendingSellClearEmptySnapshots: getEnvInt("BROKER_PENDING_SELL_CLEAR_EMPTY_SNAPSHOTS", 2),
		PendingSellClearEmptySeconds:   secondsEnv("BROKER_PENDING_SELL_CLEAR_EMPTY_SECONDS", 20.0),
		ActiveBuyClearEmptySnapshots:   getEnvInt("BROKER_ACTIVE_BUY_CLEAR_EMPTY_SNAPSHOTS", 2),
		ActiveBuyClearEmptySeconds:     secondsEnv("BROKER_ACTIVE_BUY_CLEAR_EMPTY_SECONDS", 20.0),

		OrderStateMemoryMaxItems: getEnvInt("BROKER_ORDER_STATE_MEMORY_MAX_ITEMS", 5000),
		OrderStateMemoryTTL:      time.Duration(getEnvFloat("BROKER_ORDER_STATE_MEMORY_TTL_HOURS", 12.0) * float64(time.Hour)),

		CashDegradedTTL:        secondsEnv("BROKER_CASH_DEGRADED_TTL_SECONDS", 30.0),
		DeferredClearGrace:     secondsEnv("BROKER_DEFERRED_CLEAR_GRACE_SECONDS", 5.0),
		MaxRejectionDowngrades: getEnvInt("BROKER_MAX_REJECTION_DOWNGRADES", 3),
		LotSize:                getEnvInt("BROKER_LOT_SIZE", 100),

		CommissionRate: getEnvFloat("BROKER_COMMISSION_RATE", 0.0003),
		SlippageRate:   getEnvFloat("BROKER_SLIPPAGE_RATE", 0.0005),

		LongGapSeconds: secondsEnv("BROKER_LONG_GAP_SECONDS", 600.0),

		ReleaseOnCancelDuringUncertain: getEnvBool("BROKER_RELEASE_ON_CANCEL_DURING_UNCERTAIN", true),
		StrictMixedSnapshot:            getEnvBool("BROKER_STRICT_MIXED_SNAPSHOT", false),
		MixedSnapshotConfirmations:     getEnvInt("BROKER_MIXED_SNAPSHOT_CONFIRMATIONS", 2),
		RebalanceCashBufferFraction:    getEnvFloat("BROKER_REBALANCE_CASH_BUFFER_FRACTION", 0.0),
	}
}

func secondsEnv(key string, def float64) time.Duration {
	return time.Duration(getEnvFloat(key, def) * float64(time.Second))
}
