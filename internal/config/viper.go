package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadViper is an alternate entry point for operators who want layered
// config-file + env precedence instead of the teacher's flat .env
// reader; no command-line flags are bound. It reads the same keys as FromEnv via viper's env
// binding (so BROKER_LOT_SIZE maps to broker_lot_size in a config
// file), falling back to the same spec.md §6 defaults. The default
// Load() keeps working dependency-free; this is opt-in.
func LoadViper(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	get := func(key string, def float64) float64 {
		if v.IsSet(key) {
			return v.GetFloat64(key)
		}
		return def
	}
	getInt := func(key string, def int) int {
		if v.IsSet(key) {
			return v.GetInt(key)
		}
		return def
	}
	getBool := func(key string, def bool) bool {
		if v.IsSet(key) {
			return v.GetBool(key)
		}
		return def
	}
	getStr := func(key, def string) string {
		if v.IsSet(key) {
			return v.GetString(key)
		}
		return def
	}
	secs := func(key string, def float64) time.Duration {
		return time.Duration(get(key, def) * float64(time.Second))
	}

	return Config{
		Port:            getInt("port", 8090),
		BridgeURL:       getStr("bridge_url", ""),
		AlarmWebhookURL: getStr("alarm_webhook_url", ""),

		SelfHealMinInterval:        secs("broker_self_heal_min_interval_seconds", 1.0),
		PendingSnapshotMinInterval: secs("broker_pending_snapshot_min_interval_seconds", 2.0),
		DeferredReplayMinInterval:  secs("broker_deferred_replay_interval_seconds", 2.0),
		BufferedRetryWarnSeconds:   secs("broker_buffered_retry_warn_seconds", 20.0),

		PendingSnapshotRetryAttempts: getInt("broker_pending_snapshot_retry_attempts", 2),
		PendingSnapshotRetrySleep:    time.Duration(getInt("broker_pending_snapshot_retry_sleep_ms", 50)) * time.Millisecond,

		UncertainFails:             getInt("broker_pending_snapshot_uncertain_fails", 3),
		UncertainTTL:               secs("broker_pending_snapshot_uncertain_ttl_seconds", 60.0),
		UncertainReplayLogInterval: secs("broker_uncertain_replay_log_interval_seconds", 30.0),

		PendingSellClearEmptySnapshots: getInt("broker_pending_sell_clear_empty_snapshots", 2),
		PendingSellClearEmptySeconds:   secs("broker_pending_sell_clear_empty_seconds", 20.0),
		ActiveBuyClearEmptySnapshots:   getInt("broker_active_buy_clear_empty_snapshots", 2),
		ActiveBuyClearEmptySeconds:     secs("broker_active_buy_clear_empty_seconds", 20.0),

		OrderStateMemoryMaxItems: getInt("broker_order_state_memory_max_items", 5000),
		OrderStateMemoryTTL:      time.Duration(get("broker_order_state_memory_ttl_hours", 12.0) * float64(time.Hour)),

		CashDegradedTTL:        secs("broker_cash_degraded_ttl_seconds", 30.0),
		DeferredClearGrace:     secs("broker_deferred_clear_grace_seconds", 5.0),
		MaxRejectionDowngrades: getInt("broker_max_rejection_downgrades", 3),
		LotSize:                getInt("broker_lot_size", 100),

		CommissionRate: get("broker_commission_rate", 0.0003),
		SlippageRate:   get("broker_slippage_rate", 0.0005),

		LongGapSeconds: secs("broker_long_gap_seconds", 600.0),

		ReleaseOnCancelDuringUncertain: getBool("broker_release_on_cancel_during_uncertain", true),
		StrictMixedSnapshot:            getBool("broker_strict_mixed_snapshot", false),
		MixedSnapshotConfirmations:     getInt("broker_mixed_snapshot_confirmations", 2),
		RebalanceCashBufferFraction:    get("broker_rebalance_cash_buffer_fraction", 0.0),
	}, nil
}
