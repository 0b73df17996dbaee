// Package config loads the Live Broker Core's configuration from the
// environment, porting the teacher's dependency-free .env reader and
// getEnv* helpers.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// neededKeys is every config key the core recognizes (spec.md §6),
// mirroring the teacher's whitelist approach in loadBotEnv: only these
// keys are imported from a .env file, so secrets not meant for this
// process (e.g. venue credentials consumed by a sidecar) are left
// alone.
var neededKeys = map[string]struct{}{
	"BROKER_SELF_HEAL_MIN_INTERVAL_SECONDS":            {},
	"BROKER_PENDING_SNAPSHOT_MIN_INTERVAL_SECONDS":     {},
	"BROKER_DEFERRED_REPLAY_INTERVAL_SECONDS":          {},
	"BROKER_BUFFERED_RETRY_WARN_SECONDS":               {},
	"BROKER_PENDING_SNAPSHOT_RETRY_ATTEMPTS":           {},
	"BROKER_PENDING_SNAPSHOT_RETRY_SLEEP_MS":           {},
	"BROKER_PENDING_SNAPSHOT_UNCERTAIN_FAILS":          {},
	"BROKER_PENDING_SNAPSHOT_UNCERTAIN_TTL_SECONDS":    {},
	"BROKER_PENDING_SELL_CLEAR_EMPTY_SNAPSHOTS":        {},
	"BROKER_PENDING_SELL_CLEAR_EMPTY_SECONDS":          {},
	"BROKER_ACTIVE_BUY_CLEAR_EMPTY_SNAPSHOTS":          {},
	"BROKER_ACTIVE_BUY_CLEAR_EMPTY_SECONDS":            {},
	"BROKER_ORDER_STATE_MEMORY_MAX_ITEMS":              {},
	"BROKER_ORDER_STATE_MEMORY_TTL_HOURS":              {},
	"BROKER_CASH_DEGRADED_TTL_SECONDS":                 {},
	"BROKER_DEFERRED_CLEAR_GRACE_SECONDS":              {},
	"BROKER_MAX_REJECTION_DOWNGRADES":                  {},
	"BROKER_LOT_SIZE":                                  {},
	"BROKER_COMMISSION_RATE":                           {},
	"BROKER_SLIPPAGE_RATE":                             {},
	"BROKER_LONG_GAP_SECONDS":                          {},
	"BROKER_RELEASE_ON_CANCEL_DURING_UNCERTAIN":        {},
	"BROKER_STRICT_MIXED_SNAPSHOT":                     {},
	"BROKER_MIXED_SNAPSHOT_CONFIRMATIONS":              {},
	"BROKER_REBALANCE_CASH_BUFFER_FRACTION":            {},
	"BROKER_UNCERTAIN_REPLAY_LOG_INTERVAL_SECONDS":     {},
	"PORT":        {},
	"BRIDGE_URL":  {},
	"ALARM_WEBHOOK_URL": {},
}

// Load reads ./.env and ../.env (teacher's loadBotEnv search order),
// setting only the keys listed in neededKeys and never overriding a
// variable already present in the environment, then builds a Config
// from the resulting environment.
func Load() Config {
	loadDotEnv()
	return FromEnv()
}

func loadDotEnv() {
	try := func(path string) {
		f, err := os.Open(path)
		if err != nil {
			return
		}
		defer f.Close()
		s := bufio.NewScanner(f)
		for s.Scan() {
			line := strings.TrimSpace(s.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if strings.HasPrefix(line, "export ") {
				line = strings.TrimSpace(line[len("export "):])
			}
			eq := strings.Index(line, "=")
			if eq <= 0 {
				continue
			}
			key := strings.TrimSpace(line[:eq])
			if _, ok := neededKeys[key]; !ok {
				continue
			}
			val := strings.TrimSpace(line[eq+1:])
			if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
				val = val[1 : len(val)-1]
			}
			if idx := strings.IndexAny(val, "#"); idx >= 0 {
				val = strings.TrimSpace(val[:idx])
			}
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, val)
			}
		}
	}
	for _, base := range []string{".", ".."} {
		try(filepath.Join(base, ".env"))
	}
}
