// Package core is the Live Broker Core: the order-intent translator,
// smart buy/sell, reconciler driver, callback handler, self-heal loop,
// and stale-state reset, wired together as the Trader type. It keeps
// the teacher's lock discipline (a single mutex, explicit Lock/Unlock
// pairs, and "Locked" suffixed helpers documenting what the caller
// must already hold) generalized from the teacher's per-product
// trading loop to the multi-symbol intent surface this spec names.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantada/brokercore/internal/alarm"
	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/config"
	"github.com/quantada/brokercore/internal/ledger"
	"github.com/quantada/brokercore/internal/metrics"
	"github.com/quantada/brokercore/internal/reconcile"
	"github.com/quantada/brokercore/internal/statelog"
	"github.com/quantada/brokercore/internal/symbol"
	"github.com/quantada/brokercore/internal/tracker"
)

// Trader is the Live Broker Core. All exported methods are safe for
// concurrent use by strategy threads, adapter callback threads, and a
// heartbeat/timer thread, per spec.md §5.
type Trader struct {
	mu sync.Mutex

	cfg      config.Config
	adapter  broker.Adapter
	notifier alarm.Notifier
	sink     statelog.Sink
	log      *slog.Logger

	ledger          *ledger.Ledger
	activeBuys      *tracker.ActiveBuys
	pendingSells    *tracker.PendingSells
	bufferedRetries *tracker.BufferedRetries
	deferred        *tracker.DeferredQueue
	stateMemory     *tracker.StateMemory

	riskLocked map[string]bool

	uncertainUntil    time.Time
	snapshotFailCount int
	snapshotFailSince time.Time

	lastSelfHealAt       time.Time
	lastSnapshotAt       time.Time
	lastDeferredReplayAt time.Time
	lastUncertainLogAt   time.Time

	datetime time.Time

	// deferredQueueEmptySince marks when the deferred queue and buffered
	// retries both last became empty, for spec.md §4.8's grace-period
	// clear of the strategy's virtual placeholder.
	deferredQueueEmptySince time.Time
	placeholderClearLogged  bool

	safetyMultiplier decimal.Decimal

	// clock overrides time.Now for deterministic tests; nil in production.
	clock func() time.Time
}

// New wires a Trader from its collaborators. notifier and sink may be
// nil, in which case alarm.NoopNotifier / statelog.NoopSink are used.
func New(cfg config.Config, adapter broker.Adapter, notifier alarm.Notifier, sink statelog.Sink, log *slog.Logger) *Trader {
	if notifier == nil {
		notifier = alarm.NoopNotifier{}
	}
	if sink == nil {
		sink = statelog.NoopSink{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Trader{
		cfg:              cfg,
		adapter:          adapter,
		notifier:         notifier,
		sink:             sink,
		log:              log.With("component", "core.Trader"),
		ledger:           ledger.New(),
		activeBuys:       tracker.NewActiveBuys(),
		pendingSells:     tracker.NewPendingSells(),
		bufferedRetries:  tracker.NewBufferedRetries(),
		deferred:         tracker.NewDeferredQueue(),
		stateMemory:      tracker.NewStateMemory(cfg.OrderStateMemoryMaxItems, cfg.OrderStateMemoryTTL),
		riskLocked:       map[string]bool{},
		safetyMultiplier: ledger.SafetyMultiplier(cfg.CommissionRate, cfg.SlippageRate),
		datetime:         time.Now().UTC(),
	}
}

func (t *Trader) record(ctx context.Context, kind, sym, detail string) {
	_ = t.sink.Record(ctx, statelog.Event{At: time.Now().UTC(), Kind: kind, Symbol: sym, Detail: detail})
}

func (t *Trader) reconcileConfig() reconcile.Config {
	return reconcile.Config{
		PendingSellClearEmptySnapshots: t.cfg.PendingSellClearEmptySnapshots,
		PendingSellClearEmptySeconds:   t.cfg.PendingSellClearEmptySeconds,
		ActiveBuyClearEmptySnapshots:   t.cfg.ActiveBuyClearEmptySnapshots,
		ActiveBuyClearEmptySeconds:     t.cfg.ActiveBuyClearEmptySeconds,
		StrictMixedSnapshot:            t.cfg.StrictMixedSnapshot,
		MixedSnapshotConfirmations:     t.cfg.MixedSnapshotConfirmations,
	}
}

// -----------------------------------------------------------------
// Risk lock
// -----------------------------------------------------------------

func (t *Trader) LockForRisk(sym string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.riskLocked[sym] = true
}

func (t *Trader) UnlockForRisk(sym string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.riskLocked, sym)
}

// now is the Trader's clock source. Tests substitute t.clock.
func (t *Trader) now() time.Time {
	if t.clock != nil {
		return t.clock()
	}
	return time.Now().UTC()
}

func (t *Trader) isRiskLocked(sym string) bool {
	if t.riskLocked[sym] {
		return true
	}
	for locked := range t.riskLocked {
		if symbol.Match(locked, sym) {
			return true
		}
	}
	return false
}
