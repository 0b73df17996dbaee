package core

import (
	"context"
	"time"

	"github.com/quantada/brokercore/internal/alarm"
	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/metrics"
	"github.com/quantada/brokercore/internal/tracker"
)

// GetCash implements spec.md §5/§6's get_cash: the adapter call
// happens outside the lock, the virtual-spent subtraction happens
// under it.
func (t *Trader) GetCash(ctx context.Context) float64 {
	real, err := t.adapter.FetchCash(ctx)
	if err != nil {
		t.log.Warn("get_cash: fetch failed", "err", err)
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger.AvailableCash(real)
}

// GetRebalanceCash is the strategy-facing cash figure used for
// rebalance-plan sizing. It matches get_cash by default but reserves
// RebalanceCashBufferFraction of it so a rebalance plan doesn't spend
// down to the last cent the reconciler might still need (SPEC_FULL.md's
// supplemented get_rebalance_cash feature).
func (t *Trader) GetRebalanceCash(ctx context.Context) float64 {
	cash := t.GetCash(ctx)
	if t.cfg.RebalanceCashBufferFraction <= 0 {
		return cash
	}
	return cash * (1 - t.cfg.RebalanceCashBufferFraction)
}

// SyncBalance re-fetches cash and clears the cash-degraded window on
// success.
func (t *Trader) SyncBalance(ctx context.Context) {
	_, err := t.adapter.FetchCash(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		if t.ledger.MarkCashDegraded("sync_balance: "+errString(err), t.cfg.CashDegradedTTL, t.now()) {
			metrics.CashDegradedWindows.Inc()
		}
		return
	}
	t.ledger.ClearCashDegraded()
}

// PreStrategyCheck implements spec.md §6/§7's strategy fast-fail gate.
func (t *Trader) PreStrategyCheck() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.ledger.IsCashDegraded(t.now())
}

func (t *Trader) HasDeferredOrders() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deferred.Len() > 0
}

func (t *Trader) HasRuntimeBacklog() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deferred.Len() > 0 || t.pendingSells.Len() > 0 || t.activeBuys.Len() > 0 || t.bufferedRetries.Len() > 0
}

// HasPendingOrder reports whether any tracked order matches sym (and
// side, if non-empty). Returns nil when the answer can't be determined
// locally (mirrors the tri-state contract used throughout reconcile).
func (t *Trader) HasPendingOrder(sym string, side broker.Side) *bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if side == "" || side == broker.SideBuy {
		for _, rec := range t.activeBuys.All() {
			if rec.Symbol == sym {
				v := true
				return &v
			}
		}
	}
	if side == "" || side == broker.SideSell {
		if t.pendingSells.Len() > 0 {
			// Pending-sell set carries no symbol, so a non-empty set can't
			// confirm or rule out sym: unknown, not false.
			return nil
		}
	}
	v := false
	return &v
}

// ForceResetState is the operator rescue entrypoint (spec.md §6):
// unconditionally applies the same clear spec.md §4.9 performs on a
// day rollover, then re-runs self-heal.
func (t *Trader) ForceResetState(ctx context.Context) {
	t.mu.Lock()
	t.resetStaleStateLocked()
	t.mu.Unlock()
	metrics.StaleStateResets.Inc()
	t.notifier.Notify(alarm.LevelWarning, "stale state force-reset by operator")
	t.selfHeal(ctx, "force_reset", true)
}

// resetStaleStateLocked clears every queue and the virtual-spent
// ledger. Caller must hold t.mu.
func (t *Trader) resetStaleStateLocked() {
	t.deferred.Clear()
	t.activeBuys.Clear()
	t.pendingSells.Clear()
	t.bufferedRetries.Clear()
	t.stateMemory.Clear()
	t.uncertainUntil = time.Time{}
	t.snapshotFailCount = 0
	t.snapshotFailSince = time.Time{}
	t.ledger.ClearCashDegraded()
	t.ledger.Reset()
	metrics.VirtualSpentUSD.Set(0)
	t.deferredQueueEmptySince = time.Time{}
	t.placeholderClearLogged = false
}

// SetDatetime implements spec.md §4.9's stale-state reset trigger.
func (t *Trader) SetDatetime(ctx context.Context, newDT time.Time) {
	t.mu.Lock()
	prev := t.datetime
	gap := newDT.Sub(prev)
	newDay := !prev.IsZero() && newDT.UTC().Format("2006-01-02") != prev.UTC().Format("2006-01-02")
	longGap := gap > t.cfg.LongGapSeconds
	anyStale := t.deferred.Len() > 0 || t.pendingSells.Len() > 0 || t.activeBuys.Len() > 0 ||
		t.bufferedRetries.Len() > 0 || !t.ledger.VirtualSpent().IsZero()

	reset := (newDay || longGap) && anyStale
	if reset {
		t.resetStaleStateLocked()
	}
	t.datetime = newDT
	t.mu.Unlock()

	if reset {
		metrics.StaleStateResets.Inc()
		t.log.Warn("stale state reset", "new_day", newDay, "long_gap", longGap, "gap", gap)
		t.notifier.Notify(alarm.LevelInfo, "stale-state reset triggered by day rollover or long gap")
	}
	t.selfHeal(ctx, "set_datetime", false)
}

// Datetime returns the core's current logical clock.
func (t *Trader) Datetime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.datetime
}

// ProcessDeferredOrders implements spec.md §4.8's explicit replay.
// assumeSellCleared=true skips the uncertain-mode check for a caller that
// has confirmed its sells cleared. Self-heal calls it with
// assumeSellCleared=false once CanReplayDeferred allows; the sell-filled
// hook reaches it through a forced self-heal, so the same gate applies.
func (t *Trader) ProcessDeferredOrders(ctx context.Context, assumeSellCleared bool) {
	if !assumeSellCleared {
		t.mu.Lock()
		uncertain := t.uncertainActiveLocked(t.now())
		t.mu.Unlock()
		if uncertain {
			t.log.Info("deferred replay skipped: uncertain mode")
			return
		}
	}

	t.mu.Lock()
	items := t.deferred.Drain()
	t.mu.Unlock()
	if len(items) == 0 {
		return
	}

	var failed []*deferredFailure
	for _, item := range items {
		var handle *broker.OrderHandle
		if item.IsPercent {
			handle = t.OrderTargetPercent(ctx, item.Symbol, item.Target)
		} else {
			handle = t.OrderTargetValue(ctx, item.Symbol, item.Target)
		}
		if handle == nil || broker.IsVirtualDeferred(handle) {
			failed = append(failed, &deferredFailure{item: item})
			continue
		}
		metrics.DeferredReplays.WithLabelValues("submitted").Inc()
	}

	if len(failed) > 0 {
		t.mu.Lock()
		for _, f := range failed {
			f.item.FailCount++
			t.deferred.Enqueue(f.item.Symbol, f.item.IsPercent, f.item.Target, t.now())
			metrics.DeferredReplays.WithLabelValues("failed").Inc()
		}
		t.mu.Unlock()
	}
}

type deferredFailure struct {
	item *tracker.DeferredItem
}
