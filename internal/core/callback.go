package core

import (
	"context"
	"time"

	"github.com/quantada/brokercore/internal/alarm"
	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/ledger"
	"github.com/quantada/brokercore/internal/metrics"
	"github.com/quantada/brokercore/internal/reconcile"
	"github.com/quantada/brokercore/internal/tracker"
)

// OnOrderStatus implements spec.md §4.6: the adapter's callback entry
// point, idempotent for identical terminal events. It always updates
// Order State Memory first, then applies the terminal-state side
// effects under the ledger lock, and finally (outside the lock) may
// run the sell-filled hook.
func (t *Trader) OnOrderStatus(ctx context.Context, h *broker.OrderHandle) {
	if h == nil || h.ID == "" {
		return
	}
	now := t.now()

	t.mu.Lock()
	entry := &tracker.StateEntry{
		Symbol:    h.Symbol,
		Side:      string(h.Side),
		Terminal:  h.Completed || h.Canceled || h.Rejected,
		Pending:   h.Pending,
		UpdatedAt: now,
	}
	t.stateMemory.Remember(h.ID, entry, now)

	var sellFilled bool
	var releasedRetry *tracker.BufferedRetry
	var releasedID string

	switch {
	case h.IsBuy() && h.Completed:
		if rec, ok := t.activeBuys.Pop(h.ID); ok {
			t.refund(rec)
		}

	case h.IsBuy() && h.Canceled:
		if rec, ok := t.activeBuys.Pop(h.ID); ok {
			t.refund(rec)
		}
		if t.cfg.ReleaseOnCancelDuringUncertain || !t.uncertainActiveLocked(now) {
			if r, ok := t.bufferedRetries.Get(h.ID); ok {
				releasedRetry = r
				releasedID = h.ID
			}
		}

	case h.IsBuy() && h.Rejected:
		if rec, ok := t.activeBuys.Pop(h.ID); ok {
			t.refund(rec)
			if rec.Retries < t.cfg.MaxRejectionDowngrades {
				t.bufferedRetries.Put(h.ID, &tracker.BufferedRetry{
					Symbol:      rec.Symbol,
					NewShares:   rec.Shares, // prior size; RecalcRejectedBuyShares shrinks it at drain time
					Price:       rec.Price,
					LotSize:     rec.LotSize,
					NextRetries: rec.Retries + 1,
					QueuedAt:    now,
				})
			} else {
				t.log.Warn("rejection retries exhausted", "symbol", rec.Symbol, "order_id", h.ID)
				t.notifier.Notify(alarm.LevelWarning, "rejection retries exhausted for "+rec.Symbol)
			}
		}

	case h.IsSell() && h.Completed:
		t.pendingSells.Discard(h.ID)
		sellFilled = true

	case h.IsSell() && (h.Canceled || h.Rejected):
		t.pendingSells.Discard(h.ID)
		if t.deferred.Len() > 0 {
			n := t.deferred.Len()
			t.deferred.Clear()
			t.log.Info("sell canceled/rejected, clearing deferred buys predicated on its cash", "count", n)
		}
	}
	t.mu.Unlock()

	if releasedRetry != nil {
		t.submitBufferedRetry(ctx, releasedID, releasedRetry)
	}

	if sellFilled {
		t.onSellFilled(ctx)
	}
}

// refund must be called with t.mu held.
func (t *Trader) refund(rec *tracker.ActiveBuy) {
	amount := ledger.Reservation(rec.Shares, rec.Price, t.safetyMultiplier)
	t.ledger.Refund(amount)
	amountF, _ := amount.Float64()
	metrics.Refunds.WithLabelValues(rec.Symbol, "terminal").Inc()
	metrics.VirtualSpentUSD.Sub(amountF)
}

// onSellFilled implements spec.md §4.6's sell-filled hook: sync cash
// from the adapter, optionally honor the adapter's settlement-delay
// hint, then force-run self-heal so deferred buys can replay.
func (t *Trader) onSellFilled(ctx context.Context) {
	if sd, ok := t.adapter.(broker.SettleDelayer); ok {
		if d := sd.SettleDelay(); d > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
		}
	}
	t.SyncBalance(ctx)
	t.selfHeal(ctx, "sell_filled", true)
}

// submitBufferedRetry implements the actual resubmission referenced by
// spec.md §4.6's rejected-BUY retry and §4.5(c)'s drain: recompute the
// affordable size against current cash, then submit through the
// adapter directly (not through the intent translator, since the
// retry already knows its target symbol/price and does not re-evaluate
// NAV mid-retry-chain). The risk lock is still checked: a retry for a
// risk-locked symbol is dropped.
func (t *Trader) submitBufferedRetry(ctx context.Context, sourceID string, payload *tracker.BufferedRetry) {
	cashNow, err := t.adapter.FetchCash(ctx)
	if err != nil {
		t.log.Warn("buffered retry: cash fetch failed", "source_id", sourceID, "err", err)
		return
	}

	t.mu.Lock()
	available := t.ledger.AvailableCash(cashNow)
	recalc := reconcile.RecalcRejectedBuyShares(payload.NewShares, payload.Price, payload.LotSize, t.safetyMultiplier, available)
	locked := t.isRiskLocked(payload.Symbol)
	t.bufferedRetries.Delete(sourceID)
	t.mu.Unlock()

	if locked {
		t.log.Info("buffered retry dropped: symbol risk-locked", "symbol", payload.Symbol)
		return
	}
	if recalc <= 0 {
		t.log.Warn("buffered retry: recalculated size is zero, dropping", "symbol", payload.Symbol, "source_id", sourceID)
		return
	}

	handle, err := t.adapter.SubmitOrder(ctx, payload.Symbol, broker.SideBuy, float64(recalc), payload.Price)
	if err != nil || handle == nil || handle.Rejected {
		t.log.Warn("buffered retry: resubmit failed", "symbol", payload.Symbol, "err", err)
		metrics.RejectionRetries.WithLabelValues(payload.Symbol).Inc()
		return
	}

	submitted := float64(recalc)
	if handle.FilledSize > 0 {
		submitted = handle.FilledSize
	}
	reservation := ledger.Reservation(submitted, payload.Price, t.safetyMultiplier)

	t.mu.Lock()
	t.activeBuys.Put(&tracker.ActiveBuy{
		OrderID:   handle.ID,
		Symbol:    payload.Symbol,
		Shares:    submitted,
		Price:     payload.Price,
		LotSize:   payload.LotSize,
		Retries:   payload.NextRetries,
		CreatedAt: t.now(),
	})
	t.ledger.Reserve(reservation)
	t.mu.Unlock()

	metrics.RejectionRetries.WithLabelValues(payload.Symbol).Inc()
	reservedF, _ := reservation.Float64()
	metrics.VirtualSpentUSD.Add(reservedF)
}
