package core

import (
	"context"

	"github.com/quantada/brokercore/internal/alarm"
	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/ledger"
	"github.com/quantada/brokercore/internal/metrics"
	"github.com/quantada/brokercore/internal/tracker"
)

// smartBuy implements spec.md §4.3's Smart Buy. sym is the translated
// intent's symbol, shares is the raw (pre-lot) delta to acquire, target
// is the original fraction/value (for deferred-queue re-dispatch).
func (t *Trader) smartBuy(ctx context.Context, sym string, shares, price float64, isPercent bool, target float64) *broker.OrderHandle {
	t.mu.Lock()
	if t.uncertainActiveLocked(t.now()) {
		t.deferred.Enqueue(sym, isPercent, target, t.now())
		t.mu.Unlock()
		t.log.Info("smart_buy: uncertain mode, deferred", "symbol", sym)
		return broker.NewVirtualDeferredHandle(sym)
	}
	t.mu.Unlock()

	// safetyMultiplier is set once at construction and never mutated, so
	// reading it here needs no lock.
	required := ledger.Reservation(shares, price, t.safetyMultiplier)
	cashNow, err := t.adapter.FetchCash(ctx)
	if err != nil {
		t.log.Warn("smart_buy: cash fetch failed", "symbol", sym, "err", err)
		return nil
	}

	t.mu.Lock()
	available := t.ledger.AvailableCash(cashNow)
	requiredF, _ := required.Float64()

	finalShares := shares
	if available < requiredF {
		if t.pendingSells.Len() > 0 {
			t.deferred.Enqueue(sym, isPercent, target, t.now())
			t.mu.Unlock()
			t.log.Info("smart_buy: insufficient cash, pending sells in flight, deferred", "symbol", sym)
			return broker.NewVirtualDeferredHandle(sym)
		}
		mult, _ := t.safetyMultiplier.Float64()
		finalShares = available / (price * mult)
	}

	lotShares := floorToLot(finalShares, t.cfg.LotSize)
	if lotShares <= 0 {
		if finalShares > 0 {
			t.log.Warn("smart_buy: lot too coarse, skipping", "symbol", sym, "raw", finalShares, "lot", t.cfg.LotSize)
			t.notifier.Notify(alarm.LevelWarning, "lot too coarse for "+sym+": raw size rounds to zero")
		}
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	handle, err := t.adapter.SubmitOrder(ctx, sym, broker.SideBuy, lotShares, price)
	if err != nil || handle == nil {
		t.log.Warn("smart_buy: submit failed", "symbol", sym, "err", err)
		return nil
	}
	if handle.Rejected {
		t.log.Info("smart_buy: submit rejected at venue", "symbol", sym)
		return handle
	}

	submitted := lotShares
	if handle.FilledSize > 0 {
		submitted = handle.FilledSize
	}
	reservation := ledger.Reservation(submitted, price, t.safetyMultiplier)

	t.mu.Lock()
	t.activeBuys.Put(&tracker.ActiveBuy{
		OrderID:   handle.ID,
		Symbol:    sym,
		Shares:    submitted,
		Price:     price,
		LotSize:   t.cfg.LotSize,
		CreatedAt: t.now(),
	})
	t.ledger.Reserve(reservation)
	t.mu.Unlock()

	metrics.Reservations.WithLabelValues(sym).Inc()
	reservedF, _ := reservation.Float64()
	metrics.VirtualSpentUSD.Add(reservedF)
	t.record(ctx, "reservation", sym, handle.ID)

	return handle
}

// smartSell implements spec.md §4.3's Smart Sell: never shorts, passes
// odd lots through on a full close.
func (t *Trader) smartSell(ctx context.Context, sym string, shares, price float64) *broker.OrderHandle {
	pos, err := t.adapter.FetchPosition(ctx, sym)
	if err != nil {
		t.log.Warn("smart_sell: position fetch failed", "symbol", sym, "err", err)
		return nil
	}

	sellable := shares
	if sellable > pos.Size {
		sellable = pos.Size
	}
	if sellable <= 0 {
		return nil
	}

	finalShares := sellable
	if shares < pos.Size {
		finalShares = floorToLot(sellable, t.cfg.LotSize)
		if finalShares <= 0 {
			return nil
		}
	}
	// else: requested >= settled, full-close odd-lot passthrough (spec.md §4.3.2).

	handle, err := t.adapter.SubmitOrder(ctx, sym, broker.SideSell, finalShares, price)
	if err != nil || handle == nil {
		t.log.Warn("smart_sell: submit failed", "symbol", sym, "err", err)
		return nil
	}
	if handle.Rejected {
		return handle
	}

	t.mu.Lock()
	t.pendingSells.Add(handle.ID)
	t.mu.Unlock()
	return handle
}
