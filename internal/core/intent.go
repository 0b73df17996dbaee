package core

import (
	"context"
	"math"

	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/metrics"
	"github.com/quantada/brokercore/internal/symbol"
)

// OrderTargetPercent implements spec.md §4.2's order_target_percent:
// size the position at target_fraction of NAV. NAV here is adapter cash
// plus the market value of this symbol's position; positions in other
// symbols are not included.
func (t *Trader) OrderTargetPercent(ctx context.Context, sym string, fraction float64) *broker.OrderHandle {
	return t.dispatchIntent(ctx, sym, true, fraction, 0)
}

// OrderTargetValue implements spec.md §4.2's order_target_value: size
// the position at a fixed USD (or quote-currency) market value.
func (t *Trader) OrderTargetValue(ctx context.Context, sym string, value float64) *broker.OrderHandle {
	return t.dispatchIntent(ctx, sym, false, 0, value)
}

func (t *Trader) dispatchIntent(ctx context.Context, sym string, isPercent bool, fraction, value float64) *broker.OrderHandle {
	price, err := t.adapter.FetchPrice(ctx, sym)
	if err != nil || price <= 0 {
		t.log.Warn("intent: invalid price, failing closed", "symbol", sym, "err", err)
		return nil
	}

	cash, err := t.adapter.FetchCash(ctx)
	if err != nil {
		t.log.Warn("intent: cash fetch failed, degrading", "symbol", sym, "err", err)
		t.mu.Lock()
		if t.ledger.MarkCashDegraded("fetch_cash error: "+errString(err), t.cfg.CashDegradedTTL, t.now()) {
			metrics.CashDegradedWindows.Inc()
		}
		t.mu.Unlock()
		return nil
	}

	pos, err := t.adapter.FetchPosition(ctx, sym)
	if err != nil {
		t.log.Warn("intent: position fetch failed", "symbol", sym, "err", err)
		return nil
	}

	var nav float64
	nav = cash + pos.Size*price

	var expectedTarget float64
	var isPctMode = isPercent
	if isPercent {
		expectedTarget = nav * fraction / price
	} else {
		expectedTarget = value / price
	}

	expectedSize := t.getExpectedSizeLive(ctx, sym, pos)
	delta := expectedTarget - expectedSize

	if delta > 0 {
		t.mu.Lock()
		locked := t.isRiskLocked(sym)
		t.mu.Unlock()
		if locked {
			t.log.Info("intent: buy dropped, symbol risk-locked", "symbol", sym)
			return nil
		}
		target := fraction
		if !isPctMode {
			target = value
		}
		return t.smartBuy(ctx, sym, delta, price, isPctMode, target)
	}
	if delta < 0 {
		return t.smartSell(ctx, sym, -delta, price)
	}
	return nil
}

// getExpectedSizeLive implements spec.md §4.2/§4.6's get_expected_size:
// settled position size plus the live broker snapshot's in-flight
// BUY/SELL deltas for aliases of sym. Grounded on base_broker.py's
// get_expected_size, which re-queries the broker rather than trusting
// local tallies — the local tracker only has authority for reservation
// accounting, not for what the venue currently has resting.
func (t *Trader) getExpectedSizeLive(ctx context.Context, sym string, pos broker.Position) float64 {
	size := pos.Size
	snapshot, err := t.adapter.FetchPendingOrders(ctx)
	if err != nil {
		t.log.Debug("get_expected_size: pending snapshot unavailable", "symbol", sym, "err", err)
		return size
	}
	for _, po := range snapshot {
		if !symbol.Match(po.Symbol, sym) {
			continue
		}
		switch po.Side {
		case broker.SideBuy:
			size += po.Remaining
		case broker.SideSell:
			size -= po.Remaining
		}
	}
	return size
}

// GetExpectedSize is the exported, strategy-facing form of the same
// calculation (used outside intent dispatch, e.g. by monitoring).
func (t *Trader) GetExpectedSize(ctx context.Context, sym string) float64 {
	pos, err := t.adapter.FetchPosition(ctx, sym)
	if err != nil {
		return 0
	}
	return t.getExpectedSizeLive(ctx, sym, pos)
}

func floorToLot(size float64, lot int) float64 {
	if lot <= 1 {
		return math.Floor(size)
	}
	units := math.Floor(size / float64(lot))
	return units * float64(lot)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
