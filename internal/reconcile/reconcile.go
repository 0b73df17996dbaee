// Package reconcile implements the pure decision logic of SPEC_FULL.md
// §4.5: reconciling the tracker's local state against an authoritative
// broker snapshot, with hysteresis so transient empty/missing snapshots
// never prematurely clear real in-flight state. Every function here is
// I/O-free; internal/core.Trader calls these under the ledger lock and
// owns the network fetch and the eventual resubmission.
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/symbol"
	"github.com/quantada/brokercore/internal/tracker"
)

// Config holds the hysteresis thresholds from spec.md §6's
// configuration table.
type Config struct {
	PendingSellClearEmptySnapshots int
	PendingSellClearEmptySeconds   time.Duration
	ActiveBuyClearEmptySnapshots   int
	ActiveBuyClearEmptySeconds     time.Duration

	// StrictMixedSnapshot and MixedSnapshotConfirmations are carried for
	// spec.md §9's mixed id/no-id open question (DESIGN.md §2). No
	// function in this package reads them: a single mixed snapshot's
	// symbol match is trusted whatever their values.
	StrictMixedSnapshot        bool
	MixedSnapshotConfirmations int
}

func DefaultConfig() Config {
	return Config{
		PendingSellClearEmptySnapshots: 2,
		PendingSellClearEmptySeconds:   20 * time.Second,
		ActiveBuyClearEmptySnapshots:   2,
		ActiveBuyClearEmptySeconds:     20 * time.Second,
		StrictMixedSnapshot:            false,
		MixedSnapshotConfirmations:     2,
	}
}

// ReconcilePendingSells applies (a) from spec.md §4.5. snapshotUnavailable
// means the caller could not obtain a fresh snapshot (error or throttled);
// in that case this is a no-op and returns 0. Returns the number of ids
// added/removed.
func ReconcilePendingSells(ps *tracker.PendingSells, snapshot []broker.PendingOrder, snapshotUnavailable bool, cfg Config, now time.Time) int {
	if snapshotUnavailable {
		return 0
	}

	liveIDs := map[string]bool{}
	anyLiveSell := false
	for _, po := range snapshot {
		if po.Side != broker.SideSell || po.Remaining <= 0 {
			continue
		}
		anyLiveSell = true
		if po.ID != "" {
			liveIDs[po.ID] = true
		}
	}

	if !anyLiveSell {
		if ps.Len() == 0 {
			ps.NoteNonEmptySnapshot()
			return 0
		}
		count, waited := ps.NoteEmptySnapshot(now)
		if count >= cfg.PendingSellClearEmptySnapshots && waited >= cfg.PendingSellClearEmptySeconds {
			n := ps.Len()
			ps.Clear()
			return n
		}
		return 0
	}

	ps.NoteNonEmptySnapshot()
	if len(liveIDs) == 0 {
		// Live sells exist but none carry an id: can't do precise set
		// reconciliation, abstain (spec.md §4.5a).
		return 0
	}

	changed := 0
	for id := range ps.IDs() {
		if !liveIDs[id] {
			ps.Discard(id)
			changed++
		}
	}
	for id := range liveIDs {
		if !ps.Has(id) {
			ps.Add(id)
			changed++
		}
	}
	return changed
}

// ActiveBuyResult is the outcome of reconciling one active-buy record.
type ActiveBuyResult struct {
	Removed []*tracker.ActiveBuy
	Release decimal.Decimal
}

// ReconcileActiveBuys applies (b) from spec.md §4.5.
func ReconcileActiveBuys(buys *tracker.ActiveBuys, snapshot []broker.PendingOrder, snapshotUnavailable bool, cfg Config, safetyMultiplier decimal.Decimal, now time.Time) ActiveBuyResult {
	result := ActiveBuyResult{Release: decimal.Zero}
	if buys.Len() == 0 || snapshotUnavailable {
		return result
	}

	liveIDs := map[string]bool{}
	liveAliases := map[string]bool{}
	hasLiveWithoutID := false
	for _, po := range snapshot {
		if po.Side != broker.SideBuy || po.Remaining <= 0 {
			continue
		}
		if po.ID != "" {
			liveIDs[po.ID] = true
		} else {
			hasLiveWithoutID = true
		}
		if po.Symbol != "" {
			for k := range symbol.Aliases(po.Symbol) {
				liveAliases[k] = true
			}
		}
	}
	hasLiveIDs := len(liveIDs) > 0

	for _, rec := range buys.All() {
		seen := liveIDs[rec.OrderID]
		if !seen && len(liveAliases) > 0 {
			recAliases := symbol.Aliases(rec.Symbol)
			overlap := false
			for k := range recAliases {
				if liveAliases[k] {
					overlap = true
					break
				}
			}
			if overlap && (!hasLiveIDs || hasLiveWithoutID) {
				seen = true
			}
		}

		if seen {
			rec.MissSnapshots = 0
			rec.FirstMissAt = time.Time{}
			continue
		}

		rec.MissSnapshots++
		if rec.FirstMissAt.IsZero() {
			rec.FirstMissAt = now
		}
		missWaited := now.Sub(rec.FirstMissAt)
		age := now.Sub(rec.CreatedAt)

		if rec.MissSnapshots < cfg.ActiveBuyClearEmptySnapshots {
			continue
		}
		if age < cfg.ActiveBuyClearEmptySeconds || missWaited < cfg.ActiveBuyClearEmptySeconds {
			continue
		}

		buys.Pop(rec.OrderID)
		result.Removed = append(result.Removed, rec)
		result.Release = result.Release.Add(ledgerReservation(rec.Shares, rec.Price, safetyMultiplier))
	}
	return result
}

func ledgerReservation(size, price float64, m decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price)).Mul(m)
}

// IsOrderStillPending implements spec.md §4.5/§4.1's
// "_is_order_still_pending" tri-state contract: true = definitely still
// pending, false = definitely not pending, nil = unknown. When the
// snapshot is unavailable the answer comes from mem's PendingState, which
// may itself be true, false or nil.
func IsOrderStillPending(orderID, symbolRef, side string, snapshot []broker.PendingOrder, snapshotUnavailable bool, mem *tracker.StateMemory) *bool {
	if orderID == "" && symbolRef == "" {
		f := false
		return &f
	}
	if snapshotUnavailable {
		return mem.PendingState(orderID, symbolRef, side)
	}

	foundIDField := false
	symbolMatchedWithoutID := false
	for _, po := range snapshot {
		if side != "" && string(po.Side) != "" && string(po.Side) != side {
			continue
		}
		if po.ID != "" {
			foundIDField = true
			if orderID != "" && po.ID == orderID {
				t := true
				return &t
			}
			continue
		}
		if symbolRef != "" && symbol.Match(po.Symbol, symbolRef) {
			symbolMatchedWithoutID = true
		}
	}
	if symbolMatchedWithoutID {
		t := true
		return &t
	}
	_ = foundIDField
	f := false
	return &f
}

// SnapshotHasPendingSell reports whether the snapshot contains any
// SELL with remaining size > 0.
func SnapshotHasPendingSell(snapshot []broker.PendingOrder) bool {
	for _, po := range snapshot {
		if po.Side == broker.SideSell && po.Remaining > 0 {
			return true
		}
	}
	return false
}

// CanReplayDeferred implements spec.md §4.5's deferred-replay gate
// (property "Deferred Replay Gate", heartbeat-driven branch):
// not in uncertain mode, and no pending sells observed either in the
// snapshot or in the local pending-sell set.
func CanReplayDeferred(uncertainMode bool, snapshotUnavailable bool, snapshotHasPendingSell bool, localPendingSellCount int) bool {
	if uncertainMode {
		return false
	}
	if snapshotUnavailable {
		return false
	}
	if snapshotHasPendingSell {
		return false
	}
	return localPendingSellCount == 0
}

// DrainAction is the tri-state outcome of evaluating one buffered
// rejected-retry entry against the current snapshot.
type DrainAction int

const (
	DrainKeep DrainAction = iota
	DrainSubmit
	DrainWaitUncertain
)

// EvaluateBufferedRetry implements spec.md §4.5(c)'s per-entry
// tri-state decision.
func EvaluateBufferedRetry(sourceID string, payload *tracker.BufferedRetry, snapshot []broker.PendingOrder, snapshotUnavailable bool, mem *tracker.StateMemory, uncertainMode bool, now time.Time, warnTimeout time.Duration) (DrainAction, bool /* warn */) {
	state := IsOrderStillPending(sourceID, payload.Symbol, "BUY", snapshot, snapshotUnavailable, mem)

	if state == nil {
		payload.SnapshotFailCount++
		if payload.SnapshotFailSince.IsZero() {
			payload.SnapshotFailSince = now
		}
		warn := !payload.WarnedQueryUnavail
		payload.WarnedQueryUnavail = true
		return DrainKeep, warn
	}

	if *state {
		payload.SnapshotFailCount = 0
		payload.SnapshotFailSince = time.Time{}
		payload.WarnedQueryUnavail = false
		waited := now.Sub(payload.QueuedAt)
		warn := waited > warnTimeout && !payload.WarnedTimeout
		if warn {
			payload.WarnedTimeout = true
		}
		return DrainKeep, warn
	}

	// Definitively not pending.
	entry, _ := mem.Get(sourceID)
	knownTerminal := entry != nil && entry.Terminal
	if uncertainMode && !knownTerminal {
		warn := !payload.WarnedUncertainMode
		payload.WarnedUncertainMode = true
		return DrainWaitUncertain, warn
	}
	payload.WarnedUncertainMode = false
	return DrainSubmit, false
}

// RecalcRejectedBuyShares implements spec.md §4.6's rejection
// recalculation: shrink to what's affordable now, capped strictly below
// the original size by at least one lot so repeated rejects converge.
func RecalcRejectedBuyShares(oldShares float64, price float64, lotSize int, safetyMultiplier decimal.Decimal, cashNow float64) int {
	oldInt := int(oldShares)
	if oldInt < 0 {
		oldInt = -oldInt
	}
	lot := lotSize
	if lot < 1 {
		lot = 1
	}
	if oldInt <= 0 || price <= 0 || cashNow <= 0 {
		return 0
	}

	mult, _ := safetyMultiplier.Float64()
	maxAffordable := cashNow / (price * mult)

	var recalc int
	if lot > 1 {
		recalc = int(maxAffordable/float64(lot)) * lot
	} else {
		recalc = int(maxAffordable)
	}

	upperBound := oldInt - lot
	if recalc > upperBound {
		recalc = upperBound
	}
	if recalc < 0 {
		recalc = 0
	}
	return recalc
}
