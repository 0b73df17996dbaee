package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/tracker"
)

func TestReconcilePendingSellsHysteresis(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	ps := tracker.NewPendingSells()
	ps.Add("s1")
	now := time.Now()

	// First empty snapshot: not enough to clear yet.
	changed := ReconcilePendingSells(ps, nil, false, cfg, now)
	if changed != 0 || ps.Len() != 1 {
		t.Fatalf("after 1st empty snapshot: changed=%d len=%d", changed, ps.Len())
	}

	// Second empty snapshot, but too soon.
	changed = ReconcilePendingSells(ps, nil, false, cfg, now.Add(5*time.Second))
	if changed != 0 || ps.Len() != 1 {
		t.Fatalf("after 2nd too-soon empty snapshot: changed=%d len=%d", changed, ps.Len())
	}

	// Third empty snapshot past the time threshold: clears.
	changed = ReconcilePendingSells(ps, nil, false, cfg, now.Add(25*time.Second))
	if changed != 1 || ps.Len() != 0 {
		t.Fatalf("after 3rd empty snapshot past threshold: changed=%d len=%d", changed, ps.Len())
	}
}

func TestReconcilePendingSellsSnapshotUnavailableNoOp(t *testing.T) {
	t.Parallel()
	ps := tracker.NewPendingSells()
	ps.Add("s1")
	changed := ReconcilePendingSells(ps, nil, true, DefaultConfig(), time.Now())
	if changed != 0 || ps.Len() != 1 {
		t.Fatalf("snapshot-unavailable should be a no-op, got changed=%d len=%d", changed, ps.Len())
	}
}

func TestReconcilePendingSellsSyncsIDs(t *testing.T) {
	t.Parallel()
	ps := tracker.NewPendingSells()
	ps.Add("stale")
	snapshot := []broker.PendingOrder{{ID: "fresh", Symbol: "AAPL", Side: broker.SideSell, Remaining: 10}}
	changed := ReconcilePendingSells(ps, snapshot, false, DefaultConfig(), time.Now())
	if changed != 2 {
		t.Fatalf("changed = %d, want 2 (1 removed + 1 added)", changed)
	}
	if ps.Has("stale") || !ps.Has("fresh") {
		t.Fatalf("expected only 'fresh' present, got %v", ps.IDs())
	}
}

func TestReconcileActiveBuysReleasesAfterHysteresis(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	buys := tracker.NewActiveBuys()
	now := time.Now()
	buys.Put(&tracker.ActiveBuy{OrderID: "b1", Symbol: "AAPL", Shares: 100, Price: 10, CreatedAt: now.Add(-1 * time.Hour)})

	mult := decimal.NewFromFloat(1.002)

	res := ReconcileActiveBuys(buys, nil, false, cfg, mult, now)
	if len(res.Removed) != 0 {
		t.Fatalf("1st miss should not remove yet, got %v", res.Removed)
	}
	res = ReconcileActiveBuys(buys, nil, false, cfg, mult, now.Add(25*time.Second))
	if len(res.Removed) != 1 {
		t.Fatalf("expected removal after 2 misses past threshold, got %d", len(res.Removed))
	}
	want := decimal.NewFromFloat(100).Mul(decimal.NewFromFloat(10)).Mul(mult)
	if !res.Release.Equal(want) {
		t.Errorf("Release = %s, want %s", res.Release, want)
	}
}

func TestReconcileActiveBuysSeenClearsMisses(t *testing.T) {
	t.Parallel()
	buys := tracker.NewActiveBuys()
	now := time.Now()
	buys.Put(&tracker.ActiveBuy{OrderID: "b1", Symbol: "AAPL", Shares: 100, Price: 10, CreatedAt: now})
	snapshot := []broker.PendingOrder{{ID: "b1", Symbol: "AAPL", Side: broker.SideBuy, Remaining: 100}}
	res := ReconcileActiveBuys(buys, snapshot, false, DefaultConfig(), decimal.NewFromFloat(1.002), now)
	if len(res.Removed) != 0 {
		t.Fatalf("seen order should not be removed, got %v", res.Removed)
	}
	if rec, _ := buys.Get("b1"); rec.MissSnapshots != 0 {
		t.Errorf("MissSnapshots = %d, want 0 after being seen", rec.MissSnapshots)
	}
}

func TestIsOrderStillPendingIDMatch(t *testing.T) {
	t.Parallel()
	mem := tracker.NewStateMemory(100, time.Hour)
	snapshot := []broker.PendingOrder{{ID: "o1", Symbol: "AAPL", Side: broker.SideBuy, Remaining: 10}}
	got := IsOrderStillPending("o1", "AAPL", "BUY", snapshot, false, mem)
	if got == nil || !*got {
		t.Fatal("expected true for id match")
	}
	got = IsOrderStillPending("o2", "AAPL", "BUY", snapshot, false, mem)
	if got == nil || *got {
		t.Fatal("expected false for no id match and no symbol fallback hit")
	}
}

func TestIsOrderStillPendingFallsBackToMemory(t *testing.T) {
	t.Parallel()
	mem := tracker.NewStateMemory(100, time.Hour)
	now := time.Now()
	mem.Remember("o1", &tracker.StateEntry{Symbol: "AAPL", Side: "BUY", Pending: true, UpdatedAt: now}, now)
	got := IsOrderStillPending("o1", "AAPL", "BUY", nil, true, mem)
	if got == nil || !*got {
		t.Fatal("expected memory fallback to report pending=true")
	}
}

func TestCanReplayDeferredGates(t *testing.T) {
	t.Parallel()
	if CanReplayDeferred(true, false, false, 0) {
		t.Error("uncertain mode must block replay")
	}
	if CanReplayDeferred(false, true, false, 0) {
		t.Error("snapshot-unavailable must block replay")
	}
	if CanReplayDeferred(false, false, true, 0) {
		t.Error("snapshot showing pending sell must block replay")
	}
	if CanReplayDeferred(false, false, false, 1) {
		t.Error("local pending-sell marker must block replay")
	}
	if !CanReplayDeferred(false, false, false, 0) {
		t.Error("clear conditions should allow replay")
	}
}

func TestEvaluateBufferedRetrySubmitWhenTerminal(t *testing.T) {
	t.Parallel()
	mem := tracker.NewStateMemory(100, time.Hour)
	now := time.Now()
	mem.Remember("src1", &tracker.StateEntry{Symbol: "AAPL", Side: "BUY", Terminal: true, UpdatedAt: now}, now)
	payload := &tracker.BufferedRetry{Symbol: "AAPL", QueuedAt: now}
	action, _ := EvaluateBufferedRetry("src1", payload, nil, false, mem, false, now, 20*time.Second)
	if action != DrainSubmit {
		t.Fatalf("action = %v, want DrainSubmit", action)
	}
}

func TestEvaluateBufferedRetryKeepsWhileStillPending(t *testing.T) {
	t.Parallel()
	mem := tracker.NewStateMemory(100, time.Hour)
	now := time.Now()
	snapshot := []broker.PendingOrder{{ID: "src1", Symbol: "AAPL", Side: broker.SideBuy, Remaining: 5}}
	payload := &tracker.BufferedRetry{Symbol: "AAPL", QueuedAt: now}
	action, _ := EvaluateBufferedRetry("src1", payload, snapshot, false, mem, false, now, 20*time.Second)
	if action != DrainKeep {
		t.Fatalf("action = %v, want DrainKeep", action)
	}
}

func TestEvaluateBufferedRetryWaitsInUncertainModeUnlessTerminal(t *testing.T) {
	t.Parallel()
	mem := tracker.NewStateMemory(100, time.Hour)
	now := time.Now()
	// Not pending on an empty snapshot and no memory entry: "not pending".
	payload := &tracker.BufferedRetry{Symbol: "AAPL", QueuedAt: now}
	action, _ := EvaluateBufferedRetry("src1", payload, nil, false, mem, true, now, 20*time.Second)
	if action != DrainWaitUncertain {
		t.Fatalf("action = %v, want DrainWaitUncertain", action)
	}
}

func TestRecalcRejectedBuySharesShrinksStrictly(t *testing.T) {
	t.Parallel()
	mult := decimal.NewFromFloat(1.002)
	got := RecalcRejectedBuyShares(200, 10, 100, mult, 100000)
	if got >= 200 {
		t.Fatalf("recalculated shares must shrink strictly, got %d", got)
	}
	if got%100 != 0 {
		t.Fatalf("recalculated shares must respect lot size, got %d", got)
	}
}

func TestRecalcRejectedBuySharesNoCash(t *testing.T) {
	t.Parallel()
	got := RecalcRejectedBuyShares(200, 10, 100, decimal.NewFromFloat(1.002), 0)
	if got != 0 {
		t.Fatalf("got %d, want 0 when cash is exhausted", got)
	}
}
