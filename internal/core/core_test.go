package core

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantada/brokercore/internal/alarm"
	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/config"
)

// fakeAdapter is a controllable broker.Adapter for deterministic tests:
// cash/positions/prices are fixed unless a test mutates them directly,
// and every submitted order is recorded for assertion.
type fakeAdapter struct {
	mu sync.Mutex

	cash      float64
	positions map[string]broker.Position
	prices    map[string]float64
	pending   []broker.PendingOrder

	rejectNext bool
	submitErr  error
	submitted  []submittedOrder
	nextID     int
}

type submittedOrder struct {
	symbol string
	side   broker.Side
	size   float64
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		positions: map[string]broker.Position{},
		prices:    map[string]float64{},
	}
}

func (f *fakeAdapter) Name() string     { return "fake" }
func (f *fakeAdapter) IsLiveMode() bool { return true }

func (f *fakeAdapter) FetchCash(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cash, nil
}

func (f *fakeAdapter) FetchPosition(ctx context.Context, symbol string) (broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[symbol], nil
}

func (f *fakeAdapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[symbol], nil
}

func (f *fakeAdapter) FetchPendingOrders(ctx context.Context) ([]broker.PendingOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broker.PendingOrder, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeAdapter) SubmitOrder(ctx context.Context, symbol string, side broker.Side, size float64, referencePrice float64) (*broker.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.nextID++
	f.submitted = append(f.submitted, submittedOrder{symbol: symbol, side: side, size: size})
	h := &broker.OrderHandle{ID: "ord" + itoa(f.nextID), Symbol: symbol, Side: side}
	if f.rejectNext {
		f.rejectNext = false
		h.Rejected = true
		return h, nil
	}
	h.Completed = true
	h.FilledSize = size
	h.AvgPrice = referencePrice
	return h, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) Notify(level alarm.Level, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(level)+": "+message)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() config.Config {
	cfg := config.FromEnv()
	cfg.LotSize = 1
	cfg.SelfHealMinInterval = 0
	cfg.PendingSnapshotMinInterval = 0
	cfg.DeferredReplayMinInterval = 0
	cfg.PendingSnapshotRetryAttempts = 1
	cfg.PendingSnapshotRetrySleep = time.Millisecond
	cfg.UncertainFails = 2
	cfg.UncertainTTL = time.Minute
	cfg.DeferredClearGrace = time.Second
	cfg.CashDegradedTTL = time.Minute
	cfg.MaxRejectionDowngrades = 2
	return cfg
}

func newTestTrader(adapter broker.Adapter, notifier alarm.Notifier) *Trader {
	if notifier == nil {
		notifier = alarm.NoopNotifier{}
	}
	tr := New(testConfig(), adapter, notifier, nil, slog.Default())
	tr.clock = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	return tr
}

// Cash Conservation: a buy's reservation is reflected immediately in
// GetCash (available cash shrinks before the venue ever confirms a
// cash-balance change), and a terminal completion/refund restores it.
func TestCashConservationAcrossReservationAndRefund(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	adapter.cash = 10000
	adapter.prices["AAPL"] = 100
	tr := newTestTrader(adapter, nil)
	ctx := context.Background()

	before := tr.GetCash(ctx)
	handle := tr.OrderTargetValue(ctx, "AAPL", 1000)
	if handle == nil || handle.Rejected {
		t.Fatalf("expected a successful buy, got %+v", handle)
	}
	mid := tr.GetCash(ctx)
	if mid >= before {
		t.Fatalf("GetCash after reservation = %v, want < %v", mid, before)
	}

	tr.OnOrderStatus(ctx, &broker.OrderHandle{ID: handle.ID, Symbol: "AAPL", Side: broker.SideBuy, Completed: true})
	after := tr.GetCash(ctx)
	if after != before {
		t.Fatalf("GetCash after refund = %v, want %v (reservation released)", after, before)
	}
}

// No-Short: a sell intent can never submit more than the settled
// position, regardless of how large the requested delta is.
func TestSmartSellNeverShorts(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	adapter.positions["AAPL"] = broker.Position{Size: 5, AvailableSize: 5}
	tr := newTestTrader(adapter, nil)
	ctx := context.Background()

	handle := tr.smartSell(ctx, "AAPL", 50, 100)
	if handle == nil || handle.Rejected {
		t.Fatalf("expected a successful sell, got %+v", handle)
	}
	if len(adapter.submitted) != 1 || adapter.submitted[0].size != 5 {
		t.Fatalf("submitted = %+v, want a single sell of size 5", adapter.submitted)
	}
}

// Lot Discipline: a buy's submitted size is floored to the configured
// lot size.
func TestSmartBuyFloorsToLot(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	adapter.cash = 1_000_000
	tr := newTestTrader(adapter, nil)
	tr.cfg.LotSize = 100
	ctx := context.Background()

	handle := tr.smartBuy(ctx, "AAPL", 150, 10, false, 1500)
	if handle == nil || handle.Rejected {
		t.Fatalf("expected a successful buy, got %+v", handle)
	}
	if len(adapter.submitted) != 1 || adapter.submitted[0].size != 100 {
		t.Fatalf("submitted = %+v, want a single buy floored to 100", adapter.submitted)
	}
}

// Risk Lock Safety: a risk-locked symbol never reaches the adapter on
// the buy side, even when the intent translator computes a positive
// delta.
func TestRiskLockBlocksBuy(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	adapter.cash = 10000
	adapter.prices["AAPL"] = 100
	tr := newTestTrader(adapter, nil)
	ctx := context.Background()

	tr.LockForRisk("AAPL")
	handle := tr.OrderTargetValue(ctx, "AAPL", 1000)
	if handle != nil {
		t.Fatalf("expected nil handle while risk-locked, got %+v", handle)
	}
	if len(adapter.submitted) != 0 {
		t.Fatalf("expected no submissions while risk-locked, got %+v", adapter.submitted)
	}

	tr.UnlockForRisk("AAPL")
	handle = tr.OrderTargetValue(ctx, "AAPL", 1000)
	if handle == nil || handle.Rejected {
		t.Fatalf("expected a successful buy after unlock, got %+v", handle)
	}
}

// Uncertain-Mode BUY Suppression: once the fail streak opens the
// uncertain window, a BUY is parked as a virtual deferred handle
// instead of reaching the adapter.
func TestUncertainModeDefersBuys(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	adapter.cash = 10000
	tr := newTestTrader(adapter, nil)
	ctx := context.Background()

	tr.mu.Lock()
	tr.uncertainUntil = tr.now().Add(time.Minute)
	tr.mu.Unlock()

	handle := tr.smartBuy(ctx, "AAPL", 10, 100, false, 1000)
	if !broker.IsVirtualDeferred(handle) {
		t.Fatalf("expected virtual deferred handle, got %+v", handle)
	}
	if len(adapter.submitted) != 0 {
		t.Fatalf("expected no submissions while uncertain, got %+v", adapter.submitted)
	}
	tr.mu.Lock()
	n := tr.deferred.Len()
	tr.mu.Unlock()
	if n != 1 {
		t.Fatalf("deferred queue len = %d, want 1", n)
	}
}

// Deferred Replay Gate: a deferred buy only replays once uncertain mode
// has cleared; ProcessDeferredOrders is a no-op while it's still
// active.
func TestDeferredReplayGatedByUncertainMode(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	adapter.cash = 10000
	adapter.prices["AAPL"] = 100
	tr := newTestTrader(adapter, nil)
	ctx := context.Background()

	tr.mu.Lock()
	tr.uncertainUntil = tr.now().Add(time.Minute)
	tr.deferred.Enqueue("AAPL", false, 1000, tr.now())
	tr.mu.Unlock()

	tr.ProcessDeferredOrders(ctx, false)
	if len(adapter.submitted) != 0 {
		t.Fatalf("expected no replay while uncertain, got %+v", adapter.submitted)
	}

	tr.mu.Lock()
	tr.uncertainUntil = time.Time{}
	tr.mu.Unlock()

	tr.ProcessDeferredOrders(ctx, false)
	if len(adapter.submitted) != 1 {
		t.Fatalf("expected exactly one replayed buy, got %+v", adapter.submitted)
	}
}

// Bounded Retries: a rejected BUY is buffered for resubmission up to
// MaxRejectionDowngrades, after which the notifier is alerted instead
// of buffering yet another retry.
func TestRejectionRetriesAreBounded(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	adapter.cash = 10000
	notifier := &fakeNotifier{}
	tr := newTestTrader(adapter, notifier)
	tr.cfg.MaxRejectionDowngrades = 2
	ctx := context.Background()

	handle := tr.smartBuy(ctx, "AAPL", 10, 100, false, 1000)
	if handle == nil || handle.Rejected {
		t.Fatalf("expected a successful initial buy, got %+v", handle)
	}

	for i := 0; i < tr.cfg.MaxRejectionDowngrades; i++ {
		tr.OnOrderStatus(ctx, &broker.OrderHandle{ID: handle.ID, Symbol: "AAPL", Side: broker.SideBuy, Rejected: true})

		tr.mu.Lock()
		payload, ok := tr.bufferedRetries.Get(handle.ID)
		tr.mu.Unlock()
		if !ok {
			t.Fatalf("round %d: expected a buffered retry", i)
		}

		tr.submitBufferedRetry(ctx, handle.ID, payload)
		tr.mu.Lock()
		all := tr.activeBuys.All()
		tr.mu.Unlock()
		if len(all) != 1 {
			t.Fatalf("round %d: expected exactly one active buy after resubmit, got %d", i, len(all))
		}
		handle = &broker.OrderHandle{ID: all[0].OrderID}
	}

	// One more rejection exceeds MaxRejectionDowngrades: no further
	// buffering, the notifier is alerted instead.
	tr.OnOrderStatus(ctx, &broker.OrderHandle{ID: handle.ID, Symbol: "AAPL", Side: broker.SideBuy, Rejected: true})
	tr.mu.Lock()
	_, stillBuffered := tr.bufferedRetries.Get(handle.ID)
	tr.mu.Unlock()
	if stillBuffered {
		t.Fatalf("expected retries exhausted, not buffered again")
	}
	if notifier.count() == 0 {
		t.Fatalf("expected an alert once retries are exhausted")
	}
}

// Stale-State Reset: a day rollover with backlog present clears every
// tracked queue.
func TestSetDatetimeDayRolloverResetsBacklog(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	tr := newTestTrader(adapter, nil)
	ctx := context.Background()

	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.SetDatetime(ctx, day1)

	tr.mu.Lock()
	tr.deferred.Enqueue("AAPL", false, 1000, day1)
	tr.mu.Unlock()

	day2 := time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)
	tr.SetDatetime(ctx, day2)

	tr.mu.Lock()
	n := tr.deferred.Len()
	tr.mu.Unlock()
	if n != 0 {
		t.Fatalf("deferred queue len after day rollover = %d, want 0", n)
	}
}

// Alias Symmetry: get_expected_size treats aliased renderings of the
// same instrument as the same instrument when summing pending deltas.
func TestGetExpectedSizeLiveMatchesAliases(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	adapter.positions["AAPL"] = broker.Position{Size: 10}
	adapter.pending = []broker.PendingOrder{
		{ID: "p1", Symbol: "AAPL.SMART", Side: broker.SideBuy, Remaining: 5},
	}
	tr := newTestTrader(adapter, nil)
	ctx := context.Background()

	got := tr.GetExpectedSize(ctx, "AAPL")
	if got != 15 {
		t.Fatalf("GetExpectedSize = %v, want 15 (10 settled + 5 pending buy via alias)", got)
	}
}

// Cash-degraded fast-fail: while the cash-degraded window is open, the
// strategy gate trips, and a successful SyncBalance clears it.
func TestPreStrategyCheckTripsWhileCashDegraded(t *testing.T) {
	t.Parallel()
	adapter := newFakeAdapter()
	tr := newTestTrader(adapter, nil)
	ctx := context.Background()

	adapter.cash = 500

	if !tr.PreStrategyCheck() {
		t.Fatalf("expected healthy gate before any failure")
	}

	tr.mu.Lock()
	tr.ledger.MarkCashDegraded("forced", time.Minute, tr.now())
	tr.mu.Unlock()
	if tr.PreStrategyCheck() {
		t.Fatalf("expected tripped gate while cash-degraded")
	}

	tr.SyncBalance(ctx)
	if !tr.PreStrategyCheck() {
		t.Fatalf("expected gate cleared after a successful sync")
	}
}
