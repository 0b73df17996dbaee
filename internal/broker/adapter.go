// Package broker defines the Adapter Contract: the narrow set of
// atomic operations a venue driver must expose to the core, and the
// normalized OrderHandle every adapter produces.
package broker

import (
	"context"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill summarizes one execution against an order.
type Fill struct {
	Size   float64
	Price  float64
	Fee    float64
	Filled time.Time
}

// OrderHandle is the normalized, adapter-produced representation of
// one order submission and its lifecycle. Exactly one of Pending,
// Accepted, Completed, Canceled, Rejected should hold at any point,
// with the relaxations named in SPEC_FULL.md §6: Pending and Accepted
// may overlap (pre-submitted); Completed/Canceled/Rejected are mutually
// exclusive terminal states.
type OrderHandle struct {
	ID     string
	Symbol string
	Side   Side

	Pending   bool
	Accepted  bool
	Completed bool
	Canceled  bool
	Rejected  bool

	FilledSize  float64
	AvgPrice    float64
	Value       float64
	Commission  float64
	SubmittedAt time.Time
}

// IsBuy and IsSell mirror the Python proxy's is_buy()/is_sell().
func (h *OrderHandle) IsBuy() bool  { return h.Side == SideBuy }
func (h *OrderHandle) IsSell() bool { return h.Side == SideSell }

// DeferredVirtualID is the fixed sentinel id used for a virtual
// deferred handle (SPEC_FULL.md §4.8 / spec.md §4.8).
const DeferredVirtualID = "DEFERRED_VIRTUAL_ID"

// NewVirtualDeferredHandle returns the sentinel order handle a smart
// buy returns when a BUY is parked rather than submitted. Pending is
// true so strategies treat it as an in-flight order.
func NewVirtualDeferredHandle(symbol string) *OrderHandle {
	return &OrderHandle{
		ID:       DeferredVirtualID,
		Symbol:   symbol,
		Side:     SideBuy,
		Pending:  true,
		Accepted: true,
	}
}

// IsVirtualDeferred reports whether h is the sentinel deferred handle.
func IsVirtualDeferred(h *OrderHandle) bool {
	return h != nil && h.ID == DeferredVirtualID
}

// Position is a settled venue position snapshot.
type Position struct {
	Size          float64
	AvgPrice      float64
	AvailableSize float64
}

// PendingOrder is one row of an authoritative pending-order snapshot.
// ID may be empty; the core must degrade gracefully (SPEC_FULL.md §4.1).
type PendingOrder struct {
	ID        string
	Symbol    string
	Side      Side
	Remaining float64
}

// Adapter is the contract the core consumes from a venue driver. Every
// method may block on network I/O and must never be called by the core
// while holding the ledger lock.
type Adapter interface {
	Name() string

	FetchCash(ctx context.Context) (float64, error)
	FetchPosition(ctx context.Context, symbol string) (Position, error)
	FetchPrice(ctx context.Context, symbol string) (float64, error)
	FetchPendingOrders(ctx context.Context) ([]PendingOrder, error)

	SubmitOrder(ctx context.Context, symbol string, side Side, size float64, referencePrice float64) (*OrderHandle, error)

	IsLiveMode() bool
}

// SettleDelayer is an optional adapter capability: when present, the
// core's sell-filled hook waits this long before re-syncing cash, per
// the adapter's own settlement latency. This is an adapter hint, not a
// core invariant (spec.md §9 Open Question, resolved in DESIGN.md).
type SettleDelayer interface {
	SettleDelay() time.Duration
}
