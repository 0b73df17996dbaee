// Package ledger tracks virtual-spent reservations against settled
// cash, the safety multiplier, and the cash-degraded safety window.
// All money-like accumulation uses decimal.Decimal to avoid float64
// drift across thousands of reservation/refund cycles; callers convert
// to float64 only at the adapter boundary.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SafetyMultiplier is the absolute-floor cost-overestimation factor:
// 1.0 + commissionRate + slippageRate + 0.002 (spec.md §3).
func SafetyMultiplier(commissionRate, slippageRate float64) decimal.Decimal {
	floor := decimal.NewFromFloat(0.002)
	base := decimal.NewFromFloat(1.0).
		Add(decimal.NewFromFloat(commissionRate)).
		Add(decimal.NewFromFloat(slippageRate)).
		Add(floor)
	return base
}

// Reservation computes size * price * multiplier.
func Reservation(size, price float64, multiplier decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price)).Mul(multiplier)
}

// Ledger holds the real-time virtual-spent reservation total and the
// cash-degraded deadline. Mutations must happen under the owner's
// ledger lock (internal/core.Trader's mutex); Ledger itself only
// guards its own fields so it can also be read standalone in tests.
type Ledger struct {
	mu sync.Mutex

	virtualSpent decimal.Decimal

	cashDegradedUntil time.Time
	cashDegradedReason string
}

func New() *Ledger {
	return &Ledger{virtualSpent: decimal.Zero}
}

// VirtualSpent returns the current virtual-spent total.
func (l *Ledger) VirtualSpent() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.virtualSpent
}

// Reserve adds amount to virtual-spent (BUY submission accepted).
func (l *Ledger) Reserve(amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.virtualSpent = l.virtualSpent.Add(amount)
}

// Refund subtracts amount from virtual-spent, floored at zero (BUY
// terminal: filled, canceled, or stale-reconciled).
func (l *Ledger) Refund(amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.virtualSpent = l.virtualSpent.Sub(amount)
	if l.virtualSpent.IsNegative() {
		l.virtualSpent = decimal.Zero
	}
}

// Reset zeroes virtual-spent (day-rollover / long-gap stale reset).
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.virtualSpent = decimal.Zero
}

// AvailableCash computes realCash - virtualSpent, floored at zero.
// realCash must be fetched from the adapter outside any lock; this
// method only performs the in-memory subtraction under its own lock,
// matching spec.md §5's "get_cash acquires the lock for the
// subtraction only" guarantee.
func (l *Ledger) AvailableCash(realCash float64) float64 {
	l.mu.Lock()
	spent := l.virtualSpent
	l.mu.Unlock()
	avail := decimal.NewFromFloat(realCash).Sub(spent)
	if avail.IsNegative() {
		return 0
	}
	f, _ := avail.Float64()
	return f
}

// MarkCashDegraded opens (or extends) the cash-degraded window.
// Returns true if this call transitioned from not-degraded to degraded
// (used to decide whether to log/alert once).
func (l *Ledger) MarkCashDegraded(reason string, ttl time.Duration, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	wasDegraded := l.cashDegradedUntil.After(now)
	until := now.Add(ttl)
	if until.After(l.cashDegradedUntil) {
		l.cashDegradedUntil = until
	}
	l.cashDegradedReason = reason
	return !wasDegraded
}

// ClearCashDegraded ends the degraded window immediately.
func (l *Ledger) ClearCashDegraded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cashDegradedUntil = time.Time{}
	l.cashDegradedReason = ""
}

// IsCashDegraded reports whether the degraded window is still open.
func (l *Ledger) IsCashDegraded(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cashDegradedUntil.After(now)
}

// CashDegradedReason returns the last degraded reason, or "" if not
// currently degraded.
func (l *Ledger) CashDegradedReason(now time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cashDegradedUntil.After(now) {
		return ""
	}
	return l.cashDegradedReason
}
