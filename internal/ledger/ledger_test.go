package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSafetyMultiplierFloor(t *testing.T) {
	t.Parallel()
	m := SafetyMultiplier(0, 0)
	want := decimal.NewFromFloat(1.002)
	if !m.Equal(want) {
		t.Errorf("SafetyMultiplier(0,0) = %s, want %s", m, want)
	}
}

func TestReserveAndRefund(t *testing.T) {
	t.Parallel()
	l := New()
	m := SafetyMultiplier(0.001, 0.0005)
	r := Reservation(100, 10, m)
	l.Reserve(r)
	if !l.VirtualSpent().Equal(r) {
		t.Fatalf("VirtualSpent = %s, want %s", l.VirtualSpent(), r)
	}
	l.Refund(r)
	if !l.VirtualSpent().IsZero() {
		t.Fatalf("VirtualSpent after refund = %s, want 0", l.VirtualSpent())
	}
}

func TestRefundFloorsAtZero(t *testing.T) {
	t.Parallel()
	l := New()
	l.Refund(decimal.NewFromInt(50))
	if !l.VirtualSpent().IsZero() {
		t.Fatalf("over-refund should floor at zero, got %s", l.VirtualSpent())
	}
}

func TestAvailableCash(t *testing.T) {
	t.Parallel()
	l := New()
	l.Reserve(decimal.NewFromInt(300))
	if got := l.AvailableCash(1000); got != 700 {
		t.Errorf("AvailableCash = %v, want 700", got)
	}
	if got := l.AvailableCash(100); got != 0 {
		t.Errorf("AvailableCash should floor at 0, got %v", got)
	}
}

func TestCashDegradedWindow(t *testing.T) {
	t.Parallel()
	l := New()
	now := time.Now()
	if !l.MarkCashDegraded("fetch-failed", 50*time.Millisecond, now) {
		t.Fatal("first MarkCashDegraded should transition to degraded")
	}
	if l.MarkCashDegraded("fetch-failed", 50*time.Millisecond, now) {
		t.Fatal("second MarkCashDegraded while already degraded should not re-transition")
	}
	if !l.IsCashDegraded(now) {
		t.Fatal("should be degraded immediately after marking")
	}
	if got := l.CashDegradedReason(now); got != "fetch-failed" {
		t.Errorf("CashDegradedReason = %q, want fetch-failed", got)
	}
	later := now.Add(100 * time.Millisecond)
	if l.IsCashDegraded(later) {
		t.Fatal("should not be degraded after TTL elapses")
	}
	l2 := New()
	l2.MarkCashDegraded("x", time.Hour, now)
	l2.ClearCashDegraded()
	if l2.IsCashDegraded(now) {
		t.Fatal("ClearCashDegraded should end the window immediately")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	l := New()
	l.Reserve(decimal.NewFromInt(1000))
	l.Reset()
	if !l.VirtualSpent().IsZero() {
		t.Fatalf("VirtualSpent after Reset = %s, want 0", l.VirtualSpent())
	}
}
