// Package tracker holds the in-memory order-tracking tables the core
// reconciles against broker truth: the active-buy table, the
// pending-sell set, the buffered rejected-retry queue, the deferred-buy
// queue, and a bounded order-state memory. None of this package's
// mutations are safe for concurrent use on their own — callers (the
// core's Trader) must serialize access under the ledger lock.
package tracker

import (
	"sort"
	"time"

	"github.com/quantada/brokercore/internal/symbol"
)

// ActiveBuy is one open BUY locally known to be in-flight.
type ActiveBuy struct {
	OrderID        string
	Symbol         string
	Shares         float64
	Price          float64
	LotSize        int
	Retries        int
	CreatedAt      time.Time
	MissSnapshots  int
	FirstMissAt    time.Time
}

// ActiveBuys is the active-buy table keyed by order id.
type ActiveBuys struct {
	m map[string]*ActiveBuy
}

func NewActiveBuys() *ActiveBuys { return &ActiveBuys{m: map[string]*ActiveBuy{}} }

func (a *ActiveBuys) Put(rec *ActiveBuy)        { a.m[rec.OrderID] = rec }
func (a *ActiveBuys) Get(id string) (*ActiveBuy, bool) { r, ok := a.m[id]; return r, ok }
func (a *ActiveBuys) Pop(id string) (*ActiveBuy, bool) {
	r, ok := a.m[id]
	if ok {
		delete(a.m, id)
	}
	return r, ok
}
func (a *ActiveBuys) Len() int { return len(a.m) }
func (a *ActiveBuys) Clear()   { a.m = map[string]*ActiveBuy{} }

// All returns a stable-ordered snapshot of the active buys (ordered by
// order id) so reconciliation is deterministic in tests.
func (a *ActiveBuys) All() []*ActiveBuy {
	out := make([]*ActiveBuy, 0, len(a.m))
	for _, v := range a.m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// PendingSells is the set of order ids known locally to be in-flight
// SELLs, with the empty-snapshot hysteresis counters from spec.md §3.
type PendingSells struct {
	ids               map[string]bool
	emptySnapshots    int
	emptySince        time.Time
}

func NewPendingSells() *PendingSells {
	return &PendingSells{ids: map[string]bool{}}
}

func (p *PendingSells) Add(id string)    { p.ids[id] = true }
func (p *PendingSells) Discard(id string) { delete(p.ids, id) }
func (p *PendingSells) Len() int          { return len(p.ids) }
func (p *PendingSells) Has(id string) bool { return p.ids[id] }
func (p *PendingSells) Clear() {
	p.ids = map[string]bool{}
	p.emptySnapshots = 0
	p.emptySince = time.Time{}
}
func (p *PendingSells) IDs() map[string]bool { return p.ids }

// NoteEmptySnapshot increments the consecutive-empty counter and
// returns the elapsed duration since the first empty observation.
func (p *PendingSells) NoteEmptySnapshot(now time.Time) (count int, waited time.Duration) {
	p.emptySnapshots++
	if p.emptySince.IsZero() {
		p.emptySince = now
	}
	return p.emptySnapshots, now.Sub(p.emptySince)
}

// NoteNonEmptySnapshot resets the empty-snapshot hysteresis.
func (p *PendingSells) NoteNonEmptySnapshot() {
	p.emptySnapshots = 0
	p.emptySince = time.Time{}
}

// BufferedRetry is a rejected BUY awaiting confirmation that its
// source order reached a terminal state before resubmission at a
// smaller, recalculated size.
type BufferedRetry struct {
	Symbol                string
	NewShares             float64
	Price                 float64
	LotSize               int
	NextRetries           int
	QueuedAt              time.Time
	SnapshotFailCount     int
	SnapshotFailSince     time.Time
	SubmitFailCount       int
	WarnedTimeout         bool
	WarnedQueryUnavail    bool
	WarnedUncertainMode   bool
}

// BufferedRetries is the buffered-rejected-retry queue keyed by the
// source (rejected) order id.
type BufferedRetries struct {
	m map[string]*BufferedRetry
}

func NewBufferedRetries() *BufferedRetries {
	return &BufferedRetries{m: map[string]*BufferedRetry{}}
}

func (b *BufferedRetries) Put(sourceID string, r *BufferedRetry) { b.m[sourceID] = r }
func (b *BufferedRetries) Get(sourceID string) (*BufferedRetry, bool) {
	r, ok := b.m[sourceID]
	return r, ok
}
func (b *BufferedRetries) Has(sourceID string) bool { _, ok := b.m[sourceID]; return ok }
func (b *BufferedRetries) Delete(sourceID string)   { delete(b.m, sourceID) }
func (b *BufferedRetries) Len() int                 { return len(b.m) }
func (b *BufferedRetries) Clear()                   { b.m = map[string]*BufferedRetry{} }

func (b *BufferedRetries) Keys() []string {
	out := make([]string, 0, len(b.m))
	for k := range b.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DeferredItem is one parked intent replay: the concrete symbol,
// fraction-or-value target, and a closure-like descriptor the core
// replays by re-dispatching through the intent translator.
type DeferredItem struct {
	Symbol      string
	IsPercent   bool
	Target      float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FailCount   int
}

// DeferredQueue holds parked BUY intents, deduplicated per symbol
// (only the most recent target per symbol is retained, spec.md §3).
type DeferredQueue struct {
	items []*DeferredItem
	next  int
}

func NewDeferredQueue() *DeferredQueue { return &DeferredQueue{} }

// Enqueue adds or refreshes the entry for symbol. Returns true if an
// existing entry was refreshed rather than a new one appended.
func (q *DeferredQueue) Enqueue(symbol string, isPercent bool, target float64, now time.Time) bool {
	for _, it := range q.items {
		if it.Symbol == symbol {
			it.IsPercent = isPercent
			it.Target = target
			it.UpdatedAt = now
			return true
		}
	}
	q.items = append(q.items, &DeferredItem{
		Symbol:    symbol,
		IsPercent: isPercent,
		Target:    target,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return false
}

func (q *DeferredQueue) Len() int  { return len(q.items) }
func (q *DeferredQueue) Empty() bool { return len(q.items) == 0 }

// Drain removes and returns all queued items for replay.
func (q *DeferredQueue) Drain() []*DeferredItem {
	out := q.items
	q.items = nil
	return out
}

// Requeue re-adds items that failed replay, bumping their fail count.
func (q *DeferredQueue) Requeue(items []*DeferredItem) {
	for _, it := range items {
		it.FailCount++
	}
	q.items = append(q.items, items...)
}

func (q *DeferredQueue) Clear() { q.items = nil; q.next = 0 }

// Next returns the next deferred symbol to consider, round-robin over
// the queue (base_broker.py's _pick_deferred_symbol, generalized to
// advance a cursor instead of always returning the first entry so
// repeated calls rotate through distinct symbols).
func (q *DeferredQueue) Next() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	if q.next >= len(q.items) {
		q.next = 0
	}
	sym := q.items[q.next].Symbol
	q.next++
	return sym, true
}

// StateEntry is the last-observed state of one order id, used as a
// safe fallback when the broker snapshot is unavailable.
type StateEntry struct {
	Symbol    string
	Side      string
	Terminal  bool
	Pending   bool
	UpdatedAt time.Time
}

// StateMemory is a bounded map from order id to StateEntry, evicted by
// TTL then by oldest-updated-first (LRU by UpdatedAt, the policy
// recommended in spec.md §9 and implemented verbatim in
// base_broker.py's _trim_order_state_memory).
type StateMemory struct {
	m        map[string]*StateEntry
	maxItems int
	ttl      time.Duration
}

func NewStateMemory(maxItems int, ttl time.Duration) *StateMemory {
	if maxItems < 100 {
		maxItems = 100
	}
	return &StateMemory{m: map[string]*StateEntry{}, maxItems: maxItems, ttl: ttl}
}

// Remember records the latest state for id and trims the table.
func (s *StateMemory) Remember(id string, e *StateEntry, now time.Time) {
	if id == "" {
		return
	}
	s.m[id] = e
	s.trim(now)
}

func (s *StateMemory) trim(now time.Time) {
	if s.ttl > 0 {
		for k, v := range s.m {
			if now.Sub(v.UpdatedAt) > s.ttl {
				delete(s.m, k)
			}
		}
	}
	overflow := len(s.m) - s.maxItems
	if overflow <= 0 {
		return
	}
	type kv struct {
		k string
		t time.Time
	}
	ordered := make([]kv, 0, len(s.m))
	for k, v := range s.m {
		ordered = append(ordered, kv{k, v.UpdatedAt})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].t.Before(ordered[j].t) })
	for i := 0; i < overflow; i++ {
		delete(s.m, ordered[i].k)
	}
}

// Get returns the remembered state for id, if any.
func (s *StateMemory) Get(id string) (*StateEntry, bool) {
	e, ok := s.m[id]
	return e, ok
}

func (s *StateMemory) Len() int { return len(s.m) }
func (s *StateMemory) Clear()   { s.m = map[string]*StateEntry{} }

// PendingState reports the remembered pending/terminal state for id,
// optionally constrained by symbol/side, mirroring
// base_broker.py's _pending_state_from_memory tri-state contract:
// true = known pending, false = known terminal, nil = unknown/no match.
func (s *StateMemory) PendingState(id, symbolRef, side string) *bool {
	e, ok := s.m[id]
	if !ok {
		return nil
	}
	if side != "" && e.Side != "" && e.Side != side {
		return nil
	}
	if symbolRef != "" && e.Symbol != "" && e.Symbol != "UNKNOWN" {
		if !symbol.Match(e.Symbol, symbolRef) {
			return nil
		}
	}
	if e.Terminal {
		f := false
		return &f
	}
	if e.Pending {
		t := true
		return &t
	}
	return nil
}
