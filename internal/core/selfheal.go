package core

import (
	"context"
	"time"

	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/metrics"
	"github.com/quantada/brokercore/internal/reconcile"
	"github.com/quantada/brokercore/internal/tracker"
)

// SelfHeal runs one throttled self-heal tick (spec.md §4.7).
func (t *Trader) SelfHeal(ctx context.Context) {
	t.selfHeal(ctx, "heartbeat", false)
}

func (t *Trader) selfHeal(ctx context.Context, reason string, force bool) {
	now := t.now()

	t.mu.Lock()
	if !force && now.Sub(t.lastSelfHealAt) < t.cfg.SelfHealMinInterval {
		t.mu.Unlock()
		return
	}
	t.lastSelfHealAt = now

	backlog := force || t.deferred.Len() > 0 || t.pendingSells.Len() > 0 || t.activeBuys.Len() > 0 || t.bufferedRetries.Len() > 0
	throttled := false
	shouldFetch := backlog
	if backlog && !force {
		if now.Sub(t.lastSnapshotAt) < t.cfg.PendingSnapshotMinInterval {
			throttled = true
		}
	}
	if shouldFetch && !throttled {
		t.lastSnapshotAt = now
	}
	t.mu.Unlock()

	var snapshot []broker.PendingOrder
	var snapshotUnavailable bool

	switch {
	case shouldFetch && !throttled:
		var err error
		snapshot, err = t.fetchPendingOrdersWithRetry(ctx, reason)
		if err != nil {
			snapshotUnavailable = true
		}
	default:
		snapshotUnavailable = true
	}

	t.mu.Lock()
	if snapshotUnavailable && shouldFetch && !throttled {
		t.noteSnapshotFailureLocked(now)
	} else if !snapshotUnavailable {
		t.noteSnapshotSuccessLocked()
	}
	t.refreshUncertainGauge(now)

	rc := t.reconcileConfig()
	reconcile.ReconcilePendingSells(t.pendingSells, snapshot, snapshotUnavailable, rc, now)

	result := reconcile.ReconcileActiveBuys(t.activeBuys, snapshot, snapshotUnavailable, rc, t.safetyMultiplier, now)
	if len(result.Removed) > 0 {
		metrics.ReconcileDrops.WithLabelValues("active_buys").Add(float64(len(result.Removed)))
		t.ledger.Refund(result.Release)
		releasedF, _ := result.Release.Float64()
		metrics.VirtualSpentUSD.Sub(releasedF)
	}

	var toSubmit []retryJob
	for _, id := range t.bufferedRetries.Keys() {
		payload, ok := t.bufferedRetries.Get(id)
		if !ok {
			continue
		}
		action, warn := reconcile.EvaluateBufferedRetry(id, payload, snapshot, snapshotUnavailable, t.stateMemory, t.uncertainActiveLocked(now), now, t.cfg.BufferedRetryWarnSeconds)
		if warn {
			t.log.Warn("buffered retry pending longer than expected", "source_id", id, "symbol", payload.Symbol)
		}
		switch action {
		case reconcile.DrainSubmit:
			t.bufferedRetries.Delete(id)
			toSubmit = append(toSubmit, retryJob{id: id, payload: payload})
		case reconcile.DrainWaitUncertain, reconcile.DrainKeep:
		}
	}

	if t.reconcileDeferredPlaceholderLocked(now) == 1 && !t.placeholderClearLogged {
		t.placeholderClearLogged = true
		t.log.Info("deferred queue drained past grace period, virtual placeholder safe to clear", "grace", t.cfg.DeferredClearGrace)
	}

	uncertain := t.uncertainActiveLocked(now)
	snapHasPendingSell := reconcile.SnapshotHasPendingSell(snapshot)
	canReplay := reconcile.CanReplayDeferred(uncertain, snapshotUnavailable, snapHasPendingSell, t.pendingSells.Len())
	hasDeferred := t.deferred.Len() > 0

	if uncertain && hasDeferred {
		if now.Sub(t.lastUncertainLogAt) >= t.cfg.UncertainReplayLogInterval {
			t.lastUncertainLogAt = now
			t.log.Warn("deferred buys queued while uncertain mode active", "count", t.deferred.Len())
		}
	}
	t.mu.Unlock()

	for _, job := range toSubmit {
		t.submitBufferedRetry(ctx, job.id, job.payload)
	}

	if hasDeferred && canReplay {
		t.mu.Lock()
		replayDue := now.Sub(t.lastDeferredReplayAt) >= t.cfg.DeferredReplayMinInterval
		if replayDue {
			t.lastDeferredReplayAt = now
		}
		t.mu.Unlock()
		if replayDue {
			t.ProcessDeferredOrders(ctx, false)
		}
	}
}

type retryJob struct {
	id      string
	payload *tracker.BufferedRetry
}

// fetchPendingOrdersWithRetry implements spec.md §4.7/§5's bounded
// retry (default 2 attempts, 50ms apart) around the adapter's snapshot
// fetch, called outside the ledger lock.
func (t *Trader) fetchPendingOrdersWithRetry(ctx context.Context, reason string) ([]broker.PendingOrder, error) {
	attempts := t.cfg.PendingSnapshotRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		snapshot, err := t.adapter.FetchPendingOrders(ctx)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.cfg.PendingSnapshotRetrySleep):
			}
		}
	}
	t.log.Debug("pending snapshot fetch exhausted retries", "reason", reason, "err", lastErr)
	return nil, lastErr
}

// reconcileDeferredPlaceholderLocked implements spec.md §4.8's grace
// period clear: once this core's own deferred queue has drained
// entirely, age out the "strategy may still be holding a virtual
// placeholder" marker after DeferredClearGrace so a strategy that
// never re-observes the core doesn't block forever on a stale
// sentinel. The core has no handle into the strategy's own state; this
// only tracks how long the core's own backlog has been empty. Caller
// must hold t.mu.
func (t *Trader) reconcileDeferredPlaceholderLocked(now time.Time) int {
	if t.deferred.Len() > 0 || t.bufferedRetries.Len() > 0 {
		t.deferredQueueEmptySince = time.Time{}
		t.placeholderClearLogged = false
		return 0
	}
	if t.deferredQueueEmptySince.IsZero() {
		t.deferredQueueEmptySince = now
		return 0
	}
	if now.Sub(t.deferredQueueEmptySince) >= t.cfg.DeferredClearGrace {
		return 1 // signals "safe to tell the strategy the placeholder can be dropped"
	}
	return 0
}
