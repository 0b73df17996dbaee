package core

import (
	"time"

	"github.com/quantada/brokercore/internal/metrics"
)

// uncertainActiveLocked reports whether the uncertain-mode window is
// currently open. Caller must hold t.mu.
func (t *Trader) uncertainActiveLocked(now time.Time) bool {
	return t.uncertainUntil.After(now)
}

// IsUncertainMode is the exported, self-locking form.
func (t *Trader) IsUncertainMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uncertainActiveLocked(t.now())
}

// noteSnapshotSuccessLocked resets the failure streak on a successful
// snapshot fetch. The uncertain window itself is not shortened early —
// spec.md §5: "the window does not extend on successful snapshots
// until failures resume... on success the fail counter resets."
func (t *Trader) noteSnapshotSuccessLocked() {
	t.snapshotFailCount = 0
	t.snapshotFailSince = time.Time{}
}

// noteSnapshotFailureLocked increments the failure streak and, on
// crossing the threshold, opens the uncertain-mode window.
func (t *Trader) noteSnapshotFailureLocked(now time.Time) {
	t.snapshotFailCount++
	if t.snapshotFailSince.IsZero() {
		t.snapshotFailSince = now
	}
	if t.snapshotFailCount >= t.cfg.UncertainFails && !t.uncertainActiveLocked(now) {
		t.uncertainUntil = now.Add(t.cfg.UncertainTTL)
		metrics.UncertainModeEntries.Inc()
		metrics.UncertainModeActive.Set(1)
		t.log.Warn("entering uncertain mode", "fail_count", t.snapshotFailCount, "ttl", t.cfg.UncertainTTL)
	}
}

func (t *Trader) refreshUncertainGauge(now time.Time) {
	if t.uncertainActiveLocked(now) {
		metrics.UncertainModeActive.Set(1)
	} else {
		metrics.UncertainModeActive.Set(0)
	}
}
