package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/audit"
)

// armTimerLocked installs a fire-once TTL timer for a container,
// cancelling any existing one first so re-arming never leaves two live
// timers. Caller holds o.mu.
func (o *Orchestrator) armTimerLocked(id string, d time.Duration) {
	o.cancelTimerLocked(id)
	o.timers[id] = time.AfterFunc(d, func() { o.expireTTL(id, audit.ReasonTTLExpired) })
}

// cancelTimerLocked cancels a container's timer if one exists. Safe to
// call when no timer was ever armed. Caller holds o.mu.
func (o *Orchestrator) cancelTimerLocked(id string) {
	if t, ok := o.timers[id]; ok {
		t.Stop()
		delete(o.timers, id)
	}
}

// expireTTL is the timer callback. A fired-but-superseded timer finds
// its container already gone from the registry and does nothing.
func (o *Orchestrator) expireTTL(id, reason string) {
	o.mu.Lock()
	inst, ok := o.registry[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	blueprintID := inst.BlueprintID
	sessionID := inst.SessionID
	delete(o.registry, id)
	delete(o.timers, id)
	o.mu.Unlock()

	// Best effort: a failed stop is logged, not retried.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := o.eng.StopAndRemove(ctx, id); err != nil {
		slog.Warn("Failed to stop expired container.", "container", id, "err", err)
	}

	o.audit.LogAction(audit.ActionContainerTTLExpired, id, blueprintID, sessionID, reason)
	slog.Info("Container TTL expired.", "container", id, "blueprint", blueprintID, "reason", reason)
}

// armedTimers reports how many TTL timers are currently live.
func (o *Orchestrator) armedTimers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.timers)
}
