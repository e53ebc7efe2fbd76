package orchestrator

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"warden/internal/audit"
	"warden/internal/engine"
)

// RecoveryReport summarizes one RecoverRuntimeState sweep.
type RecoveryReport struct {
	// Recovered is the number of containers re-registered this sweep.
	Recovered int
	// Expired is the number of containers found past their expiry and
	// stopped this sweep.
	Expired int
}

// RecoverRuntimeState rebuilds the volatile registry from durable
// container labels after a process restart. Containers past their
// absolute expiry are stopped immediately with a single audit event;
// everything else is re-registered, with TTL timers re-armed for the
// remaining time only — never the original TTL. Idempotent: a second
// sweep registers nothing and arms nothing.
func (o *Orchestrator) RecoverRuntimeState(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	entries, err := o.eng.ListContainers(ctx, map[string]string{engine.LabelManaged: engine.ManagedValue})
	if err != nil {
		return report, err
	}
	now := o.clock.Now()

	for _, entry := range entries {
		if entry.Labels[engine.LabelHelper] != "" {
			continue
		}
		if !entry.Running {
			continue
		}

		o.mu.Lock()
		_, tracked := o.registry[entry.ID]
		alreadyExpired := o.expiredAtStartup[entry.ID]
		o.mu.Unlock()
		if tracked || alreadyExpired {
			continue
		}

		blueprintID := entry.Labels[engine.LabelBlueprint]
		ttl, _ := strconv.Atoi(entry.Labels[engine.LabelTTLSeconds])
		expiresAt := labelTime(entry.Labels[engine.LabelExpiresAt])
		startedAt := labelTime(entry.Labels[engine.LabelStartedAt])

		if ttl > 0 {
			remaining := expiresAt.Sub(now)
			if remaining <= 0 {
				o.mu.Lock()
				o.expiredAtStartup[entry.ID] = true
				o.mu.Unlock()

				// Best effort, exactly one audit event per container.
				if err := o.eng.StopAndRemove(ctx, entry.ID); err != nil {
					slog.Warn("Failed to stop expired container during recovery.", "container", entry.ID, "err", err)
				}
					o.audit.LogAction(audit.ActionContainerTTLExpired, entry.ID, blueprintID,
					entry.Labels[engine.LabelSession], audit.ReasonTTLExpiredAtStartup)
				slog.Info("Stopped already-expired container at startup.",
					"container", entry.ID, "blueprint", blueprintID, "session", entry.Labels[engine.LabelSession])
				report.Expired++
				continue
			}

			o.registerRecovered(entry, blueprintID, ttl, startedAt, expiresAt, remaining)
			report.Recovered++
			continue
		}

		o.registerRecovered(entry, blueprintID, 0, startedAt, time.Time{}, 0)
		report.Recovered++
	}

	slog.Info("Recovered runtime state.", "recovered", report.Recovered, "expired", report.Expired)
	return report, nil
}

func (o *Orchestrator) registerRecovered(entry engine.ListEntry, blueprintID string, ttl int, startedAt, expiresAt time.Time, remaining time.Duration) {
	inst := &ContainerInstance{
		ID:             entry.ID,
		BlueprintID:    blueprintID,
		Name:           entry.Name,
		Image:          entry.Image,
		Status:         entry.State,
		StartedAt:      startedAt,
		TTLSeconds:     ttl,
		ExpiresAt:      expiresAt,
		Efficiency:     1.0,
		Tier:           TierGreen,
		Volume:         entry.Labels[engine.LabelVolume],
		SessionID:      entry.Labels[engine.LabelSession],
		ConversationID: entry.Labels[engine.LabelConversation],
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, tracked := o.registry[entry.ID]; tracked {
		return
	}
	o.registry[entry.ID] = inst
	if ttl > 0 {
		o.armTimerLocked(entry.ID, remaining)
	}
	slog.Info("Re-registered container from labels.",
		"container", entry.ID, "blueprint", blueprintID, "ttl_seconds", ttl, "remaining", remaining)
}

func labelTime(unixLabel string) time.Time {
	unix, err := strconv.ParseInt(unixLabel, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
