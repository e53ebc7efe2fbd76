package orchestrator

import (
	"time"

	"warden/internal/blueprint"
	"warden/internal/netiso"
)

// Tier buckets an efficiency score for display.
type Tier string

const (
	TierGreen  Tier = "green"
	TierYellow Tier = "yellow"
	TierRed    Tier = "red"
)

// ContainerInstance is one tracked deployment. Live counters are
// refreshed in place on every stats poll; the underlying container and
// volume outlive the registry entry.
type ContainerInstance struct {
	ID          string
	BlueprintID string
	Name        string
	Image       string
	Status      string

	CPUPercent  float64
	MemoryUsage int64
	MemoryLimit int64
	RxBytes     int64
	TxBytes     int64

	StartedAt  time.Time
	TTLSeconds int
	ExpiresAt  time.Time

	Efficiency float64
	Tier       Tier

	Volume  string
	Network netiso.Resolved

	// Allocated hard caps, counted toward the session quota.
	CPUCores    float64
	MemoryBytes int64

	SessionID      string
	ConversationID string

	// bp is the resolved blueprint the instance was started from, kept
	// for the exec command allowlist. Empty after crash recovery when
	// the blueprint can no longer be resolved.
	bp blueprint.Blueprint
}

// Uptime is the time elapsed since the container started.
func (c *ContainerInstance) Uptime(now time.Time) time.Duration {
	if c.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(c.StartedAt)
}

// RemainingTTL returns the seconds left before auto-stop, or 0 when the
// instance has no TTL.
func (c *ContainerInstance) RemainingTTL(now time.Time) int {
	if c.TTLSeconds <= 0 || c.ExpiresAt.IsZero() {
		return 0
	}
	remaining := int(c.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// efficiencyScore is the idle-detection heuristic: long-uptime low-CPU
// containers and memory-saturated idle containers are penalized. The
// thresholds are part of the external contract and must not drift.
func efficiencyScore(uptime time.Duration, cpuPercent, memPercent float64) float64 {
	score := 1.0
	if uptime > 300*time.Second && cpuPercent < 1 {
		score -= 0.3
	}
	if uptime > 600*time.Second && cpuPercent < 5 {
		score -= 0.2
	}
	if memPercent > 80 && cpuPercent < 2 {
		score -= 0.2
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func scoreTier(score float64) Tier {
	switch {
	case score >= 0.7:
		return TierGreen
	case score >= 0.4:
		return TierYellow
	default:
		return TierRed
	}
}
