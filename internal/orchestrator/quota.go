package orchestrator

import "fmt"

// QuotaLimits are the session-wide ceilings. Zero means unlimited.
type QuotaLimits struct {
	MaxContainers  int
	MaxMemoryBytes int64
	MaxCPUCores    float64
}

// QuotaUsage is the live aggregate, always recomputed from the registry
// and never incremented independently.
type QuotaUsage struct {
	Containers  int
	MemoryBytes int64
	CPUCores    float64
}

// usageLocked derives quota usage as a pure function of the registry.
// Caller holds o.mu.
func (o *Orchestrator) usageLocked() QuotaUsage {
	var usage QuotaUsage
	for _, inst := range o.registry {
		usage.Containers++
		usage.MemoryBytes += inst.MemoryBytes
		usage.CPUCores += inst.CPUCores
	}
	return usage
}

// checkQuotaLocked reports whether adding the requested allocation would
// exceed a configured ceiling. Caller holds o.mu.
func (o *Orchestrator) checkQuotaLocked(memBytes int64, cpuCores float64) error {
	usage := o.usageLocked()
	if o.limits.MaxContainers > 0 && usage.Containers+1 > o.limits.MaxContainers {
		return fmt.Errorf("containers %d/%d: %w", usage.Containers, o.limits.MaxContainers, ErrQuotaExceeded)
	}
	if o.limits.MaxMemoryBytes > 0 && usage.MemoryBytes+memBytes > o.limits.MaxMemoryBytes {
		return fmt.Errorf("memory %d+%d over %d bytes: %w", usage.MemoryBytes, memBytes, o.limits.MaxMemoryBytes, ErrQuotaExceeded)
	}
	if o.limits.MaxCPUCores > 0 && usage.CPUCores+cpuCores > o.limits.MaxCPUCores {
		return fmt.Errorf("cpu %.2f+%.2f over %.2f cores: %w", usage.CPUCores, cpuCores, o.limits.MaxCPUCores, ErrQuotaExceeded)
	}
	return nil
}

// Quota returns the configured ceilings and the current usage.
func (o *Orchestrator) Quota() (QuotaLimits, QuotaUsage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.limits, o.usageLocked()
}
