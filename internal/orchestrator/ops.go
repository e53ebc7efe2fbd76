package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"warden/internal/blueprint"
	"warden/internal/engine"
)

// statsRefreshParallelism caps concurrent stats polls during a listing.
const statsRefreshParallelism = 8

// ExecCommand runs a single command inside a tracked container's
// workspace. A non-running container yields a synthetic exit code 126
// instead of an error; the blueprint's command allowlist is enforced
// first.
func (o *Orchestrator) ExecCommand(ctx context.Context, id string, argv []string, timeout time.Duration) (engine.ExecResult, error) {
	o.mu.Lock()
	inst, ok := o.registry[id]
	o.mu.Unlock()
	if !ok {
		return engine.ExecResult{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	if !inst.bp.CommandAllowed(argv) {
		return engine.ExecResult{}, fmt.Errorf("exec %v in %s: %w", argv, id, ErrCommandNotAllowed)
	}

	info, err := o.eng.InspectContainer(ctx, id)
	if err != nil {
		return engine.ExecResult{}, err
	}
	if !info.Exists || !info.Running {
		return engine.ExecResult{
			ExitCode: 126,
			Output:   fmt.Sprintf("container %s is not running", id),
		}, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.eng.Exec(ctx, id, argv, workspaceDir)
}

// GetLogs tails a tracked container's output. Daemon trouble is a soft
// failure: the payload explains it and err stays nil, so polling loops
// survive transient hiccups.
func (o *Orchestrator) GetLogs(ctx context.Context, id string, lines int) (string, error) {
	o.mu.Lock()
	_, ok := o.registry[id]
	o.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("container %s: %w", id, ErrNotFound)
	}

	out, err := o.eng.Logs(ctx, id, lines)
	if err != nil {
		slog.Warn("Log retrieval failed.", "container", id, "err", err)
		return fmt.Sprintf("log retrieval failed: %v", err), nil
	}
	return out, nil
}

// GetStats polls live counters, updates the registry entry in place and
// recomputes the efficiency score. Daemon errors leave the entry's last
// known counters untouched and are not raised.
func (o *Orchestrator) GetStats(ctx context.Context, id string) (ContainerInstance, error) {
	o.mu.Lock()
	inst, ok := o.registry[id]
	o.mu.Unlock()
	if !ok {
		return ContainerInstance{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
	}

	sample, err := o.eng.Stats(ctx, id)
	now := o.clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		slog.Warn("Stats poll failed.", "container", id, "err", err)
		return *inst, nil
	}
	inst.CPUPercent = sample.CPUPercent
	inst.MemoryUsage = sample.MemoryUsage
	inst.MemoryLimit = sample.MemoryLimit
	inst.RxBytes = sample.RxBytes
	inst.TxBytes = sample.TxBytes
	inst.Efficiency = efficiencyScore(inst.Uptime(now), sample.CPUPercent, sample.MemoryPercent())
	inst.Tier = scoreTier(inst.Efficiency)
	return *inst, nil
}

// ListContainers snapshots the registry after refreshing every entry's
// stats in parallel. Individual poll failures are soft.
func (o *Orchestrator) ListContainers(ctx context.Context) []ContainerInstance {
	o.mu.Lock()
	ids := make([]string, 0, len(o.registry))
	for id := range o.registry {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsRefreshParallelism)
	for _, id := range ids {
		g.Go(func() error {
			_, _ = o.GetStats(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	out := make([]ContainerInstance, 0, len(o.registry))
	for _, inst := range o.registry {
		out = append(out, *inst)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Get returns a snapshot of one tracked instance.
func (o *Orchestrator) Get(id string) (ContainerInstance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.registry[id]
	if !ok {
		return ContainerInstance{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	return *inst, nil
}

// OptimizeResources applies new hard caps to a running container and
// updates its quota-counted allocation. This is the only path that
// renegotiates limits after creation.
func (o *Orchestrator) OptimizeResources(ctx context.Context, id string, limits blueprint.ResourceLimits) error {
	o.mu.Lock()
	inst, ok := o.registry[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("container %s: %w", id, ErrNotFound)
	}

	err := o.eng.UpdateResources(ctx, id, engine.Resources{
		CPUCores:        limits.CPUCores,
		MemoryBytes:     limits.MemoryBytes,
		MemorySwapBytes: limits.MemorySwapBytes,
		PidsLimit:       limits.PidsLimit,
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	inst.CPUCores = limits.CPUCores
	inst.MemoryBytes = limits.MemoryBytes
	o.mu.Unlock()

	slog.Info("Updated container resources.",
		"container", id, "cpu_cores", limits.CPUCores, "memory_bytes", limits.MemoryBytes)
	return nil
}
