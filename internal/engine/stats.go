package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docker/docker/api/types/container"
)

// StatsSample is one normalized reading of a container's live counters.
type StatsSample struct {
	CPUPercent  float64
	MemoryUsage int64
	MemoryLimit int64
	RxBytes     int64
	TxBytes     int64
}

// MemoryPercent returns memory utilization in percent, or 0 when the
// limit is unknown.
func (s StatsSample) MemoryPercent() float64 {
	if s.MemoryLimit <= 0 {
		return 0
	}
	return float64(s.MemoryUsage) / float64(s.MemoryLimit) * 100
}

// Stats takes a one-shot stats reading and normalizes the raw counters.
func (r *Runtime) Stats(ctx context.Context, id string) (StatsSample, error) {
	resp, err := r.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return StatsSample{}, fmt.Errorf("stats for container %s: %w", id, err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return StatsSample{}, fmt.Errorf("decode stats for container %s: %w", id, err)
	}
	return parseStats(raw), nil
}

func parseStats(raw container.StatsResponse) StatsSample {
	sample := StatsSample{
		CPUPercent:  cpuPercent(raw),
		MemoryUsage: int64(raw.MemoryStats.Usage),
		MemoryLimit: int64(raw.MemoryStats.Limit),
	}
	for _, nw := range raw.Networks {
		sample.RxBytes += int64(nw.RxBytes)
		sample.TxBytes += int64(nw.TxBytes)
	}
	return sample
}

// cpuPercent follows the same delta math `docker stats` uses: container
// cpu delta over system cpu delta, scaled by the number of online CPUs.
func cpuPercent(raw container.StatsResponse) float64 {
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || sysDelta <= 0 {
		return 0
	}
	online := float64(raw.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
	}
	if online == 0 {
		online = 1
	}
	return cpuDelta / sysDelta * online * 100
}
