package engine

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	dockerfilters "github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
)

// VolumeInfo is one engine-managed volume.
type VolumeInfo struct {
	Name      string
	Labels    map[string]string
	CreatedAt string
}

// EnsureVolume creates a named volume if it does not already exist.
// Creating an existing name is a no-op at the engine level, which makes
// this idempotent.
func (r *Runtime) EnsureVolume(ctx context.Context, name string, labels map[string]string) error {
	if _, err := r.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels}); err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	return nil
}

// RemoveVolume force-removes a volume, ignoring NotFound.
func (r *Runtime) RemoveVolume(ctx context.Context, name string) error {
	if err := r.cli.VolumeRemove(ctx, name, true); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}

// ListVolumes lists volumes matching every label in labelFilter.
func (r *Runtime) ListVolumes(ctx context.Context, labelFilter map[string]string) ([]VolumeInfo, error) {
	filters := dockerfilters.NewArgs()
	for key, value := range labelFilter {
		filters.Add("label", key+"="+value)
	}

	resp, err := r.cli.VolumeList(ctx, volume.ListOptions{Filters: filters})
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}

	out := make([]VolumeInfo, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		out = append(out, VolumeInfo{Name: v.Name, Labels: v.Labels, CreatedAt: v.CreatedAt})
	}
	return out, nil
}

// VolumesInUse returns the names of every volume attached to any
// container, running or stopped.
func (r *Runtime) VolumesInUse(ctx context.Context) (map[string]bool, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	inUse := make(map[string]bool)
	for _, c := range containers {
		for _, m := range c.Mounts {
			if m.Name != "" {
				inUse[m.Name] = true
			}
		}
	}
	return inUse, nil
}
