package engine

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/network"
)

// EnsureNetwork creates a bridge network if it is absent and returns its
// id. Safe to call repeatedly.
func (r *Runtime) EnsureNetwork(ctx context.Context, name string, internal bool) (string, error) {
	nw, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nw.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect network %s: %w", name, err)
	}

	resp, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:   "bridge",
		Internal: internal,
		Labels:   map[string]string{LabelManaged: ManagedValue},
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", name, err)
	}
	return resp.ID, nil
}

// RemoveNetwork removes a network, ignoring NotFound.
func (r *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	if err := r.cli.NetworkRemove(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}
