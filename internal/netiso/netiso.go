// Package netiso maps the four fixed isolation levels onto engine-level
// network configuration. There are no custom topologies: every container
// runs in exactly one of these modes.
package netiso

import (
	"context"
	"fmt"
	"sync"

	"warden/internal/blueprint"
)

// InternalNetworkName is the shared orchestrator-internal bridge. It has
// no external route; containers on it can reach each other and nothing
// else.
const InternalNetworkName = "warden-internal"

// Resolved is the engine-level network configuration for one mode.
type Resolved struct {
	Mode blueprint.NetworkMode
	// EngineMode is the value passed as the container's network mode.
	EngineMode string
	// NetworkName is the named network joined, if any.
	NetworkName string
	// RequiresApproval is true only for the full mode. It is the sole
	// signal the lifecycle engine uses to interpose the approval gate.
	RequiresApproval bool
	// InternetAccess reports whether the mode is expected to reach the
	// internet (full only; bridge is host-dependent and reported false).
	InternetAccess bool
}

// NetworkEnsurer is the engine subset the resolver needs.
type NetworkEnsurer interface {
	EnsureNetwork(ctx context.Context, name string, internal bool) (string, error)
	RemoveNetwork(ctx context.Context, name string) error
}

// Resolver resolves isolation levels, creating the shared internal
// network lazily on first use.
type Resolver struct {
	networks NetworkEnsurer

	mu            sync.Mutex
	internalReady bool
}

func NewResolver(networks NetworkEnsurer) *Resolver {
	return &Resolver{networks: networks}
}

// Resolve returns the engine configuration for mode. The internal bridge
// is created if absent; all other modes need no engine-side setup.
func (r *Resolver) Resolve(ctx context.Context, mode blueprint.NetworkMode) (Resolved, error) {
	switch mode {
	case blueprint.NetworkNone:
		return Resolved{Mode: mode, EngineMode: "none"}, nil
	case blueprint.NetworkInternal, "":
		if err := r.ensureInternal(ctx); err != nil {
			return Resolved{}, err
		}
		return Resolved{
			Mode:        blueprint.NetworkInternal,
			EngineMode:  InternalNetworkName,
			NetworkName: InternalNetworkName,
		}, nil
	case blueprint.NetworkBridge:
		return Resolved{Mode: mode, EngineMode: "bridge"}, nil
	case blueprint.NetworkFull:
		return Resolved{
			Mode:             mode,
			EngineMode:       "bridge",
			RequiresApproval: true,
			InternetAccess:   true,
		}, nil
	default:
		return Resolved{}, fmt.Errorf("unknown network mode %q", mode)
	}
}

func (r *Resolver) ensureInternal(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.internalReady {
		return nil
	}
	if _, err := r.networks.EnsureNetwork(ctx, InternalNetworkName, true); err != nil {
		return fmt.Errorf("ensure internal network: %w", err)
	}
	r.internalReady = true
	return nil
}

// Cleanup removes the shared internal network. The next Resolve of an
// internal-mode blueprint recreates it.
func (r *Resolver) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.networks.RemoveNetwork(ctx, InternalNetworkName); err != nil {
		return err
	}
	r.internalReady = false
	return nil
}

// Modes returns the static isolation table, for listing.
func Modes() []Resolved {
	return []Resolved{
		{Mode: blueprint.NetworkNone, EngineMode: "none"},
		{Mode: blueprint.NetworkInternal, EngineMode: InternalNetworkName, NetworkName: InternalNetworkName},
		{Mode: blueprint.NetworkBridge, EngineMode: "bridge"},
		{Mode: blueprint.NetworkFull, EngineMode: "bridge", RequiresApproval: true, InternetAccess: true},
	}
}
