// Package blueprint defines the declarative deployment template the
// lifecycle engine consumes. Blueprint storage, inheritance resolution and
// import/export live outside this module; the engine only ever sees a fully
// resolved, immutable Blueprint.
package blueprint

import (
	"fmt"
	"strings"
)

// NetworkMode is one of the four fixed isolation levels.
type NetworkMode string

const (
	NetworkNone     NetworkMode = "none"
	NetworkInternal NetworkMode = "internal"
	NetworkBridge   NetworkMode = "bridge"
	NetworkFull     NetworkMode = "full"
)

// ResourceLimits are per-container hard caps applied at create time. They
// are not renegotiated except through an explicit optimize call.
type ResourceLimits struct {
	CPUCores        float64 `yaml:"cpu_cores,omitempty"`
	MemoryBytes     int64   `yaml:"memory_bytes,omitempty"`
	MemorySwapBytes int64   `yaml:"memory_swap_bytes,omitempty"`
	PidsLimit       int64   `yaml:"pids_limit,omitempty"`

	// TimeoutSeconds is the TTL after which the container is auto-stopped.
	// Zero means no timeout.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// SecretRequirement names a secret the container needs injected. Optional
// secrets may be absent from the vault without failing the deploy.
type SecretRequirement struct {
	Name     string `yaml:"name"`
	Optional bool   `yaml:"optional,omitempty"`
}

// MountSpec binds a host path into the container.
type MountSpec struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

// PortSpec publishes a container port on the host.
type PortSpec struct {
	HostPort      uint16 `yaml:"host_port"`
	ContainerPort uint16 `yaml:"container_port"`
	Protocol      string `yaml:"protocol,omitempty"`
}

// Blueprint is a resolved deployment template. Exactly one of BuildScript
// or Image must be set.
type Blueprint struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`

	// BuildScript is an inline Dockerfile. Mutually exclusive with Image.
	BuildScript string `yaml:"build_script,omitempty"`
	// Image is a pre-built image reference. Mutually exclusive with BuildScript.
	Image string `yaml:"image,omitempty"`
	// PinnedDigest, when set, must exactly match the locally resolved
	// content digest of Image before a container may start.
	PinnedDigest string `yaml:"pinned_digest,omitempty"`

	Resources ResourceLimits      `yaml:"resources,omitempty"`
	Secrets   []SecretRequirement `yaml:"secrets,omitempty"`
	Mounts    []MountSpec         `yaml:"mounts,omitempty"`
	Ports     []PortSpec          `yaml:"ports,omitempty"`

	Network NetworkMode `yaml:"network,omitempty"`

	// AllowedCommands, when non-empty, restricts exec to the listed
	// programs (matched against argv[0]).
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`

	Tags []string `yaml:"tags,omitempty"`
}

// Validate checks the structural invariants of a resolved blueprint.
func (b Blueprint) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("blueprint id is required")
	}
	hasBuild := strings.TrimSpace(b.BuildScript) != ""
	hasImage := strings.TrimSpace(b.Image) != ""
	if hasBuild == hasImage {
		return fmt.Errorf("blueprint %q: exactly one of build_script or image must be set", b.ID)
	}
	switch b.Network {
	case "", NetworkNone, NetworkInternal, NetworkBridge, NetworkFull:
	default:
		return fmt.Errorf("blueprint %q: unknown network mode %q", b.ID, b.Network)
	}
	return nil
}

// NetworkOrDefault returns the blueprint's network mode, defaulting to the
// shared internal bridge when unset.
func (b Blueprint) NetworkOrDefault() NetworkMode {
	if b.Network == "" {
		return NetworkInternal
	}
	return b.Network
}

// BuildTag returns the local image tag a built blueprint is tagged with.
func (b Blueprint) BuildTag() string {
	return "warden-build-" + b.ID
}

// ImageRef returns the image reference the container runs from: the
// pre-built image if set, otherwise the local build tag.
func (b Blueprint) ImageRef() string {
	if b.Image != "" {
		return b.Image
	}
	return b.BuildTag()
}

// CommandAllowed reports whether argv may be exec'd under the blueprint's
// command allowlist. An empty allowlist permits everything.
func (b Blueprint) CommandAllowed(argv []string) bool {
	if len(b.AllowedCommands) == 0 {
		return true
	}
	if len(argv) == 0 {
		return false
	}
	for _, allowed := range b.AllowedCommands {
		if argv[0] == allowed {
			return true
		}
	}
	return false
}
