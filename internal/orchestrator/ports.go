package orchestrator

import (
	"context"
	"time"

	"warden/internal/blueprint"
	"warden/internal/engine"
	"warden/internal/netiso"
	"warden/internal/trust"
)

// BlueprintResolver resolves blueprint ids to fully resolved templates.
// Storage, inheritance and import/export live behind this interface.
type BlueprintResolver interface {
	ResolveBlueprint(ctx context.Context, id string) (blueprint.Blueprint, error)
}

// SecretResolver hands out secret values for a blueprint's requirements.
// It must fail when a non-optional secret is missing.
type SecretResolver interface {
	ResolveSecrets(ctx context.Context, blueprintID string, required []blueprint.SecretRequirement) (map[string]string, error)
}

// Clock abstracts time.Now() for deterministic testing.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ContainerEngine is the engine adapter subset the lifecycle engine
// drives.
type ContainerEngine interface {
	EnsureImage(ctx context.Context, ref string) error
	BuildImage(ctx context.Context, tag, dockerfile string) error
	CreateContainer(ctx context.Context, cfg engine.CreateConfig) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopAndRemove(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (engine.ContainerInfo, error)
	ListContainers(ctx context.Context, labelFilter map[string]string) ([]engine.ListEntry, error)
	Exec(ctx context.Context, id string, cmd []string, workdir string) (engine.ExecResult, error)
	Stats(ctx context.Context, id string) (engine.StatsSample, error)
	Logs(ctx context.Context, id string, lines int) (string, error)
	UpdateResources(ctx context.Context, id string, res engine.Resources) error
}

// NetworkResolver maps an isolation level to engine network config.
type NetworkResolver interface {
	Resolve(ctx context.Context, mode blueprint.NetworkMode) (netiso.Resolved, error)
}

// TrustGate authorizes a blueprint before any container exists.
type TrustGate interface {
	Authorize(ctx context.Context, bp blueprint.Blueprint) ([]trust.Decision, error)
}

// VolumeProvider provisions and rolls back workspace volumes.
type VolumeProvider interface {
	NewVolumeName(blueprintID string) string
	EnsureVolume(ctx context.Context, name, blueprintID string) error
	RemoveVolume(ctx context.Context, name string) error
	FindLatestVolume(ctx context.Context, blueprintID string) (string, bool, error)
}

// ApprovalRequest carries everything needed to resume a deploy after a
// human resolves it.
type ApprovalRequest struct {
	BlueprintID    string
	Reason         string
	NetworkMode    blueprint.NetworkMode
	Overrides      Overrides
	SessionID      string
	ConversationID string
}

// ApprovalGate files a pending approval and returns its id. The deploy
// that triggered it fails with ApprovalRequiredError and is retried via
// the gate once a human approves.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (string, error)
}
