// Package orchestrator is the lifecycle engine: it drives the deploy
// pipeline across the trust gate, the network resolver and the volume
// manager, tracks running containers in a volatile registry, enforces
// the session quota and supervises per-container TTLs. Everything the
// registry needs to survive a process restart is written to container
// labels and read back by RecoverRuntimeState.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/audit"
	"warden/internal/blueprint"
	"warden/internal/check"
	"warden/internal/engine"
	"warden/internal/netiso"
	"warden/internal/telemetry"
)

// workspaceDir is where the per-deployment volume is mounted, and the
// working directory for exec.
const workspaceDir = "/workspace"

// Overrides are per-deploy adjustments on top of the blueprint.
type Overrides struct {
	// Name overrides the generated container name.
	Name string
	// Env is merged over the secret-injected environment.
	Env map[string]string
	// Resources replaces the blueprint's limits entirely when non-nil.
	Resources *blueprint.ResourceLimits
	// Volume pins the deploy to a named volume.
	Volume string
	// ReuseVolume resumes on the blueprint's most recent volume.
	ReuseVolume bool

	SessionID      string
	ConversationID string
}

// Orchestrator owns the container registry, the quota and the TTL
// timers. One per process.
type Orchestrator struct {
	blueprints BlueprintResolver
	secrets    SecretResolver
	eng        ContainerEngine
	networks   NetworkResolver
	trust      TrustGate
	volumes    VolumeProvider
	approvals  ApprovalGate
	audit      audit.Logger
	clock      Clock
	tracer     trace.Tracer
	limits     QuotaLimits

	mu       sync.Mutex
	registry map[string]*ContainerInstance
	timers   map[string]*time.Timer
	// expiredAtStartup remembers containers whose expiry audit event
	// already fired during recovery, so a second sweep stays silent.
	expiredAtStartup map[string]bool
}

// Options carries the orchestrator's collaborators. Audit, Clock and
// Tracer may be nil.
type Options struct {
	Blueprints BlueprintResolver
	Secrets    SecretResolver
	Engine     ContainerEngine
	Networks   NetworkResolver
	Trust      TrustGate
	Volumes    VolumeProvider
	Audit      audit.Logger
	Clock      Clock
	Tracer     trace.Tracer
	Quota      QuotaLimits
}

func New(opts Options) *Orchestrator {
	if opts.Audit == nil {
		opts.Audit = audit.SlogLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	return &Orchestrator{
		blueprints:       opts.Blueprints,
		secrets:          opts.Secrets,
		eng:              opts.Engine,
		networks:         opts.Networks,
		trust:            opts.Trust,
		volumes:          opts.Volumes,
		audit:            opts.Audit,
		clock:            opts.Clock,
		tracer:           opts.Tracer,
		limits:           opts.Quota,
		registry:         make(map[string]*ContainerInstance),
		timers:           make(map[string]*time.Timer),
		expiredAtStartup: make(map[string]bool),
	}
}

// BindApprovalGate wires the approval state machine in after
// construction. The gate depends on the orchestrator's start path, so
// the two are built separately and bound by the caller.
func (o *Orchestrator) BindApprovalGate(gate ApprovalGate) {
	o.approvals = gate
}

// StartContainer runs the full deploy pipeline. A blueprint whose
// network mode requires approval fails with ApprovalRequiredError; the
// approval machinery retries via StartApproved.
func (o *Orchestrator) StartContainer(ctx context.Context, blueprintID string, ov Overrides) (*ContainerInstance, error) {
	return o.start(ctx, blueprintID, ov, false)
}

// StartApproved is the resume path after a human approval. It is the
// same pipeline with the approval gate suppressed.
func (o *Orchestrator) StartApproved(ctx context.Context, blueprintID string, ov Overrides) (*ContainerInstance, error) {
	return o.start(ctx, blueprintID, ov, true)
}

func (o *Orchestrator) start(ctx context.Context, blueprintID string, ov Overrides, approved bool) (inst *ContainerInstance, err error) {
	op := telemetry.Start(ctx, o.tracer, "container.deploy",
		attribute.String("blueprint", blueprintID))
	defer func() { op.End(err) }()
	ctx = op.Context()

	var bp blueprint.Blueprint
	err = op.RunStep(ctx, "resolve_blueprint", func(ctx context.Context) error {
		var resolveErr error
		bp, resolveErr = o.blueprints.ResolveBlueprint(ctx, blueprintID)
		if resolveErr != nil {
			return fmt.Errorf("resolve blueprint %s: %w", blueprintID, resolveErr)
		}
		if validateErr := bp.Validate(); validateErr != nil {
			return fmt.Errorf("%v: %w", validateErr, ErrInvalidBlueprint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var resolved netiso.Resolved
	err = op.RunStep(ctx, "resolve_network", func(ctx context.Context) error {
		var netErr error
		resolved, netErr = o.networks.Resolve(ctx, bp.NetworkOrDefault())
		return netErr
	})
	if err != nil {
		return nil, err
	}

	if resolved.RequiresApproval && !approved {
		reason := fmt.Sprintf("blueprint %s requests network mode %s with internet access", bp.ID, resolved.Mode)
		approvalID, reqErr := o.approvals.RequestApproval(ctx, ApprovalRequest{
			BlueprintID:    bp.ID,
			Reason:         reason,
			NetworkMode:    resolved.Mode,
			Overrides:      ov,
			SessionID:      ov.SessionID,
			ConversationID: ov.ConversationID,
		})
		if reqErr != nil {
			return nil, fmt.Errorf("request approval for %s: %w", bp.ID, reqErr)
		}
		return nil, &ApprovalRequiredError{ApprovalID: approvalID, Reason: reason}
	}

	limits := bp.Resources
	if ov.Resources != nil {
		limits = *ov.Resources
	}

	err = op.RunStep(ctx, "check_quota", func(context.Context) error {
		// Known race: the check and the registry insert are separate
		// critical sections, so two concurrent deploys can both pass
		// here. Acceptable at single-tenant concurrency.
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.checkQuotaLocked(limits.MemoryBytes, limits.CPUCores)
	})
	if err != nil {
		return nil, err
	}

	err = op.RunStep(ctx, "prepare_image", func(ctx context.Context) error {
		if bp.BuildScript != "" {
			if buildErr := o.eng.BuildImage(ctx, bp.BuildTag(), bp.BuildScript); buildErr != nil {
				return fmt.Errorf("%v: %w", buildErr, ErrBuildFailed)
			}
			return nil
		}
		return o.eng.EnsureImage(ctx, bp.Image)
	})
	if err != nil {
		return nil, err
	}

	err = op.RunStep(ctx, "authorize_trust", func(ctx context.Context) error {
		if _, trustErr := o.trust.Authorize(ctx, bp); trustErr != nil {
			o.audit.LogAction(audit.ActionTrustBlocked, bp.ID, bp.ID, ov.SessionID, trustErr.Error())
			return trustErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var env []string
	err = op.RunStep(ctx, "resolve_secrets", func(ctx context.Context) error {
		values, secErr := o.secrets.ResolveSecrets(ctx, bp.ID, bp.Secrets)
		if secErr != nil {
			return fmt.Errorf("resolve secrets for %s: %w", bp.ID, secErr)
		}
		env = envList(values, ov.Env)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var volName string
	volCreated := false
	err = op.RunStep(ctx, "provision_volume", func(ctx context.Context) error {
		var volErr error
		volName, volCreated, volErr = o.provisionVolume(ctx, bp.ID, ov)
		return volErr
	})
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	ttl := limits.TimeoutSeconds
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(time.Duration(ttl) * time.Second)
	}

	name := ov.Name
	if name == "" {
		name = containerName(bp.ID)
	}

	var containerID string
	err = op.RunStep(ctx, "create_container", func(ctx context.Context) error {
		cfg := engine.CreateConfig{
			Name:        name,
			Image:       bp.ImageRef(),
			Env:         env,
			WorkingDir:  workspaceDir,
			Labels:      durableLabels(bp.ID, volName, now, ttl, expiresAt, ov),
			NetworkMode: resolved.EngineMode,
			Mounts:      buildMounts(bp, volName),
			Ports:       buildPorts(bp),
			Resources: engine.Resources{
				CPUCores:        limits.CPUCores,
				MemoryBytes:     limits.MemoryBytes,
				MemorySwapBytes: limits.MemorySwapBytes,
				PidsLimit:       limits.PidsLimit,
			},
		}
		var createErr error
		containerID, createErr = o.eng.CreateContainer(ctx, cfg)
		if createErr != nil {
			o.rollbackVolume(ctx, volName, volCreated, ov.SessionID)
			return fmt.Errorf("deploy %s: %w", bp.ID, createErr)
		}
		if startErr := o.eng.StartContainer(ctx, containerID); startErr != nil {
			if removeErr := o.eng.StopAndRemove(ctx, containerID); removeErr != nil {
				slog.Warn("Failed to remove container after start failure.", "container", containerID, "err", removeErr)
			}
			o.rollbackVolume(ctx, volName, volCreated, ov.SessionID)
			return fmt.Errorf("deploy %s: %w", bp.ID, startErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	check.Assert(containerID != "", "engine returned empty container id")

	inst = &ContainerInstance{
		ID:             containerID,
		BlueprintID:    bp.ID,
		Name:           name,
		Image:          bp.ImageRef(),
		Status:         "running",
		StartedAt:      now,
		TTLSeconds:     ttl,
		ExpiresAt:      expiresAt,
		Efficiency:     1.0,
		Tier:           TierGreen,
		Volume:         volName,
		Network:        resolved,
		CPUCores:       limits.CPUCores,
		MemoryBytes:    limits.MemoryBytes,
		SessionID:      ov.SessionID,
		ConversationID: ov.ConversationID,
		bp:             bp,
	}

	o.mu.Lock()
	o.registry[containerID] = inst
	if ttl > 0 {
		o.armTimerLocked(containerID, time.Duration(ttl)*time.Second)
	}
	o.mu.Unlock()

	o.audit.LogAction(audit.ActionContainerStarted, containerID, bp.ID, ov.SessionID, "")
	slog.Info("Started container.",
		"container", containerID, "blueprint", bp.ID, "network", string(resolved.Mode), "ttl_seconds", ttl)
	return inst, nil
}

// StopContainer stops and removes a container, cancels its TTL timer
// and evicts the registry entry. Idempotent: a second call reports
// found=false without error.
func (o *Orchestrator) StopContainer(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	inst, tracked := o.registry[id]
	if tracked {
		o.cancelTimerLocked(id)
		delete(o.registry, id)
	}
	o.mu.Unlock()

	if !tracked {
		info, err := o.eng.InspectContainer(ctx, id)
		if err != nil {
			return false, err
		}
		if !info.Exists {
			return false, nil
		}
	}

	if err := o.eng.StopAndRemove(ctx, id); err != nil {
		return tracked, fmt.Errorf("stop container %s: %w", id, err)
	}

	blueprintID, sessionID := "", ""
	if inst != nil {
		blueprintID = inst.BlueprintID
		sessionID = inst.SessionID
	}
	o.audit.LogAction(audit.ActionContainerStopped, id, blueprintID, sessionID, "")
	slog.Info("Stopped container.", "container", id, "blueprint", blueprintID)
	return true, nil
}

// CleanupAll stops every tracked container owned by sessionID. An empty
// sessionID stops everything. Failures are logged and do not abort the
// sweep.
func (o *Orchestrator) CleanupAll(ctx context.Context, sessionID string) int {
	o.mu.Lock()
	var ids []string
	for id, inst := range o.registry {
		if sessionID == "" || inst.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	stopped := 0
	for _, id := range ids {
		if _, err := o.StopContainer(ctx, id); err != nil {
			slog.Warn("Failed to stop container during cleanup.", "container", id, "err", err)
			continue
		}
		stopped++
	}
	return stopped
}

func (o *Orchestrator) provisionVolume(ctx context.Context, blueprintID string, ov Overrides) (name string, created bool, err error) {
	switch {
	case ov.Volume != "":
		name = ov.Volume
	case ov.ReuseVolume:
		latest, found, findErr := o.volumes.FindLatestVolume(ctx, blueprintID)
		if findErr != nil {
			return "", false, findErr
		}
		if found {
			name = latest
		} else {
			name = o.volumes.NewVolumeName(blueprintID)
			created = true
		}
	default:
		name = o.volumes.NewVolumeName(blueprintID)
		created = true
	}
	if err := o.volumes.EnsureVolume(ctx, name, blueprintID); err != nil {
		return "", false, err
	}
	return name, created, nil
}

// rollbackVolume removes a volume provisioned for a deploy that never
// produced a running container. Reused volumes are left alone.
func (o *Orchestrator) rollbackVolume(ctx context.Context, name string, created bool, sessionID string) {
	if !created {
		return
	}
	if err := o.volumes.RemoveVolume(ctx, name); err != nil {
		slog.Warn("Failed to roll back volume.", "volume", name, "err", err)
		return
	}
	o.audit.LogAction(audit.ActionVolumeRemoved, name, "", sessionID, "deploy rollback")
}

func durableLabels(blueprintID, volName string, startedAt time.Time, ttl int, expiresAt time.Time, ov Overrides) map[string]string {
	labels := map[string]string{
		engine.LabelManaged:      engine.ManagedValue,
		engine.LabelBlueprint:    blueprintID,
		engine.LabelVolume:       volName,
		engine.LabelStartedAt:    strconv.FormatInt(startedAt.Unix(), 10),
		engine.LabelTTLSeconds:   strconv.Itoa(ttl),
		engine.LabelSession:      ov.SessionID,
		engine.LabelConversation: ov.ConversationID,
	}
	if ttl > 0 {
		labels[engine.LabelExpiresAt] = strconv.FormatInt(expiresAt.Unix(), 10)
	} else {
		labels[engine.LabelExpiresAt] = "0"
	}
	return labels
}

func buildMounts(bp blueprint.Blueprint, volName string) []engine.Mount {
	mounts := []engine.Mount{{Source: volName, Target: workspaceDir, Volume: true}}
	for _, m := range bp.Mounts {
		mounts = append(mounts, engine.Mount{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}
	return mounts
}

func buildPorts(bp blueprint.Blueprint) []engine.Port {
	ports := make([]engine.Port, 0, len(bp.Ports))
	for _, p := range bp.Ports {
		ports = append(ports, engine.Port{HostPort: p.HostPort, ContainerPort: p.ContainerPort, Protocol: p.Protocol})
	}
	return ports
}

func envList(secrets, overrides map[string]string) []string {
	merged := make(map[string]string, len(secrets)+len(overrides))
	for k, v := range secrets {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

func containerName(blueprintID string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("warden-%s-%s", blueprintID, token)
}
