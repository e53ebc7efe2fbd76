package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"warden/config"
	"warden/internal/approval"
	"warden/internal/audit"
	"warden/internal/blueprint"
	"warden/internal/engine"
	"warden/internal/netiso"
	"warden/internal/orchestrator"
	"warden/internal/trust"
	"warden/internal/volume"
)

// app wires the orchestration core together for one CLI invocation.
type app struct {
	cfg       *config.Config
	runtime   *engine.Runtime
	orch      *orchestrator.Orchestrator
	approvals *approval.Manager
	volumes   *volume.Manager
	networks  *netiso.Resolver
	gate      *trust.Gate
	store     *audit.Store
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	rt, err := engine.Shared()
	if err != nil {
		return nil, err
	}

	mode, err := trust.ParseSignatureMode(cfg.SignatureMode)
	if err != nil {
		return nil, err
	}
	gate := trust.NewGate(rt, mode)
	networks := netiso.NewResolver(rt)
	volumes := volume.NewManager(rt, cfg.SnapshotDirOrDefault(), nil)

	var store *audit.Store
	var auditLog audit.Logger = audit.SlogLogger{}
	if path := cfg.AuditDBOrDefault(); path != "" {
		store, err = audit.Open(path)
		if err != nil {
			return nil, err
		}
		auditLog = store
	}

	maxMemory, err := cfg.MaxMemoryBytes()
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Options{
		Blueprints: fileBlueprints{dir: cfg.BlueprintDirOrDefault()},
		Secrets:    envSecrets{},
		Engine:     rt,
		Networks:   networks,
		Trust:      gate,
		Volumes:    volumes,
		Audit:      auditLog,
		Quota: orchestrator.QuotaLimits{
			MaxContainers:  cfg.Quota.MaxContainers,
			MaxMemoryBytes: maxMemory,
			MaxCPUCores:    cfg.Quota.MaxCPUCores,
		},
	})
	approvals := approval.NewManager(cfg.ApprovalTTL(), nil, auditLog)
	orch.BindApprovalGate(approvals)
	approvals.Bind(orch)

	return &app{
		cfg:       cfg,
		runtime:   rt,
		orch:      orch,
		approvals: approvals,
		volumes:   volumes,
		networks:  networks,
		gate:      gate,
		store:     store,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// fileBlueprints resolves blueprints from per-id YAML files in the
// configured blueprint directory.
type fileBlueprints struct {
	dir string
}

func (f fileBlueprints) ResolveBlueprint(_ context.Context, id string) (blueprint.Blueprint, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, id+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return blueprint.Blueprint{}, fmt.Errorf("blueprint %s: %w", id, orchestrator.ErrNotFound)
		}
		return blueprint.Blueprint{}, fmt.Errorf("read blueprint %s: %w", id, err)
	}

	var bp blueprint.Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return blueprint.Blueprint{}, fmt.Errorf("parse blueprint %s: %w", id, err)
	}
	if bp.ID == "" {
		bp.ID = id
	}
	return bp, nil
}

// envSecrets resolves secret requirements from WARDEN_SECRET_* process
// environment variables. The encrypted vault lives behind this same
// interface in larger deployments.
type envSecrets struct{}

func (envSecrets) ResolveSecrets(_ context.Context, blueprintID string, required []blueprint.SecretRequirement) (map[string]string, error) {
	out := make(map[string]string, len(required))
	for _, req := range required {
		value, ok := os.LookupEnv("WARDEN_SECRET_" + strings.ToUpper(req.Name))
		if !ok {
			if req.Optional {
				continue
			}
			return nil, fmt.Errorf("required secret %s for blueprint %s is not set", req.Name, blueprintID)
		}
		out[req.Name] = value
	}
	return out, nil
}
