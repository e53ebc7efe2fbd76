package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"warden/internal/audit"
	"warden/internal/blueprint"
	"warden/internal/engine"
	"warden/internal/fake"
	"warden/internal/netiso"
	"warden/internal/trust"
)

type fakeBlueprints struct {
	bps map[string]blueprint.Blueprint
}

func (f *fakeBlueprints) ResolveBlueprint(_ context.Context, id string) (blueprint.Blueprint, error) {
	bp, ok := f.bps[id]
	if !ok {
		return blueprint.Blueprint{}, fmt.Errorf("blueprint %s: %w", id, ErrNotFound)
	}
	return bp, nil
}

type fakeSecrets struct {
	values map[string]string
	err    error
}

func (f *fakeSecrets) ResolveSecrets(context.Context, string, []blueprint.SecretRequirement) (map[string]string, error) {
	return f.values, f.err
}

type fakeEngine struct {
	mu          sync.Mutex
	created     []engine.CreateConfig
	createErr   error
	startErr    error
	stopped     []string
	running     map[string]bool
	listEntries []engine.ListEntry
	statsSample engine.StatsSample
	statsErr    error
	execResult  engine.ExecResult
	logsErr     error
	nextID      int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{running: make(map[string]bool)}
}

func (f *fakeEngine) EnsureImage(context.Context, string) error        { return nil }
func (f *fakeEngine) BuildImage(context.Context, string, string) error { return nil }

func (f *fakeEngine) CreateContainer(_ context.Context, cfg engine.CreateConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, cfg)
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.running[id] = true
	return id, nil
}

func (f *fakeEngine) StartContainer(context.Context, string) error { return f.startErr }

func (f *fakeEngine) StopAndRemove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	delete(f.running, id)
	return nil
}

func (f *fakeEngine) InspectContainer(_ context.Context, id string) (engine.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, exists := f.running[id]
	return engine.ContainerInfo{Exists: exists, Running: running, ID: id}, nil
}

func (f *fakeEngine) ListContainers(context.Context, map[string]string) ([]engine.ListEntry, error) {
	return f.listEntries, nil
}

func (f *fakeEngine) Exec(context.Context, string, []string, string) (engine.ExecResult, error) {
	return f.execResult, nil
}

func (f *fakeEngine) Stats(context.Context, string) (engine.StatsSample, error) {
	return f.statsSample, f.statsErr
}

func (f *fakeEngine) Logs(context.Context, string, int) (string, error) {
	if f.logsErr != nil {
		return "", f.logsErr
	}
	return "log line", nil
}

func (f *fakeEngine) UpdateResources(context.Context, string, engine.Resources) error { return nil }

func (f *fakeEngine) stoppedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

type fakeNetworkEnsurer struct{}

func (fakeNetworkEnsurer) EnsureNetwork(context.Context, string, bool) (string, error) {
	return "net-1", nil
}
func (fakeNetworkEnsurer) RemoveNetwork(context.Context, string) error { return nil }

type fakeTrust struct {
	err error
}

func (f *fakeTrust) Authorize(context.Context, blueprint.Blueprint) ([]trust.Decision, error) {
	return nil, f.err
}

type fakeVolumes struct {
	mu      sync.Mutex
	counter int
	ensured []string
	removed []string
	latest  string
}

func (f *fakeVolumes) NewVolumeName(blueprintID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return fmt.Sprintf("warden-%s-%d", blueprintID, f.counter)
}

func (f *fakeVolumes) EnsureVolume(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeVolumes) RemoveVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeVolumes) FindLatestVolume(context.Context, string) (string, bool, error) {
	return f.latest, f.latest != "", nil
}

type fakeApprovals struct {
	requests []ApprovalRequest
}

func (f *fakeApprovals) RequestApproval(_ context.Context, req ApprovalRequest) (string, error) {
	f.requests = append(f.requests, req)
	return "appr-1", nil
}

type auditEntry struct {
	action, subject, blueprint, session, reason string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recordingAudit) LogAction(action, subject, blueprint, session, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{action, subject, blueprint, session, reason})
}

func (r *recordingAudit) byAction(action string) []auditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auditEntry
	for _, e := range r.entries {
		if e.action == action {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	orch    *Orchestrator
	eng     *fakeEngine
	vols    *fakeVolumes
	gate    *fakeApprovals
	trail   *recordingAudit
	clock   *fake.Clock
	tr      *fakeTrust
	secrets *fakeSecrets
}

func newHarness(t *testing.T, bps map[string]blueprint.Blueprint, limits QuotaLimits) *harness {
	t.Helper()
	h := &harness{
		eng:     newFakeEngine(),
		vols:    &fakeVolumes{},
		gate:    &fakeApprovals{},
		trail:   &recordingAudit{},
		clock:   fake.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		tr:      &fakeTrust{},
		secrets: &fakeSecrets{values: map[string]string{"API_KEY": "s3cret"}},
	}
	h.orch = New(Options{
		Blueprints: &fakeBlueprints{bps: bps},
		Secrets:    h.secrets,
		Engine:     h.eng,
		Networks:   netiso.NewResolver(fakeNetworkEnsurer{}),
		Trust:      h.tr,
		Volumes:    h.vols,
		Audit:      h.trail,
		Clock:      h.clock,
		Quota:      limits,
	})
	h.orch.BindApprovalGate(h.gate)
	return h
}

func testBlueprints() map[string]blueprint.Blueprint {
	return map[string]blueprint.Blueprint{
		"python-dev": {
			ID:    "python-dev",
			Image: "python:3.12-slim",
			Resources: blueprint.ResourceLimits{
				CPUCores:       1,
				MemoryBytes:    512 << 20,
				TimeoutSeconds: 3600,
			},
			Network: blueprint.NetworkInternal,
		},
		"scraper": {
			ID:      "scraper",
			Image:   "python:3.12-slim",
			Network: blueprint.NetworkFull,
		},
		"locked": {
			ID:              "locked",
			Image:           "alpine:3.20",
			Network:         blueprint.NetworkNone,
			AllowedCommands: []string{"ls", "cat"},
		},
	}
}

func TestStartContainer_Pipeline(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})

	inst, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("StartContainer() error = %v", err)
	}
	if inst.BlueprintID != "python-dev" || inst.Volume == "" {
		t.Fatalf("instance = %+v", inst)
	}
	if inst.TTLSeconds != 3600 {
		t.Fatalf("TTLSeconds = %d, want 3600", inst.TTLSeconds)
	}
	if got := h.orch.armedTimers(); got != 1 {
		t.Fatalf("armed timers = %d, want 1", got)
	}

	cfg := h.eng.created[0]
	if cfg.Labels[engine.LabelManaged] != engine.ManagedValue {
		t.Fatal("missing managed label")
	}
	if cfg.Labels[engine.LabelBlueprint] != "python-dev" {
		t.Fatalf("blueprint label = %q", cfg.Labels[engine.LabelBlueprint])
	}
	wantExpiry := strconv.FormatInt(h.clock.Now().Add(time.Hour).Unix(), 10)
	if cfg.Labels[engine.LabelExpiresAt] != wantExpiry {
		t.Fatalf("expires label = %q, want %q", cfg.Labels[engine.LabelExpiresAt], wantExpiry)
	}
	if cfg.Labels[engine.LabelSession] != "sess-1" {
		t.Fatalf("session label = %q", cfg.Labels[engine.LabelSession])
	}
	if cfg.NetworkMode != netiso.InternalNetworkName {
		t.Fatalf("network mode = %q", cfg.NetworkMode)
	}
	// Secrets arrive as environment.
	found := false
	for _, e := range cfg.Env {
		if e == "API_KEY=s3cret" {
			found = true
		}
	}
	if !found {
		t.Fatal("secret not injected into env")
	}

	if got := h.trail.byAction(audit.ActionContainerStarted); len(got) != 1 {
		t.Fatalf("started audit events = %d, want 1", len(got))
	}
}

func TestStartContainer_UnknownBlueprint(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	_, err := h.orch.StartContainer(context.Background(), "nope", Overrides{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if len(h.eng.created) != 0 || len(h.vols.ensured) != 0 {
		t.Fatal("no state may be created for an unknown blueprint")
	}
}

func TestStartContainer_FullNetworkRequiresApproval(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})

	_, err := h.orch.StartContainer(context.Background(), "scraper", Overrides{SessionID: "sess-1"})
	approvalErr, ok := AsApprovalRequired(err)
	if !ok {
		t.Fatalf("error = %v, want ApprovalRequiredError", err)
	}
	if approvalErr.ApprovalID == "" {
		t.Fatal("approval id must be non-empty")
	}
	if len(h.eng.created) != 0 || len(h.vols.ensured) != 0 {
		t.Fatal("no container or volume may exist while approval is pending")
	}
	if len(h.gate.requests) != 1 || h.gate.requests[0].BlueprintID != "scraper" {
		t.Fatalf("gate requests = %+v", h.gate.requests)
	}

	// The approved resume path skips the gate.
	if _, err := h.orch.StartApproved(context.Background(), "scraper", Overrides{}); err != nil {
		t.Fatalf("StartApproved() error = %v", err)
	}
	if len(h.gate.requests) != 1 {
		t.Fatal("approved start must not file another approval")
	}
}

func TestStartContainer_QuotaExceeded(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{MaxContainers: 1})

	if _, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{}); err != nil {
		t.Fatalf("first deploy error = %v", err)
	}
	_, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("error = %v, want ErrQuotaExceeded", err)
	}
	// Quota is checked before image and volume work.
	if len(h.vols.ensured) != 1 {
		t.Fatalf("ensured volumes = %v, want exactly the first deploy's", h.vols.ensured)
	}
}

func TestQuotaUsage_DerivedFromRegistry(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{MaxMemoryBytes: 4 << 30, MaxCPUCores: 8})

	inst, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{})
	if err != nil {
		t.Fatalf("deploy error = %v", err)
	}
	_, usage := h.orch.Quota()
	if usage.Containers != 1 || usage.MemoryBytes != 512<<20 || usage.CPUCores != 1 {
		t.Fatalf("usage = %+v", usage)
	}

	if _, err := h.orch.StopContainer(context.Background(), inst.ID); err != nil {
		t.Fatalf("stop error = %v", err)
	}
	_, usage = h.orch.Quota()
	if usage.Containers != 0 || usage.MemoryBytes != 0 || usage.CPUCores != 0 {
		t.Fatalf("usage after stop = %+v, want zero", usage)
	}
}

func TestStopContainer_Idempotent(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	inst, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{})
	if err != nil {
		t.Fatalf("deploy error = %v", err)
	}

	found, err := h.orch.StopContainer(context.Background(), inst.ID)
	if err != nil || !found {
		t.Fatalf("first stop = %v, %v", found, err)
	}
	found, err = h.orch.StopContainer(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("second stop error = %v, must never error", err)
	}
	if found {
		t.Fatal("second stop must report not found")
	}
	if got := h.orch.armedTimers(); got != 0 {
		t.Fatalf("armed timers after stop = %d, want 0", got)
	}
}

func TestStartContainer_TrustBlockedBeforeAnyState(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	h.tr.err = fmt.Errorf("digest mismatch: %w", trust.ErrDigestMismatch)

	_, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{})
	if !errors.Is(err, trust.ErrDigestMismatch) {
		t.Fatalf("error = %v, want digest mismatch", err)
	}
	if len(h.eng.created) != 0 || len(h.vols.ensured) != 0 {
		t.Fatal("no container or volume may exist after a trust block")
	}
	if len(h.orch.ListContainers(context.Background())) != 0 {
		t.Fatal("registry must stay empty")
	}
	if got := h.trail.byAction(audit.ActionTrustBlocked); len(got) != 1 {
		t.Fatalf("trust audit events = %d, want 1", len(got))
	}
}

func TestStartContainer_CreateFailureRollsBackVolume(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	h.eng.createErr = errors.New("daemon exploded")

	_, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{})
	if err == nil {
		t.Fatal("expected create failure")
	}
	if len(h.vols.removed) != 1 {
		t.Fatalf("removed volumes = %v, want the freshly provisioned one", h.vols.removed)
	}
}

func TestStartContainer_ReusedVolumeNotRolledBack(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	h.vols.latest = "warden-python-dev-old"
	h.eng.createErr = errors.New("daemon exploded")

	_, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{ReuseVolume: true})
	if err == nil {
		t.Fatal("expected create failure")
	}
	if len(h.vols.removed) != 0 {
		t.Fatalf("removed volumes = %v, reused volume must survive rollback", h.vols.removed)
	}
}

func TestExecCommand(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	inst, err := h.orch.StartContainer(context.Background(), "locked", Overrides{})
	if err != nil {
		t.Fatalf("deploy error = %v", err)
	}

	h.eng.execResult = engine.ExecResult{ExitCode: 0, Output: "ok"}
	res, err := h.orch.ExecCommand(context.Background(), inst.ID, []string{"ls", "-la"}, time.Second)
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("exec = %+v, %v", res, err)
	}

	// Allowlist rejects anything else.
	_, err = h.orch.ExecCommand(context.Background(), inst.ID, []string{"rm", "-rf", "/"}, time.Second)
	if !errors.Is(err, ErrCommandNotAllowed) {
		t.Fatalf("error = %v, want ErrCommandNotAllowed", err)
	}

	// A stopped container yields a synthetic 126, not an error.
	h.eng.mu.Lock()
	h.eng.running[inst.ID] = false
	h.eng.mu.Unlock()
	res, err = h.orch.ExecCommand(context.Background(), inst.ID, []string{"ls"}, time.Second)
	if err != nil {
		t.Fatalf("exec on stopped container error = %v", err)
	}
	if res.ExitCode != 126 {
		t.Fatalf("exit code = %d, want 126", res.ExitCode)
	}

	_, err = h.orch.ExecCommand(context.Background(), "ghost", []string{"ls"}, time.Second)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestGetStats_UpdatesEfficiency(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	inst, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{})
	if err != nil {
		t.Fatalf("deploy error = %v", err)
	}

	h.clock.Advance(700 * time.Second)
	h.eng.statsSample = engine.StatsSample{CPUPercent: 0.5, MemoryUsage: 100, MemoryLimit: 1000}

	got, err := h.orch.GetStats(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	// uptime 700s, cpu 0.5%: both idle penalties apply.
	if got.Efficiency != 0.5 {
		t.Fatalf("efficiency = %v, want 0.5", got.Efficiency)
	}
	if got.Tier != TierYellow {
		t.Fatalf("tier = %q, want yellow", got.Tier)
	}

	// Daemon hiccup: last counters survive, no error raised.
	h.eng.statsErr = errors.New("daemon busy")
	got, err = h.orch.GetStats(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("GetStats() with daemon error = %v, want soft failure", err)
	}
	if got.CPUPercent != 0.5 {
		t.Fatalf("CPUPercent = %v, want last known 0.5", got.CPUPercent)
	}
}

func TestEfficiencyScore(t *testing.T) {
	cases := []struct {
		name    string
		uptime  time.Duration
		cpu     float64
		mem     float64
		want    float64
		tier    Tier
	}{
		{"busy", 100 * time.Second, 50, 10, 1.0, TierGreen},
		{"idle5min", 400 * time.Second, 0.5, 10, 0.7, TierGreen},
		{"idle10min", 700 * time.Second, 0.5, 10, 0.5, TierYellow},
		{"lowish10min", 700 * time.Second, 3, 10, 0.8, TierGreen},
		{"memPressureIdle", 100 * time.Second, 1.5, 90, 0.8, TierGreen},
		{"worstCase", 700 * time.Second, 0.5, 90, 0.3, TierRed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := efficiencyScore(tc.uptime, tc.cpu, tc.mem)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("efficiencyScore() = %v, want %v", got, tc.want)
			}
			if tier := scoreTier(got); tier != tc.tier {
				t.Fatalf("tier = %q, want %q", tier, tc.tier)
			}
		})
	}
}

func TestGetLogs_SoftFailure(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	inst, err := h.orch.StartContainer(context.Background(), "python-dev", Overrides{})
	if err != nil {
		t.Fatalf("deploy error = %v", err)
	}

	h.eng.logsErr = errors.New("daemon busy")
	out, err := h.orch.GetLogs(context.Background(), inst.ID, 50)
	if err != nil {
		t.Fatalf("GetLogs() error = %v, want soft failure", err)
	}
	if out == "" {
		t.Fatal("soft failure payload must explain itself")
	}
}

func TestCleanupAll_BySession(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	a, _ := h.orch.StartContainer(context.Background(), "python-dev", Overrides{SessionID: "s1"})
	b, _ := h.orch.StartContainer(context.Background(), "python-dev", Overrides{SessionID: "s2"})

	if stopped := h.orch.CleanupAll(context.Background(), "s1"); stopped != 1 {
		t.Fatalf("stopped = %d, want 1", stopped)
	}
	if _, err := h.orch.Get(a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("session s1 container must be gone")
	}
	if _, err := h.orch.Get(b.ID); err != nil {
		t.Fatal("session s2 container must survive")
	}
}

func recoveryEntry(id, bpID string, started, expires time.Time, ttl int) engine.ListEntry {
	return engine.ListEntry{
		ID:      id,
		Name:    "warden-" + bpID,
		Image:   "python:3.12-slim",
		State:   "running",
		Running: true,
		Labels: map[string]string{
			engine.LabelManaged:    engine.ManagedValue,
			engine.LabelBlueprint:  bpID,
			engine.LabelVolume:     "warden-" + bpID + "-1",
			engine.LabelStartedAt:  strconv.FormatInt(started.Unix(), 10),
			engine.LabelTTLSeconds: strconv.Itoa(ttl),
			engine.LabelExpiresAt:  strconv.FormatInt(expires.Unix(), 10),
			engine.LabelSession:    "sess-9",
		},
	}
}

func TestRecoverRuntimeState(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	now := h.clock.Now()

	h.eng.listEntries = []engine.ListEntry{
		// Still has half an hour left.
		recoveryEntry("alive", "python-dev", now.Add(-30*time.Minute), now.Add(30*time.Minute), 3600),
		// Expired ten minutes ago.
		recoveryEntry("expired", "python-dev", now.Add(-70*time.Minute), now.Add(-10*time.Minute), 3600),
		// No TTL at all.
		recoveryEntry("forever", "ubuntu-shell", now.Add(-time.Hour), time.Time{}, 0),
		// Helper containers are never recovered.
		{ID: "helper", Running: true, Labels: map[string]string{
			engine.LabelManaged: engine.ManagedValue,
			engine.LabelHelper:  "snapshot",
		}},
	}

	report, err := h.orch.RecoverRuntimeState(context.Background())
	if err != nil {
		t.Fatalf("RecoverRuntimeState() error = %v", err)
	}
	if report.Recovered != 2 || report.Expired != 1 {
		t.Fatalf("report = %+v, want 2 recovered 1 expired", report)
	}

	inst, err := h.orch.Get("alive")
	if err != nil {
		t.Fatalf("alive not registered: %v", err)
	}
	if inst.SessionID != "sess-9" || inst.Volume != "warden-python-dev-1" {
		t.Fatalf("recovered instance = %+v", inst)
	}
	if got := h.orch.armedTimers(); got != 1 {
		t.Fatalf("armed timers = %d, want 1 (only the alive container)", got)
	}

	// The expired container was stopped with exactly one audit event.
	if got := h.eng.stoppedIDs(); len(got) != 1 || got[0] != "expired" {
		t.Fatalf("stopped = %v, want [expired]", got)
	}
	events := h.trail.byAction(audit.ActionContainerTTLExpired)
	if len(events) != 1 {
		t.Fatalf("expiry audit events = %d, want exactly 1", len(events))
	}
	if events[0].reason != audit.ReasonTTLExpiredAtStartup || events[0].blueprint != "python-dev" {
		t.Fatalf("expiry event = %+v", events[0])
	}
	if events[0].session != "sess-9" {
		t.Fatalf("expiry event session = %q, want sess-9", events[0].session)
	}

	// Second sweep is a no-op: nothing new registered, armed or audited.
	report, err = h.orch.RecoverRuntimeState(context.Background())
	if err != nil {
		t.Fatalf("second RecoverRuntimeState() error = %v", err)
	}
	if report.Recovered != 0 || report.Expired != 0 {
		t.Fatalf("second report = %+v, want all zero", report)
	}
	if got := h.orch.armedTimers(); got != 1 {
		t.Fatalf("armed timers after second sweep = %d, want 1", got)
	}
	if events := h.trail.byAction(audit.ActionContainerTTLExpired); len(events) != 1 {
		t.Fatalf("expiry events after second sweep = %d, want still 1", len(events))
	}
}

func TestTimerRearm_LeavesOneTimer(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})
	h.orch.mu.Lock()
	h.orch.registry["x"] = &ContainerInstance{ID: "x"}
	h.orch.armTimerLocked("x", time.Hour)
	h.orch.armTimerLocked("x", time.Hour)
	h.orch.armTimerLocked("x", time.Hour)
	h.orch.mu.Unlock()

	if got := h.orch.armedTimers(); got != 1 {
		t.Fatalf("armed timers = %d, want exactly 1 after re-arming", got)
	}
}

func TestExpiredTimer_SupersededIsNoOp(t *testing.T) {
	h := newHarness(t, testBlueprints(), QuotaLimits{})

	// Fire the expiry path for a container that is no longer tracked.
	h.orch.expireTTL("ghost", audit.ReasonTTLExpired)

	if got := h.eng.stoppedIDs(); len(got) != 0 {
		t.Fatalf("stopped = %v, superseded timer must not touch the engine", got)
	}
	if events := h.trail.byAction(audit.ActionContainerTTLExpired); len(events) != 0 {
		t.Fatalf("expiry events = %d, want 0", len(events))
	}
}
