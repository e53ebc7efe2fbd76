// Package approval is the human-in-the-loop gate for elevated network
// access. Pending approvals live purely in memory: they are
// session-scoped and short-lived, so a process restart discards them and
// the deploys that wait on them simply re-request.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/audit"
	"warden/internal/blueprint"
	"warden/internal/orchestrator"
)

// Status is an approval's lifecycle state. Everything but pending is
// terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Approval is one gated deploy awaiting (or past) human resolution.
type Approval struct {
	ID          string
	BlueprintID string
	Reason      string
	NetworkMode blueprint.NetworkMode
	Overrides   orchestrator.Overrides

	SessionID      string
	ConversationID string

	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt time.Time
	ResolvedBy string
	// Note carries the reject reason, or the start failure when an
	// approved deploy could not actually launch.
	Note string
}

// Clock abstracts time.Now() for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Starter is the orchestrator's approved-resume path.
type Starter interface {
	StartApproved(ctx context.Context, blueprintID string, ov orchestrator.Overrides) (*orchestrator.ContainerInstance, error)
}

// Manager owns the approval table. It implements
// orchestrator.ApprovalGate; the orchestrator in turn implements
// Starter, so the two are constructed independently and bound after.
type Manager struct {
	ttl   time.Duration
	clock Clock
	audit audit.Logger

	mu      sync.Mutex
	entries map[string]*Approval
	starter Starter
}

func NewManager(ttl time.Duration, clock Clock, auditLog audit.Logger) *Manager {
	if clock == nil {
		clock = realClock{}
	}
	if auditLog == nil {
		auditLog = audit.SlogLogger{}
	}
	return &Manager{
		ttl:     ttl,
		clock:   clock,
		audit:   auditLog,
		entries: make(map[string]*Approval),
	}
}

// Bind wires in the orchestrator's start path.
func (m *Manager) Bind(starter Starter) {
	m.starter = starter
}

// RequestApproval files a pending entry and returns its id.
func (m *Manager) RequestApproval(_ context.Context, req orchestrator.ApprovalRequest) (string, error) {
	now := m.clock.Now()
	entry := &Approval{
		ID:             newApprovalID(),
		BlueprintID:    req.BlueprintID,
		Reason:         req.Reason,
		NetworkMode:    req.NetworkMode,
		Overrides:      req.Overrides,
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
	}

	m.mu.Lock()
	m.entries[entry.ID] = entry
	m.mu.Unlock()

	m.audit.LogAction(audit.ActionApprovalRequested, entry.ID, req.BlueprintID, req.SessionID, req.Reason)
	slog.Info("Approval requested.",
		"approval", entry.ID, "blueprint", req.BlueprintID, "network", string(req.NetworkMode))
	return entry.ID, nil
}

// Approve resolves a pending entry and resumes the parked deploy. An
// unknown, already-resolved or expired id is refused with NotFound; if
// the delayed start itself fails, the entry flips to rejected carrying
// the failure so it is never left pending.
func (m *Manager) Approve(ctx context.Context, id, actor string) (*orchestrator.ContainerInstance, error) {
	m.mu.Lock()
	entry, err := m.takePendingLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	entry.Status = StatusApproved
	entry.ResolvedAt = m.clock.Now()
	entry.ResolvedBy = actor
	blueprintID := entry.BlueprintID
	sessionID := entry.SessionID
	overrides := entry.Overrides
	m.mu.Unlock()

	inst, startErr := m.starter.StartApproved(ctx, blueprintID, overrides)
	if startErr != nil {
		m.mu.Lock()
		entry.Status = StatusRejected
		entry.Note = startErr.Error()
		m.mu.Unlock()
		m.audit.LogAction(audit.ActionApprovalRejected, id, blueprintID, sessionID, "approved start failed: "+startErr.Error())
		return nil, fmt.Errorf("start approved deploy %s: %w", id, startErr)
	}

	m.audit.LogAction(audit.ActionApprovalGranted, id, blueprintID, sessionID, "approved by "+actor)
	slog.Info("Approval granted.", "approval", id, "blueprint", blueprintID, "actor", actor)
	return inst, nil
}

// Reject resolves a pending entry without touching any container.
func (m *Manager) Reject(id, actor, reason string) error {
	m.mu.Lock()
	entry, err := m.takePendingLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	entry.Status = StatusRejected
	entry.ResolvedAt = m.clock.Now()
	entry.ResolvedBy = actor
	entry.Note = reason
	blueprintID := entry.BlueprintID
	sessionID := entry.SessionID
	m.mu.Unlock()

	m.audit.LogAction(audit.ActionApprovalRejected, id, blueprintID, sessionID, reason)
	slog.Info("Approval rejected.", "approval", id, "blueprint", blueprintID, "actor", actor)
	return nil
}

// GetPending sweeps expired entries first, so callers never see a stale
// pending item.
func (m *Manager) GetPending() []Approval {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	var out []Approval
	for _, entry := range m.entries {
		if entry.Status == StatusPending {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// History returns entries of any status, newest first, bounded by limit.
func (m *Manager) History(limit int) []Approval {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	out := make([]Approval, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// takePendingLocked returns the entry iff it is pending and unexpired.
// Touching an expired entry flips it to expired as a side effect.
// Caller holds m.mu.
func (m *Manager) takePendingLocked(id string) (*Approval, error) {
	entry, ok := m.entries[id]
	if !ok || entry.Status != StatusPending {
		return nil, fmt.Errorf("approval %s: %w", id, orchestrator.ErrNotFound)
	}
	if m.expireLocked(entry) {
		return nil, fmt.Errorf("approval %s expired: %w", id, orchestrator.ErrNotFound)
	}
	return entry, nil
}

// sweepLocked lazily expires every overdue pending entry. Caller holds
// m.mu.
func (m *Manager) sweepLocked() {
	for _, entry := range m.entries {
		if entry.Status == StatusPending {
			m.expireLocked(entry)
		}
	}
}

func (m *Manager) expireLocked(entry *Approval) bool {
	if m.clock.Now().Before(entry.ExpiresAt) {
		return false
	}
	entry.Status = StatusExpired
	entry.ResolvedAt = m.clock.Now()
	m.audit.LogAction(audit.ActionApprovalExpired, entry.ID, entry.BlueprintID, entry.SessionID, "ttl elapsed")
	return true
}

func newApprovalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
