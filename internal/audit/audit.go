// Package audit records security-relevant orchestration events. Logging
// an event never fails the operation that triggered it: the log call
// swallows and reports storage errors instead of returning them.
package audit

import (
	"log/slog"
	"time"
)

// Actions recorded in the trail.
const (
	ActionContainerStarted    = "container_started"
	ActionContainerStopped    = "container_stopped"
	ActionContainerTTLExpired = "container_ttl_expired"
	ActionApprovalRequested   = "approval_requested"
	ActionApprovalGranted     = "approval_granted"
	ActionApprovalRejected    = "approval_rejected"
	ActionApprovalExpired     = "approval_expired"
	ActionTrustBlocked        = "trust_blocked"
	ActionSnapshotCreated     = "snapshot_created"
	ActionSnapshotRestored    = "snapshot_restored"
	ActionVolumeRemoved       = "volume_removed"
)

// Reasons attached to TTL expiry entries.
const (
	ReasonTTLExpired          = "ttl_expired"
	ReasonTTLExpiredAtStartup = "ttl_expired_at_startup"
)

// Entry is one audit record. Session identifies the owning session when
// the event is tied to one; lifecycle events must carry it so a trail
// query can reconstruct what a session did.
type Entry struct {
	At        time.Time
	Action    string
	Subject   string
	Blueprint string
	Session   string
	Reason    string
}

// Logger records audit entries. Implementations must be fire-and-forget.
type Logger interface {
	LogAction(action, subject, blueprint, session, reason string)
}

// SlogLogger writes audit entries to the process log only. It backs
// deployments that run without a persistent trail.
type SlogLogger struct{}

func (SlogLogger) LogAction(action, subject, blueprint, session, reason string) {
	slog.Info("Audit event.",
		"action", action, "subject", subject, "blueprint", blueprint, "session", session, "reason", reason)
}

// Nop discards audit entries. For tests.
type Nop struct{}

func (Nop) LogAction(string, string, string, string, string) {}
