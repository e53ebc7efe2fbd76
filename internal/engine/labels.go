package engine

// Durable container metadata keys. These labels are the only source of
// truth after a process restart; recovery reads them back verbatim.
const (
	LabelManaged      = "warden.managed"
	LabelBlueprint    = "warden.blueprint"
	LabelVolume       = "warden.volume"
	LabelStartedAt    = "warden.started_at"
	LabelTTLSeconds   = "warden.ttl_seconds"
	LabelExpiresAt    = "warden.expires_at"
	LabelSession      = "warden.session"
	LabelConversation = "warden.conversation"

	// LabelHelper marks short-lived helper containers (snapshot/restore)
	// so they are never picked up by recovery.
	LabelHelper = "warden.helper"

	// ManagedValue is the value stored under LabelManaged.
	ManagedValue = "true"
)
