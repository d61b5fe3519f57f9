package models

import "time"

// Audit event types
const (
	EventIngest            = "ingest"
	EventMatchRun          = "match_run"
	EventExceptionResolved = "exception_resolved"
	EventExceptionDeferred = "exception_deferred"
	EventExceptionReopened = "exception_reopened"
	EventBackgroundResolve = "background_resolve"
	EventPolicyRule        = "policy_rule"
	EventSplitRule         = "split_rule"
	EventAdjustment        = "adjustment"
	EventGLPosting         = "gl_posting"
	EventExport            = "export"
)

// Audit entity types
const (
	EntityInputs     = "inputs"
	EntityRun        = "match_run"
	EntityException  = "exception"
	EntityPolicyRule = "policy_rule"
	EntitySplitRule  = "split_rule"
	EntityAdjustment = "adjustment"
	EntityJournal    = "journal"
	EntityExport     = "export"
)

// AuditEvent is an immutable record of one state-changing action
type AuditEvent struct {
	EventID    uint      `json:"event_id"`
	EventType  string    `json:"event_type"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	Actor      string    `json:"actor"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuditFilter narrows audit listings
type AuditFilter struct {
	EntityType string
	EntityID   string
	EventType  string
	Limit      int
}
