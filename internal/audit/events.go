// Package audit builds the immutable audit events appended for every state
// change and compares match runs line by line.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
)

// DefaultActor is recorded when a caller does not name one
const DefaultActor = "system"

// Recorder stamps events with an actor and a clock
type Recorder struct {
	Actor string
	Now   func() time.Time
}

// NewRecorder creates a recorder for actor using the wall clock
func NewRecorder(actor string) Recorder {
	if actor == "" {
		actor = DefaultActor
	}
	return Recorder{Actor: actor, Now: func() time.Time { return time.Now().UTC() }}
}

// As returns a copy of the recorder acting for actor, or the same actor when empty
func (r Recorder) As(actor string) Recorder {
	if actor != "" {
		r.Actor = actor
	}
	return r
}

// Event builds one event. Before and after are JSON encoded; nil leaves the value empty.
func (r Recorder) Event(eventType, entityType, entityID, action string, before, after interface{}) (models.AuditEvent, error) {
	oldValue, err := Encode(before)
	if err != nil {
		return models.AuditEvent{}, err
	}
	newValue, err := Encode(after)
	if err != nil {
		return models.AuditEvent{}, err
	}

	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now()
	}
	actor := r.Actor
	if actor == "" {
		actor = DefaultActor
	}

	return models.AuditEvent{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		OldValue:   oldValue,
		NewValue:   newValue,
		Actor:      actor,
		Timestamp:  now,
	}, nil
}

// Detailed is Event with a free-text detail
func (r Recorder) Detailed(eventType, entityType, entityID, action, detail string, before, after interface{}) (models.AuditEvent, error) {
	event, err := r.Event(eventType, entityType, entityID, action, before, after)
	if err != nil {
		return event, err
	}
	event.Detail = detail
	return event, nil
}

// Encode renders a value for an event field. Strings are stored as-is.
func Encode(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", errors.InternalError(errors.CodeUnexpectedError, "encode audit value", err).
			WithContext("type", fmt.Sprintf("%T", value))
	}
	return string(data), nil
}

// ExceptionState is the audited view of an exception
type ExceptionState struct {
	Status            models.ExceptionStatus  `json:"status"`
	ResolutionAction  models.ResolutionAction `json:"resolution_action,omitempty"`
	ResolvedBankTxnID string                  `json:"resolved_bank_txn_id,omitempty"`
	ResolutionNote    string                  `json:"resolution_note,omitempty"`
}

// StateOf extracts the audited fields of an exception
func StateOf(e *models.Exception) ExceptionState {
	if e == nil {
		return ExceptionState{}
	}
	return ExceptionState{
		Status:            e.Status,
		ResolutionAction:  e.ResolutionAction,
		ResolvedBankTxnID: e.ResolvedBankTxnID,
		ResolutionNote:    e.ResolutionNote,
	}
}
