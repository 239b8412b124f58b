// Package audit records structured security events for the identity
// lifecycle: registrations, authentication attempts, and every step of a
// guardian recovery.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auth3labs/auth3guard/identity"
)

// Event is one security event record.
type Event struct {
	ID        string        `gorm:"primaryKey" json:"id"`
	Type      string        `gorm:"index" json:"type"`
	ActorID   string        `gorm:"index" json:"actor_id"`   // who performed the action
	SubjectID string        `gorm:"index" json:"subject_id"` // the affected principal
	Status    string        `json:"status"`                  // "success", "failure", "blocked"
	Message   string        `json:"message"`
	Metadata  identity.JSON `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
}

func (Event) TableName() string { return "audit_events" }

// Store persists and queries audit events.
type Store interface {
	SaveEvent(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter narrows an audit query. Zero fields match everything.
type Filter struct {
	ActorID   string
	SubjectID string
	Types     []string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Event types.
const (
	EventRegisterSuccess = "identity.register.success"
	EventRegisterFailure = "identity.register.failure"

	EventLoginSuccess = "auth.login.success"
	EventLoginFailure = "auth.login.failure"
	EventLoginBlocked = "auth.login.blocked"
	EventLogout       = "auth.logout"

	EventRecoveryOpened    = "recovery.opened"
	EventRecoverySigned    = "recovery.signature.accepted"
	EventRecoveryRejected  = "recovery.signature.rejected"
	EventRecoveryCommitted = "recovery.committed"
	EventRecoveryCancelled = "recovery.cancelled"
	EventRecoveryExpired   = "recovery.expired"

	EventGuardiansUpdated = "identity.guardians.updated"

	EventTransactionScreened = "transaction.screened"
	EventTransactionBlocked  = "transaction.blocked"
)

// EventBuilder provides a fluent API for creating audit events.
type EventBuilder struct {
	event *Event
}

// NewEvent starts building a new audit event.
func NewEvent(eventType string) *EventBuilder {
	return &EventBuilder{event: &Event{Type: eventType, CreatedAt: time.Now()}}
}

func (b *EventBuilder) Actor(actorID string) *EventBuilder {
	b.event.ActorID = actorID
	return b
}

func (b *EventBuilder) Subject(subjectID string) *EventBuilder {
	b.event.SubjectID = subjectID
	return b
}

func (b *EventBuilder) Success() *EventBuilder {
	b.event.Status = "success"
	return b
}

func (b *EventBuilder) Failure() *EventBuilder {
	b.event.Status = "failure"
	return b
}

func (b *EventBuilder) Blocked() *EventBuilder {
	b.event.Status = "blocked"
	return b
}

func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

func (b *EventBuilder) Metadata(meta identity.JSON) *EventBuilder {
	b.event.Metadata = meta
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() *Event {
	return b.event
}

// Save persists the event using the provided store. A nil store is a no-op,
// so callers can leave auditing unconfigured.
func (b *EventBuilder) Save(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	if b.event.ID == "" {
		b.event.ID = uuid.New().String()
	}
	return store.SaveEvent(ctx, b.event)
}
