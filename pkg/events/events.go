package events

import (
	"context"
	"time"
)

// Workflow event types. They double as routing keys.
const (
	TypeRegistrationSubmitted = "registration.submitted"
	TypePaymentAttached       = "payment.attached"
	TypeRegistrationApproved  = "registration.approved"
	TypeRegistrationRejected  = "registration.rejected"
	TypeConfirmationSent      = "confirmation.sent"
	TypeConfirmationFailed    = "confirmation.failed"
)

// Event is a workflow notification published for downstream consumers.
type Event struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	RegistrationID string                 `json:"registrationId"`
	ActorID        string                 `json:"actorId,omitempty"`
	OccurredAt     time.Time              `json:"occurredAt"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// Publisher emits workflow events. Publishing is best effort; callers log
// failures rather than failing the request.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
