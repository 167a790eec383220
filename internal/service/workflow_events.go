package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/pkg/events"
)

// publishEvent emits a workflow event. Broker failures are logged only.
func publishEvent(ctx context.Context, publisher events.Publisher, logger *zap.Logger, eventType, registrationID string, actorID *string, data map[string]interface{}) {
	if publisher == nil {
		return
	}
	event := events.Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		RegistrationID: registrationID,
		OccurredAt:     time.Now().UTC(),
		Data:           data,
	}
	if actorID != nil {
		event.ActorID = *actorID
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish workflow event", zap.String("type", eventType), zap.String("registration_id", registrationID), zap.Error(err))
	}
}
