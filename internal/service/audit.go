package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// recordAudit writes an audit entry. Failures are logged and never fail the
// operation that triggered them.
func recordAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, actor *models.Actor, action, resource, resourceID string, values interface{}) {
	if audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:   action,
		Resource: resource,
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if actor != nil {
		if actor.AdminID != "" {
			id := actor.AdminID
			entry.AdminID = &id
		}
		entry.IPAddress = actor.IP
		entry.UserAgent = actor.UserAgent
	}
	if entry.IPAddress == "" {
		entry.IPAddress = "system"
	}
	if values != nil {
		if raw, err := json.Marshal(values); err == nil {
			entry.NewValues = raw
		}
	}
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func actorID(actor *models.Actor) *string {
	if actor == nil || actor.AdminID == "" {
		return nil
	}
	id := actor.AdminID
	return &id
}
