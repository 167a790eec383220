package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionAdminLogin          = "ADMIN_LOGIN"
	AuditActionAdminCreate         = "ADMIN_CREATE"
	AuditActionRegistrationApprove = "REGISTRATION_APPROVE"
	AuditActionRegistrationReject  = "REGISTRATION_REJECT"
	AuditActionConfirmationResend  = "CONFIRMATION_RESEND"
)

// Audit resources.
const (
	AuditResourceAdmin        = "admin"
	AuditResourceRegistration = "registration"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	AdminID    *string   `db:"admin_id" json:"adminId,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resourceId,omitempty"`
	NewValues  []byte    `db:"new_values" json:"newValues,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ipAddress"`
	UserAgent  string    `db:"user_agent" json:"userAgent"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
