package models

import "time"

// RegistrationStatus is derived from the approval flags.
type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "PENDING"
	RegistrationApproved RegistrationStatus = "APPROVED"
	RegistrationRejected RegistrationStatus = "REJECTED"
)

// ConfirmationStatus tracks delivery of the confirmation email.
type ConfirmationStatus string

const (
	ConfirmationNotSent ConfirmationStatus = "NOT_SENT"
	ConfirmationSent    ConfirmationStatus = "SENT"
	ConfirmationFailed  ConfirmationStatus = "FAILED"
)

// Registration is a student's submission for an event.
type Registration struct {
	ID                   string             `db:"id" json:"id"`
	StudentName          string             `db:"student_name" json:"studentName"`
	College              string             `db:"college" json:"college"`
	Email                string             `db:"email" json:"email"`
	Event                string             `db:"event" json:"event"`
	Amount               int64              `db:"amount" json:"amount"`
	RegistrationDate     time.Time          `db:"registration_date" json:"registrationDate"`
	IsApproved           bool               `db:"is_approved" json:"isApproved"`
	IsRejected           bool               `db:"is_rejected" json:"isRejected"`
	ReviewedBy           *string            `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt           *time.Time         `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ConfirmationStatus   ConfirmationStatus `db:"confirmation_status" json:"confirmationStatus"`
	ConfirmationAttempts int                `db:"confirmation_attempts" json:"confirmationAttempts"`
	ConfirmationSentAt   *time.Time         `db:"confirmation_sent_at" json:"confirmationSentAt,omitempty"`
	ConfirmationError    *string            `db:"confirmation_error" json:"confirmationError,omitempty"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updatedAt"`
}

// State derives the workflow state from the approval flags.
func (r *Registration) State() RegistrationStatus {
	switch {
	case r.IsApproved:
		return RegistrationApproved
	case r.IsRejected:
		return RegistrationRejected
	default:
		return RegistrationPending
	}
}

// RegistrationWithPayment pairs a registration with its optional payment.
type RegistrationWithPayment struct {
	Registration
	Payment *Payment `json:"payment"`
}
