package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/eventreg-api/internal/models"
)

const registrationColumns = `id, student_name, college, email, event, amount, registration_date, is_approved, is_rejected, reviewed_by, reviewed_at, confirmation_status, confirmation_attempts, confirmation_sent_at, confirmation_error, updated_at`

// RegistrationRepository persists registrations and their review state.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository creates a new instance of RegistrationRepository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Create inserts a pending registration.
func (r *RegistrationRepository) Create(ctx context.Context, reg *models.Registration) error {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if reg.RegistrationDate.IsZero() {
		reg.RegistrationDate = now
	}
	if reg.ConfirmationStatus == "" {
		reg.ConfirmationStatus = models.ConfirmationNotSent
	}
	reg.UpdatedAt = now

	const query = `INSERT INTO registrations (id, student_name, college, email, event, amount, registration_date, is_approved, is_rejected, confirmation_status, confirmation_attempts, updated_at) VALUES (:id, :student_name, :college, :email, :event, :amount, :registration_date, :is_approved, :is_rejected, :confirmation_status, :confirmation_attempts, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, reg); err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// FindByID returns a registration or sql.ErrNoRows.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1 LIMIT 1`
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, id); err != nil {
		if isNotFound(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find registration by id: %w", err)
	}
	return &reg, nil
}

// List returns every registration, newest first.
func (r *RegistrationRepository) List(ctx context.Context) ([]models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations ORDER BY registration_date DESC, id DESC`
	regs := make([]models.Registration, 0)
	if err := r.db.SelectContext(ctx, &regs, query); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// MarkApproved moves a registration to approved if it is still approvable.
// It reports false when the row was not in an approvable state.
func (r *RegistrationRepository) MarkApproved(ctx context.Context, id string, allowFromRejected bool, reviewer *string, at time.Time) (bool, error) {
	const query = `UPDATE registrations SET is_approved = TRUE, is_rejected = FALSE, reviewed_by = $2, reviewed_at = $3, updated_at = $3 WHERE id = $1 AND is_approved = FALSE AND (is_rejected = FALSE OR $4)`
	res, err := r.db.ExecContext(ctx, query, id, reviewer, at, allowFromRejected)
	if err != nil {
		if isInvalidID(err) {
			return false, nil
		}
		return false, fmt.Errorf("approve registration: %w", err)
	}
	return affected(res)
}

// MarkRejected moves a pending registration to rejected.
func (r *RegistrationRepository) MarkRejected(ctx context.Context, id string, reviewer *string, at time.Time) (bool, error) {
	const query = `UPDATE registrations SET is_approved = FALSE, is_rejected = TRUE, reviewed_by = $2, reviewed_at = $3, updated_at = $3 WHERE id = $1 AND is_approved = FALSE AND is_rejected = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, reviewer, at)
	if err != nil {
		if isInvalidID(err) {
			return false, nil
		}
		return false, fmt.Errorf("reject registration: %w", err)
	}
	return affected(res)
}

// RecordConfirmation stores the outcome of a delivery attempt.
func (r *RegistrationRepository) RecordConfirmation(ctx context.Context, id string, status models.ConfirmationStatus, deliveryErr *string, at time.Time) error {
	const query = `UPDATE registrations SET confirmation_status = $2, confirmation_attempts = confirmation_attempts + 1, confirmation_sent_at = CASE WHEN $2 = 'SENT' THEN $4 ELSE confirmation_sent_at END, confirmation_error = $3, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, string(status), deliveryErr, at)
	if err != nil {
		if isInvalidID(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("record confirmation: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return sql.ErrNoRows
	}
	return nil
}

// ListFailedConfirmations returns approved registrations whose confirmation
// failed and which still have attempts left, oldest failure first.
func (r *RegistrationRepository) ListFailedConfirmations(ctx context.Context, maxAttempts, limit int) ([]models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE is_approved = TRUE AND confirmation_status = 'FAILED' AND confirmation_attempts < $1 ORDER BY updated_at ASC LIMIT $2`
	regs := make([]models.Registration, 0)
	if err := r.db.SelectContext(ctx, &regs, query, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("list failed confirmations: %w", err)
	}
	return regs, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
