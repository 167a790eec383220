package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/eventreg-api/internal/models"
)

const paymentColumns = `id, registration_id, utr_number, screenshot_path, screenshot_mime, screenshot_size, payment_date`

// PaymentRepository persists payment proofs.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new instance of PaymentRepository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment. A second payment for the same registration
// returns ErrDuplicate and an unknown registration returns sql.ErrNoRows.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = time.Now().UTC()
	}

	const query = `INSERT INTO payments (id, registration_id, utr_number, screenshot_path, screenshot_mime, screenshot_size, payment_date) VALUES (:id, :registration_id, :utr_number, :screenshot_path, :screenshot_mime, :screenshot_size, :payment_date)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		switch {
		case isUniqueViolation(err):
			return ErrDuplicate
		case isForeignKeyViolation(err), isInvalidID(err):
			return sql.ErrNoRows
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// FindByID returns a payment or sql.ErrNoRows.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 LIMIT 1`
	var p models.Payment
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if isNotFound(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find payment by id: %w", err)
	}
	return &p, nil
}

// FindByRegistrationID returns the payment attached to a registration or sql.ErrNoRows.
func (r *PaymentRepository) FindByRegistrationID(ctx context.Context, registrationID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE registration_id = $1 LIMIT 1`
	var p models.Payment
	if err := r.db.GetContext(ctx, &p, query, registrationID); err != nil {
		if isNotFound(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find payment by registration: %w", err)
	}
	return &p, nil
}

// ListByRegistrationIDs batches payment lookups keyed by registration id.
func (r *PaymentRepository) ListByRegistrationIDs(ctx context.Context, registrationIDs []string) (map[string]models.Payment, error) {
	result := make(map[string]models.Payment, len(registrationIDs))
	if len(registrationIDs) == 0 {
		return result, nil
	}
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE registration_id = ANY($1)`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, pq.Array(registrationIDs)); err != nil {
		return nil, fmt.Errorf("list payments by registration: %w", err)
	}
	for _, p := range payments {
		result[p.RegistrationID] = p
	}
	return result, nil
}
