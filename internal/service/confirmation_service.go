package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/internal/dto"
	"github.com/noah-isme/eventreg-api/internal/models"
	"github.com/noah-isme/eventreg-api/pkg/confirmation"
	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
	"github.com/noah-isme/eventreg-api/pkg/events"
	"github.com/noah-isme/eventreg-api/pkg/jobs"
	"github.com/noah-isme/eventreg-api/pkg/mailer"
)

const (
	confirmationQueueName = "confirmation-retry"
	confirmationJobType   = "confirmation.redeliver"
)

type confirmationStore interface {
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	RecordConfirmation(ctx context.Context, id string, status models.ConfirmationStatus, deliveryErr *string, at time.Time) error
	ListFailedConfirmations(ctx context.Context, maxAttempts, limit int) ([]models.Registration, error)
}

type paymentFinder interface {
	FindByRegistrationID(ctx context.Context, registrationID string) (*models.Payment, error)
}

type documentRenderer interface {
	Render(details confirmation.Details) (*confirmation.Document, error)
}

type codeVerifier interface {
	Verify(code string) (*confirmation.Claims, error)
}

// ConfirmationConfig tunes delivery and redelivery of confirmation emails.
type ConfirmationConfig struct {
	MailTimeout  time.Duration
	MaxAttempts  int
	RetryWorkers int
	RetryDelay   time.Duration
	SweepBatch   int
}

// ConfirmationService renders confirmation documents, mails them and keeps
// the delivery bookkeeping on the registration.
type ConfirmationService struct {
	registrations confirmationStore
	payments      paymentFinder
	renderer      documentRenderer
	verifier      codeVerifier
	sender        mailer.Sender
	audit         auditLogger
	cache         *CacheService
	metrics       *MetricsService
	publisher     events.Publisher
	tracer        trace.Tracer
	logger        *zap.Logger
	config        ConfirmationConfig
	queue         *jobs.Queue
	now           func() time.Time
}

// ConfirmationDeps groups the collaborators of ConfirmationService.
type ConfirmationDeps struct {
	Registrations confirmationStore
	Payments      paymentFinder
	Renderer      documentRenderer
	Verifier      codeVerifier
	Sender        mailer.Sender
	Audit         auditLogger
	Cache         *CacheService
	Metrics       *MetricsService
	Publisher     events.Publisher
	Tracer        trace.Tracer
	Logger        *zap.Logger
}

// NewConfirmationService wires the delivery pipeline and its retry queue.
func NewConfirmationService(deps ConfirmationDeps, cfg ConfirmationConfig) *ConfirmationService {
	if cfg.MailTimeout <= 0 {
		cfg.MailTimeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryWorkers <= 0 {
		cfg.RetryWorkers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("eventreg-api")
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	s := &ConfirmationService{
		registrations: deps.Registrations,
		payments:      deps.Payments,
		renderer:      deps.Renderer,
		verifier:      deps.Verifier,
		sender:        deps.Sender,
		audit:         deps.Audit,
		cache:         deps.Cache,
		metrics:       deps.Metrics,
		publisher:     publisher,
		tracer:        tracer,
		logger:        logger,
		config:        cfg,
		now:           time.Now,
	}
	s.queue = jobs.NewQueue(confirmationQueueName, s.handleRetry, jobs.QueueConfig{
		Workers:       cfg.RetryWorkers,
		MaxRetries:    cfg.MaxAttempts,
		RetryDelay:    cfg.RetryDelay,
		MaxRetryDelay: 30 * time.Minute,
		OnGiveUp:      s.onGiveUp,
		Logger:        logger.Named(confirmationQueueName),
	})
	return s
}

// Start launches the retry workers.
func (s *ConfirmationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the retry workers.
func (s *ConfirmationService) Stop() {
	s.queue.Stop()
}

// PendingRetries reports how many redeliveries are queued.
func (s *ConfirmationService) PendingRetries() int {
	return s.queue.Pending()
}

// Deliver renders the confirmation for an approved registration, mails it
// and records the outcome. The returned error is the delivery failure.
func (s *ConfirmationService) Deliver(ctx context.Context, reg *models.Registration, payment *models.Payment) error {
	ctx, span := s.tracer.Start(ctx, "confirmation.deliver", trace.WithAttributes(
		attribute.String("registration.id", reg.ID),
		attribute.String("mail.provider", s.sender.Name()),
	))
	defer span.End()

	start := time.Now()
	err := s.send(ctx, reg, payment)
	s.metrics.RecordDelivery(s.sender.Name(), err == nil, time.Since(start))

	at := s.now().UTC()
	status := models.ConfirmationSent
	var deliveryErr *string
	if err != nil {
		status = models.ConfirmationFailed
		msg := err.Error()
		deliveryErr = &msg
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
	}

	// bookkeeping must survive a cancelled request context
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if recErr := s.registrations.RecordConfirmation(recordCtx, reg.ID, status, deliveryErr, at); recErr != nil {
		s.logger.Error("failed to record confirmation status", zap.String("registration_id", reg.ID), zap.String("status", string(status)), zap.Error(recErr))
	} else {
		// mirror the row so callers return what was stored
		reg.ConfirmationStatus = status
		reg.ConfirmationAttempts++
		reg.ConfirmationError = deliveryErr
		if status == models.ConfirmationSent {
			reg.ConfirmationSentAt = &at
		}
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(recordCtx, cachePatternRegistration)
	}

	if err != nil {
		s.logger.Warn("confirmation delivery failed", zap.String("registration_id", reg.ID), zap.String("provider", s.sender.Name()), zap.Error(err))
		publishEvent(recordCtx, s.publisher, s.logger, events.TypeConfirmationFailed, reg.ID, nil, map[string]interface{}{"error": err.Error()})
		return err
	}

	s.logger.Info("confirmation delivered", zap.String("registration_id", reg.ID), zap.String("provider", s.sender.Name()))
	publishEvent(recordCtx, s.publisher, s.logger, events.TypeConfirmationSent, reg.ID, nil, map[string]interface{}{"email": reg.Email})
	return nil
}

func (s *ConfirmationService) send(ctx context.Context, reg *models.Registration, payment *models.Payment) error {
	doc, err := s.renderer.Render(confirmation.Details{
		RegistrationID:   reg.ID,
		StudentName:      reg.StudentName,
		College:          reg.College,
		Event:            reg.Event,
		Amount:           reg.Amount,
		UTRNumber:        payment.UTRNumber,
		RegistrationDate: reg.RegistrationDate,
	})
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.config.MailTimeout)
	defer cancel()

	msg := mailer.Message{
		To:      reg.Email,
		ToName:  reg.StudentName,
		Subject: "Registration Confirmed - " + reg.Event,
		Text: fmt.Sprintf("Hello %s,\n\nYour registration for %s has been approved. "+
			"Your confirmation is attached; please bring it to the event.\n\nRegistration ID: %s\n",
			reg.StudentName, reg.Event, reg.ID),
		HTML: fmt.Sprintf("<p>Hello %s,</p><p>Your registration for <strong>%s</strong> has been approved. "+
			"Your confirmation is attached; please bring it to the event.</p><p>Registration ID: %s</p>",
			html.EscapeString(reg.StudentName), html.EscapeString(reg.Event), reg.ID),
		Attachments: []mailer.Attachment{{
			Filename:    doc.Filename,
			ContentType: "application/pdf",
			Content:     doc.Content,
		}},
	}
	if err := s.sender.Send(sendCtx, msg); err != nil {
		return fmt.Errorf("send via %s: %w", s.sender.Name(), err)
	}
	return nil
}

// ScheduleRetry queues a redelivery. A registration already queued is not
// queued twice; that case returns jobs.ErrAlreadyQueued.
func (s *ConfirmationService) ScheduleRetry(registrationID string) error {
	err := s.queue.Enqueue(jobs.Job{
		ID:      "confirmation:" + registrationID,
		Type:    confirmationJobType,
		Payload: registrationID,
	})
	switch {
	case err == nil:
		s.metrics.RecordRetryEnqueued()
		return nil
	case errors.Is(err, jobs.ErrAlreadyQueued):
		return err
	default:
		s.logger.Warn("failed to enqueue confirmation retry", zap.String("registration_id", registrationID), zap.Error(err))
		return err
	}
}

// Sweep enqueues approved registrations whose confirmation failed and still
// have attempts left. It returns how many were newly queued.
func (s *ConfirmationService) Sweep(ctx context.Context) (int, error) {
	regs, err := s.registrations.ListFailedConfirmations(ctx, s.config.MaxAttempts, s.config.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list failed confirmations: %w", err)
	}
	queued := 0
	for _, reg := range regs {
		if err := s.ScheduleRetry(reg.ID); err != nil {
			if errors.Is(err, jobs.ErrQueueFull) {
				break
			}
			continue
		}
		queued++
	}
	if len(regs) > 0 {
		s.logger.Info("confirmation sweep finished", zap.Int("candidates", len(regs)), zap.Int("queued", queued))
	}
	return queued, nil
}

// Resend redelivers the confirmation of an approved registration on demand.
func (s *ConfirmationService) Resend(ctx context.Context, registrationID string, actor *models.Actor) error {
	reg, err := s.registrations.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return appErrors.Internal(err, "failed to load registration")
	}
	if !reg.IsApproved {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "registration is not approved")
	}
	payment, err := s.payments.FindByRegistrationID(ctx, reg.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "payment not found for registration")
		}
		return appErrors.Internal(err, "failed to load payment")
	}

	deliveryErr := s.Deliver(ctx, reg, payment)

	values := map[string]interface{}{"confirmationStatus": models.ConfirmationSent}
	if deliveryErr != nil {
		values["confirmationStatus"] = models.ConfirmationFailed
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionConfirmationResend, models.AuditResourceRegistration, reg.ID, values)

	if deliveryErr != nil {
		return appErrors.Wrap(deliveryErr, appErrors.ErrConfirmationDelivery.Code, appErrors.ErrConfirmationDelivery.Status, "confirmation email could not be sent")
	}
	return nil
}

// Verify checks a scanned confirmation code. A code is valid only when its
// signature matches and the registration is still approved.
func (s *ConfirmationService) Verify(ctx context.Context, code string) (*dto.VerifyConfirmationResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "code is required")
	}

	claims, err := s.verifier.Verify(code)
	if err != nil {
		reason := "malformed code"
		if errors.Is(err, confirmation.ErrBadSignature) {
			reason = "signature mismatch"
		}
		return &dto.VerifyConfirmationResponse{Valid: false, Reason: reason}, nil
	}

	reg, err := s.registrations.FindByID(ctx, claims.RegistrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &dto.VerifyConfirmationResponse{Valid: false, Reason: "registration not found"}, nil
		}
		return nil, appErrors.Internal(err, "failed to load registration")
	}

	item := models.RegistrationWithPayment{Registration: *reg}
	if payment, err := s.payments.FindByRegistrationID(ctx, reg.ID); err == nil {
		item.Payment = payment
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load payment")
	}
	resp := dto.NewRegistrationResponse(item)

	if !reg.IsApproved {
		return &dto.VerifyConfirmationResponse{Valid: false, Reason: "registration is not approved", Registration: &resp}, nil
	}
	return &dto.VerifyConfirmationResponse{Valid: true, Registration: &resp}, nil
}

func (s *ConfirmationService) handleRetry(ctx context.Context, job jobs.Job) error {
	registrationID, ok := job.Payload.(string)
	if !ok || registrationID == "" {
		return nil
	}
	reg, err := s.registrations.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if !reg.IsApproved || reg.ConfirmationStatus == models.ConfirmationSent {
		return nil
	}
	if reg.ConfirmationAttempts >= s.config.MaxAttempts {
		s.logger.Warn("confirmation attempts exhausted", zap.String("registration_id", reg.ID), zap.Int("attempts", reg.ConfirmationAttempts))
		return nil
	}
	payment, err := s.payments.FindByRegistrationID(ctx, reg.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	return s.Deliver(ctx, reg, payment)
}

func (s *ConfirmationService) onGiveUp(job jobs.Job, err error) {
	s.logger.Error("giving up on confirmation redelivery", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
}
