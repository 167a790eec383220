package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/internal/dto"
	"github.com/noah-isme/eventreg-api/internal/models"
	"github.com/noah-isme/eventreg-api/internal/repository"
	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
	"github.com/noah-isme/eventreg-api/pkg/events"
	"github.com/noah-isme/eventreg-api/pkg/export"
	"github.com/noah-isme/eventreg-api/pkg/jobs"
	"github.com/noah-isme/eventreg-api/pkg/storage"
)

// Transition names used in metrics.
const (
	transitionApprove = "approve"
	transitionReject  = "reject"
)

type registrationStore interface {
	Create(ctx context.Context, reg *models.Registration) error
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	List(ctx context.Context) ([]models.Registration, error)
	MarkApproved(ctx context.Context, id string, allowFromRejected bool, reviewer *string, at time.Time) (bool, error)
	MarkRejected(ctx context.Context, id string, reviewer *string, at time.Time) (bool, error)
}

type paymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByRegistrationID(ctx context.Context, registrationID string) (*models.Payment, error)
	ListByRegistrationIDs(ctx context.Context, registrationIDs []string) (map[string]models.Payment, error)
}

type screenshotStorage interface {
	SaveStream(key string, r io.Reader) (string, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type confirmationDeliverer interface {
	Deliver(ctx context.Context, reg *models.Registration, payment *models.Payment) error
	ScheduleRetry(registrationID string) error
}

// RegistrationConfig carries workflow policy and upload limits.
type RegistrationConfig struct {
	DefaultAmount           int64
	AllowApproveAfterReject bool
	MaxFileSizeBytes        int64
	AllowedMIMEs            []string
	CacheTTL                time.Duration
}

// ScreenshotUpload carries the payment proof stream.
type ScreenshotUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// ScreenshotFile is an opened payment screenshot ready for streaming.
type ScreenshotFile struct {
	File     *os.File
	MimeType string
	Size     int64
	Filename string
}

// RegistrationDeps groups the collaborators of RegistrationService.
type RegistrationDeps struct {
	Registrations registrationStore
	Payments      paymentStore
	Storage       screenshotStorage
	Confirmations confirmationDeliverer
	Audit         auditLogger
	Cache         *CacheService
	Metrics       *MetricsService
	Publisher     events.Publisher
	Exporter      *export.CSVExporter
	Validator     *validator.Validate
	Tracer        trace.Tracer
	Logger        *zap.Logger
}

// RegistrationService implements the registration approval workflow.
type RegistrationService struct {
	registrations registrationStore
	payments      paymentStore
	storage       screenshotStorage
	confirmations confirmationDeliverer
	audit         auditLogger
	cache         *CacheService
	metrics       *MetricsService
	publisher     events.Publisher
	exporter      *export.CSVExporter
	validator     *validator.Validate
	tracer        trace.Tracer
	logger        *zap.Logger
	config        RegistrationConfig
	allowedMIMEs  map[string]struct{}
	now           func() time.Time
}

// NewRegistrationService constructs the workflow service.
func NewRegistrationService(deps RegistrationDeps, cfg RegistrationConfig) *RegistrationService {
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 5 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"image/png", "image/jpeg", "image/webp", "application/pdf"}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, m := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}

	s := &RegistrationService{
		registrations: deps.Registrations,
		payments:      deps.Payments,
		storage:       deps.Storage,
		confirmations: deps.Confirmations,
		audit:         deps.Audit,
		cache:         deps.Cache,
		metrics:       deps.Metrics,
		publisher:     deps.Publisher,
		exporter:      deps.Exporter,
		validator:     deps.Validator,
		tracer:        deps.Tracer,
		logger:        deps.Logger,
		config:        cfg,
		allowedMIMEs:  allowed,
		now:           time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.validator == nil {
		s.validator = validator.New()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("eventreg-api")
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.exporter == nil {
		s.exporter = export.NewCSVExporter()
	}
	return s
}

// Submit creates a pending registration.
func (s *RegistrationService) Submit(ctx context.Context, req dto.SubmitRegistrationRequest) (*models.Registration, error) {
	ctx, span := s.tracer.Start(ctx, "registration.submit")
	defer span.End()

	req.StudentName = strings.TrimSpace(req.StudentName)
	req.College = strings.TrimSpace(req.College)
	req.Email = strings.TrimSpace(req.Email)
	req.Event = strings.TrimSpace(req.Event)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, validationMessage(err))
	}

	reg := &models.Registration{
		StudentName: req.StudentName,
		College:     req.College,
		Email:       req.Email,
		Event:       req.Event,
		Amount:      s.config.DefaultAmount,
	}
	if err := s.registrations.Create(ctx, reg); err != nil {
		span.RecordError(err)
		return nil, appErrors.Internal(err, "failed to create registration")
	}
	span.SetAttributes(attribute.String("registration.id", reg.ID))

	s.invalidate(ctx)
	publishEvent(ctx, s.publisher, s.logger, events.TypeRegistrationSubmitted, reg.ID, nil, map[string]interface{}{"event": reg.Event})
	s.logger.Info("registration submitted", zap.String("registration_id", reg.ID), zap.String("event", reg.Event))
	return reg, nil
}

// AttachPayment stores the payment proof and links it to the registration.
func (s *RegistrationService) AttachPayment(ctx context.Context, req dto.AttachPaymentRequest, upload *ScreenshotUpload) (*models.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "registration.attach_payment")
	defer span.End()

	if upload == nil || upload.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no file uploaded")
	}
	req.RegistrationID = strings.TrimSpace(req.RegistrationID)
	req.UTRNumber = strings.TrimSpace(req.UTRNumber)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, validationMessage(err))
	}
	if upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	if upload.Size > s.config.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds maximum size of "+strconv.FormatInt(s.config.MaxFileSizeBytes, 10)+" bytes")
	}
	mimeType, err := detectMime(upload.Content)
	if err != nil {
		return nil, err
	}
	if _, ok := s.allowedMIMEs[mimeType]; !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file type "+mimeType+" is not allowed")
	}
	span.SetAttributes(attribute.String("registration.id", req.RegistrationID), attribute.String("payment.mime", mimeType))

	if _, err := s.registrations.FindByID(ctx, req.RegistrationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Internal(err, "failed to load registration")
	}
	if _, err := s.payments.FindByRegistrationID(ctx, req.RegistrationID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment already submitted for registration")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check existing payment")
	}

	key := "payments/" + req.RegistrationID + "/" + uuid.NewString() + extensionFor(mimeType)
	path, err := s.storage.SaveStream(key, upload.Content)
	if err != nil {
		span.RecordError(err)
		return nil, appErrors.Internal(err, "failed to store screenshot")
	}

	payment := &models.Payment{
		RegistrationID: req.RegistrationID,
		UTRNumber:      req.UTRNumber,
		ScreenshotPath: path,
		ScreenshotMime: mimeType,
		ScreenshotSize: upload.Size,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if delErr := s.storage.Delete(path); delErr != nil {
			s.logger.Warn("failed to remove orphaned screenshot", zap.String("path", path), zap.Error(delErr))
		}
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrConflict, "payment already submitted for registration")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		default:
			span.RecordError(err)
			return nil, appErrors.Internal(err, "failed to save payment")
		}
	}

	s.invalidate(ctx)
	publishEvent(ctx, s.publisher, s.logger, events.TypePaymentAttached, req.RegistrationID, nil, map[string]interface{}{"paymentId": payment.ID})
	s.logger.Info("payment attached", zap.String("registration_id", req.RegistrationID), zap.String("payment_id", payment.ID))
	return payment, nil
}

// Approve moves a registration to Approved and mails its confirmation. When
// the mail fails the approval is kept, a retry is queued and a
// CONFIRMATION_DELIVERY_FAILED error is returned alongside the registration.
func (s *RegistrationService) Approve(ctx context.Context, id string, actor *models.Actor) (*models.Registration, error) {
	ctx, span := s.tracer.Start(ctx, "registration.approve", trace.WithAttributes(attribute.String("registration.id", id)))
	defer span.End()

	reg, err := s.loadRegistration(ctx, transitionApprove, id)
	if err != nil {
		return nil, err
	}
	if reg.IsApproved {
		s.metrics.RecordTransition(transitionApprove, OutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "registration already approved")
	}
	if reg.IsRejected && !s.config.AllowApproveAfterReject {
		s.metrics.RecordTransition(transitionApprove, OutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "registration already rejected")
	}

	payment, err := s.payments.FindByRegistrationID(ctx, reg.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTransition(transitionApprove, OutcomeNotFound)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found for registration")
		}
		s.metrics.RecordTransition(transitionApprove, OutcomeError)
		return nil, appErrors.Internal(err, "failed to load payment")
	}

	at := s.now().UTC()
	reviewer := actorID(actor)
	changed, err := s.registrations.MarkApproved(ctx, reg.ID, s.config.AllowApproveAfterReject, reviewer, at)
	if err != nil {
		s.metrics.RecordTransition(transitionApprove, OutcomeError)
		span.RecordError(err)
		return nil, appErrors.Internal(err, "failed to approve registration")
	}
	if !changed {
		s.metrics.RecordTransition(transitionApprove, OutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "registration was modified concurrently")
	}

	wasRejected := reg.IsRejected
	reg.IsApproved, reg.IsRejected = true, false
	reg.ReviewedBy, reg.ReviewedAt = reviewer, &at
	s.metrics.RecordTransition(transitionApprove, OutcomeSuccess)
	s.afterTransition(ctx, actor, reg, models.AuditActionRegistrationApprove, events.TypeRegistrationApproved, map[string]interface{}{
		"isApproved":  true,
		"isRejected":  false,
		"wasRejected": wasRejected,
	})

	if err := s.confirmations.Deliver(ctx, reg, payment); err != nil {
		span.SetStatus(codes.Error, "confirmation delivery failed")
		reg.ConfirmationStatus = models.ConfirmationFailed
		if retryErr := s.confirmations.ScheduleRetry(reg.ID); retryErr != nil && !errors.Is(retryErr, jobs.ErrAlreadyQueued) {
			// the periodic sweep picks it up later
			s.logger.Warn("failed to queue confirmation retry", zap.String("registration_id", reg.ID), zap.Error(retryErr))
		}
		return reg, appErrors.Wrap(err, appErrors.ErrConfirmationDelivery.Code, appErrors.ErrConfirmationDelivery.Status,
			"registration approved but confirmation email failed")
	}
	reg.ConfirmationStatus = models.ConfirmationSent
	return reg, nil
}

// Reject moves a pending registration to Rejected.
func (s *RegistrationService) Reject(ctx context.Context, id string, actor *models.Actor) (*models.Registration, error) {
	ctx, span := s.tracer.Start(ctx, "registration.reject", trace.WithAttributes(attribute.String("registration.id", id)))
	defer span.End()

	reg, err := s.loadRegistration(ctx, transitionReject, id)
	if err != nil {
		return nil, err
	}
	if reg.IsApproved {
		s.metrics.RecordTransition(transitionReject, OutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "registration already approved")
	}
	if reg.IsRejected {
		s.metrics.RecordTransition(transitionReject, OutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "registration already rejected")
	}

	at := s.now().UTC()
	reviewer := actorID(actor)
	changed, err := s.registrations.MarkRejected(ctx, reg.ID, reviewer, at)
	if err != nil {
		s.metrics.RecordTransition(transitionReject, OutcomeError)
		span.RecordError(err)
		return nil, appErrors.Internal(err, "failed to reject registration")
	}
	if !changed {
		s.metrics.RecordTransition(transitionReject, OutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "registration was modified concurrently")
	}

	reg.IsApproved, reg.IsRejected = false, true
	reg.ReviewedBy, reg.ReviewedAt = reviewer, &at
	s.metrics.RecordTransition(transitionReject, OutcomeSuccess)
	s.afterTransition(ctx, actor, reg, models.AuditActionRegistrationReject, events.TypeRegistrationRejected, map[string]interface{}{
		"isApproved": false,
		"isRejected": true,
	})
	return reg, nil
}

// List returns every registration with its payment, newest first.
func (s *RegistrationService) List(ctx context.Context) ([]dto.RegistrationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "registration.list")
	defer span.End()

	var cached []dto.RegistrationResponse
	if s.cache.Get(ctx, cacheKeyRegistrationList, &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	regs, err := s.registrations.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list registrations")
	}
	ids := make([]string, 0, len(regs))
	for _, r := range regs {
		ids = append(ids, r.ID)
	}
	payments, err := s.payments.ListByRegistrationIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list payments")
	}

	result := make([]dto.RegistrationResponse, 0, len(regs))
	for _, r := range regs {
		item := models.RegistrationWithPayment{Registration: r}
		if p, ok := payments[r.ID]; ok {
			p := p
			item.Payment = &p
		}
		result = append(result, dto.NewRegistrationResponse(item))
	}

	s.cache.Set(ctx, cacheKeyRegistrationList, result, s.config.CacheTTL)
	return result, nil
}

// Screenshot opens the stored payment proof. Callers close the file.
func (s *RegistrationService) Screenshot(ctx context.Context, paymentID string) (*ScreenshotFile, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Internal(err, "failed to load payment")
	}
	file, err := s.storage.Open(payment.ScreenshotPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "screenshot not found")
		}
		return nil, appErrors.Internal(err, "failed to open screenshot")
	}
	return &ScreenshotFile{
		File:     file,
		MimeType: payment.ScreenshotMime,
		Size:     payment.ScreenshotSize,
		Filename: "payment-" + payment.ID + extensionFor(payment.ScreenshotMime),
	}, nil
}

// ExportCSV renders the registration list for spreadsheets.
func (s *RegistrationService) ExportCSV(ctx context.Context) ([]byte, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{
		Columns: []export.Column{
			{Key: "id", Title: "Registration ID"},
			{Key: "studentName", Title: "Student Name"},
			{Key: "college", Title: "College"},
			{Key: "email", Title: "Email"},
			{Key: "event", Title: "Event"},
			{Key: "amount", Title: "Amount"},
			{Key: "registrationDate", Title: "Registration Date"},
			{Key: "status", Title: "Status"},
			{Key: "utrNumber", Title: "UTR Number"},
			{Key: "confirmationStatus", Title: "Confirmation"},
		},
		Rows: make([]map[string]string, 0, len(items)),
	}
	for _, item := range items {
		row := map[string]string{
			"id":                 item.ID,
			"studentName":        item.StudentName,
			"college":            item.College,
			"email":              item.Email,
			"event":              item.Event,
			"amount":             strconv.FormatInt(item.Amount, 10),
			"registrationDate":   item.RegistrationDate.UTC().Format(time.RFC3339),
			"status":             string(item.Status),
			"confirmationStatus": string(item.ConfirmationStatus),
		}
		if item.Payment != nil {
			row["utrNumber"] = item.Payment.UTRNumber
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	content, err := s.exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	return content, nil
}

func (s *RegistrationService) loadRegistration(ctx context.Context, action, id string) (*models.Registration, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "registration id is required")
	}
	reg, err := s.registrations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTransition(action, OutcomeNotFound)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		s.metrics.RecordTransition(action, OutcomeError)
		return nil, appErrors.Internal(err, "failed to load registration")
	}
	return reg, nil
}

func (s *RegistrationService) afterTransition(ctx context.Context, actor *models.Actor, reg *models.Registration, auditAction, eventType string, values map[string]interface{}) {
	recordAudit(ctx, s.audit, s.logger, actor, auditAction, models.AuditResourceRegistration, reg.ID, values)
	s.invalidate(ctx)
	publishEvent(ctx, s.publisher, s.logger, eventType, reg.ID, reg.ReviewedBy, values)
	s.logger.Info("registration transitioned",
		zap.String("registration_id", reg.ID),
		zap.String("status", string(reg.State())),
		zap.String("action", auditAction),
	)
}

func (s *RegistrationService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, cachePatternRegistration); err != nil {
		s.logger.Warn("failed to invalidate registration cache", zap.Error(err))
	}
}

func detectMime(content io.ReadSeeker) (string, error) {
	header := make([]byte, 512)
	n, err := content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	mimeType := http.DetectContentType(header[:n])
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType)), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return appErrors.ErrValidation.Message
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields = append(fields, lowerFirst(fe.Field())+" is required")
		case "email":
			fields = append(fields, lowerFirst(fe.Field())+" must be a valid email")
		default:
			fields = append(fields, lowerFirst(fe.Field())+" is invalid")
		}
	}
	return strings.Join(fields, ", ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	if s == "UTRNumber" {
		return "utrNumber"
	}
	if s == "RegistrationID" {
		return "registrationId"
	}
	return strings.ToLower(s[:1]) + s[1:]
}
