package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/noah-isme/eventreg-api/internal/dto"
	"github.com/noah-isme/eventreg-api/internal/models"
	"github.com/noah-isme/eventreg-api/internal/repository"
	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
	"github.com/noah-isme/eventreg-api/pkg/events"
)

type workflowFixture struct {
	regs      *fakeRegistrations
	payments  *fakePayments
	storage   *fakeStorage
	deliverer *stubDeliverer
	audit     *mockAuditLogger
	publisher *recordingPublisher
	svc       *RegistrationService
}

func newWorkflowFixture(t *testing.T, cfg RegistrationConfig, cache *CacheService) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		regs:      newFakeRegistrations(),
		payments:  newFakePayments(),
		storage:   newFakeStorage(t.TempDir()),
		deliverer: &stubDeliverer{},
		audit:     &mockAuditLogger{},
		publisher: &recordingPublisher{},
	}
	if cfg.DefaultAmount == 0 {
		cfg.DefaultAmount = 500
	}
	f.svc = NewRegistrationService(RegistrationDeps{
		Registrations: f.regs,
		Payments:      f.payments,
		Storage:       f.storage,
		Confirmations: f.deliverer,
		Audit:         f.audit,
		Cache:         cache,
		Publisher:     f.publisher,
		Logger:        zap.NewNop(),
	}, cfg)
	return f
}

func (f *workflowFixture) submitWithPayment(t *testing.T) *models.Registration {
	t.Helper()
	reg, err := f.svc.Submit(context.Background(), dto.SubmitRegistrationRequest{StudentName: "Asha", College: "X College", Email: "a@x.com", Event: "Hack2025"})
	require.NoError(t, err)
	_, err = f.svc.AttachPayment(context.Background(), dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR123"}, pngUpload())
	require.NoError(t, err)
	return reg
}

func TestSubmitCreatesPendingRegistration(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{AllowApproveAfterReject: true}, nil)

	reg, err := f.svc.Submit(context.Background(), dto.SubmitRegistrationRequest{
		StudentName: "  Asha ", College: "X College", Email: " a@x.com", Event: "Hack2025",
	})
	require.NoError(t, err)
	assert.Equal(t, "Asha", reg.StudentName)
	assert.Equal(t, "a@x.com", reg.Email)
	assert.Equal(t, int64(500), reg.Amount)
	assert.Equal(t, models.RegistrationPending, reg.State())
	assert.Contains(t, f.publisher.types(), events.TypeRegistrationSubmitted)
}

func TestSubmitValidation(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{}, nil)

	cases := map[string]dto.SubmitRegistrationRequest{
		"missing email": {StudentName: "Asha", College: "X", Event: "E"},
		"bad email":     {StudentName: "Asha", College: "X", Email: "not-an-email", Event: "E"},
		"blank name":    {StudentName: "   ", College: "X", Email: "a@x.com", Event: "E"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), req)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
	assert.Empty(t, f.regs.rows)
}

func TestAttachPaymentValidation(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{MaxFileSizeBytes: 64}, nil)
	reg, err := f.svc.Submit(context.Background(), dto.SubmitRegistrationRequest{StudentName: "Asha", College: "X", Email: "a@x.com", Event: "E"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.svc.AttachPayment(ctx, dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR1"}, nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.AttachPayment(ctx, dto.AttachPaymentRequest{RegistrationID: reg.ID}, pngUpload())
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.AttachPayment(ctx, dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR1"},
		&ScreenshotUpload{Size: 0, Content: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	big := bytes.Repeat([]byte{0}, 65)
	_, err = f.svc.AttachPayment(ctx, dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR1"},
		&ScreenshotUpload{Size: int64(len(big)), Content: bytes.NewReader(big)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")

	text := []byte("just some text, not an image")
	_, err = f.svc.AttachPayment(ctx, dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR1"},
		&ScreenshotUpload{Size: int64(len(text)), Content: bytes.NewReader(text)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text/plain")

	assert.Empty(t, f.storage.blobs)
}

func TestAttachPaymentLinksScreenshot(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{}, nil)
	reg, err := f.svc.Submit(context.Background(), dto.SubmitRegistrationRequest{StudentName: "Asha", College: "X", Email: "a@x.com", Event: "E"})
	require.NoError(t, err)

	pdf := &ScreenshotUpload{Size: int64(len(pdfHeader)), Content: bytes.NewReader(pdfHeader)}
	payment, err := f.svc.AttachPayment(context.Background(), dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: " UTR123 "}, pdf)
	require.NoError(t, err)
	assert.Equal(t, "UTR123", payment.UTRNumber)
	assert.Equal(t, "application/pdf", payment.ScreenshotMime)
	assert.True(t, strings.HasPrefix(payment.ScreenshotPath, "payments/"+reg.ID+"/"))
	assert.Equal(t, pdfHeader, f.storage.blobs[payment.ScreenshotPath])
	assert.Contains(t, f.publisher.types(), events.TypePaymentAttached)

	shot, err := f.svc.Screenshot(context.Background(), payment.ID)
	require.NoError(t, err)
	defer shot.File.Close() //nolint:errcheck
	content, err := io.ReadAll(shot.File)
	require.NoError(t, err)
	assert.Equal(t, pdfHeader, content)
	assert.Equal(t, "application/pdf", shot.MimeType)
}

func TestAttachPaymentConflictsAndMissingRegistration(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{}, nil)
	reg := f.submitWithPayment(t)

	_, err := f.svc.AttachPayment(context.Background(), dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR999"}, pngUpload())
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.AttachPayment(context.Background(), dto.AttachPaymentRequest{RegistrationID: "missing", UTRNumber: "UTR1"}, pngUpload())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestAttachPaymentRemovesBlobWhenInsertFails(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{}, nil)
	reg, err := f.svc.Submit(context.Background(), dto.SubmitRegistrationRequest{StudentName: "Asha", College: "X", Email: "a@x.com", Event: "E"})
	require.NoError(t, err)

	f.payments.createErr = repository.ErrDuplicate
	_, err = f.svc.AttachPayment(context.Background(), dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR1"}, pngUpload())
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	require.Len(t, f.storage.deleted, 1)
	assert.Empty(t, f.storage.blobs)

	f.payments.createErr = errors.New("db down")
	_, err = f.svc.AttachPayment(context.Background(), dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR1"}, pngUpload())
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Len(t, f.storage.deleted, 2)
}

func TestApproveEndToEndSendsConfirmation(t *testing.T) {
	regs := newFakeRegistrations()
	payments := newFakePayments()
	sender := &stubSender{}
	confirmations := NewConfirmationService(ConfirmationDeps{
		Registrations: regs,
		Payments:      payments,
		Renderer:      newTestRenderer(),
		Sender:        sender,
	}, ConfirmationConfig{MailTimeout: time.Second})
	audit := &mockAuditLogger{}
	svc := NewRegistrationService(RegistrationDeps{
		Registrations: regs,
		Payments:      payments,
		Storage:       newFakeStorage(t.TempDir()),
		Confirmations: confirmations,
		Audit:         audit,
	}, RegistrationConfig{DefaultAmount: 500, AllowApproveAfterReject: true})
	ctx := context.Background()

	reg, err := svc.Submit(ctx, dto.SubmitRegistrationRequest{StudentName: "Asha", College: "X College", Email: "a@x.com", Event: "Hack2025"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), reg.Amount)
	_, err = svc.AttachPayment(ctx, dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR123"}, pngUpload())
	require.NoError(t, err)

	actor := &models.Actor{AdminID: "admin-1", IP: "127.0.0.1"}
	approved, err := svc.Approve(ctx, reg.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationApproved, approved.State())
	assert.Equal(t, 1, approved.ConfirmationAttempts)
	assert.NotNil(t, approved.ConfirmationSentAt)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, "Registration Confirmed - Hack2025", msg.Subject)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.True(t, bytes.HasPrefix(msg.Attachments[0].Content, []byte("%PDF-")))

	stored := regs.get(reg.ID)
	assert.True(t, stored.IsApproved)
	assert.Equal(t, models.ConfirmationSent, stored.ConfirmationStatus)
	assert.Equal(t, 1, stored.ConfirmationAttempts)
	require.NotNil(t, stored.ReviewedBy)
	assert.Equal(t, "admin-1", *stored.ReviewedBy)

	require.NotEmpty(t, audit.entries)
	assert.Equal(t, models.AuditActionRegistrationApprove, audit.entries[0].Action)

	_, err = svc.Approve(ctx, reg.ID, actor)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Len(t, sender.sent, 1)
}

func TestApproveWithoutPaymentLeavesStateUnchanged(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{AllowApproveAfterReject: true}, nil)
	reg, err := f.svc.Submit(context.Background(), dto.SubmitRegistrationRequest{StudentName: "Asha", College: "X", Email: "a@x.com", Event: "E"})
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), reg.ID, nil)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, "payment not found for registration", appErrors.FromError(err).Message)
	stored := f.regs.get(reg.ID)
	assert.Equal(t, models.RegistrationPending, stored.State())
	assert.Empty(t, f.deliverer.delivered)
}

func TestApproveUnknownRegistration(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{}, nil)
	_, err := f.svc.Approve(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestApproveKeepsStateWhenMailFails(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{AllowApproveAfterReject: true}, nil)
	reg := f.submitWithPayment(t)
	f.deliverer.err = errMailDown

	approved, err := f.svc.Approve(context.Background(), reg.ID, &models.Actor{AdminID: "admin-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConfirmationDelivery)
	assert.Equal(t, 500, appErrors.FromError(err).Status)
	require.NotNil(t, approved)
	assert.Equal(t, models.ConfirmationFailed, approved.ConfirmationStatus)

	stored := f.regs.get(reg.ID)
	assert.True(t, stored.IsApproved)
	assert.False(t, stored.IsRejected)
	assert.Equal(t, []string{reg.ID}, f.deliverer.retries)
}

func TestApproveReportsRecordedDeliveryFailure(t *testing.T) {
	regs := newFakeRegistrations()
	payments := newFakePayments()
	sender := &stubSender{err: errMailDown}
	core, logs := observer.New(zap.WarnLevel)
	// retry queue never started so scheduling the retry fails
	confirmations := NewConfirmationService(ConfirmationDeps{
		Registrations: regs,
		Payments:      payments,
		Renderer:      newTestRenderer(),
		Sender:        sender,
	}, ConfirmationConfig{MailTimeout: time.Second})
	svc := NewRegistrationService(RegistrationDeps{
		Registrations: regs,
		Payments:      payments,
		Storage:       newFakeStorage(t.TempDir()),
		Confirmations: confirmations,
		Logger:        zap.New(core),
	}, RegistrationConfig{DefaultAmount: 500})
	ctx := context.Background()

	reg, err := svc.Submit(ctx, dto.SubmitRegistrationRequest{StudentName: "Asha", College: "X College", Email: "a@x.com", Event: "Hack2025"})
	require.NoError(t, err)
	_, err = svc.AttachPayment(ctx, dto.AttachPaymentRequest{RegistrationID: reg.ID, UTRNumber: "UTR123"}, pngUpload())
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, reg.ID, nil)
	require.ErrorIs(t, err, appErrors.ErrConfirmationDelivery)
	require.NotNil(t, approved)
	assert.Equal(t, models.ConfirmationFailed, approved.ConfirmationStatus)
	assert.Equal(t, 1, approved.ConfirmationAttempts)
	require.NotNil(t, approved.ConfirmationError)
	assert.Contains(t, *approved.ConfirmationError, "connection refused")
	assert.Equal(t, regs.get(reg.ID).ConfirmationAttempts, approved.ConfirmationAttempts)

	entries := logs.FilterMessage("failed to queue confirmation retry").All()
	require.Len(t, entries, 1)
	assert.Equal(t, reg.ID, entries[0].ContextMap()["registration_id"])
}

func TestApproveAfterRejectFollowsPolicy(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		f := newWorkflowFixture(t, RegistrationConfig{AllowApproveAfterReject: true}, nil)
		reg := f.submitWithPayment(t)
		_, err := f.svc.Reject(context.Background(), reg.ID, nil)
		require.NoError(t, err)

		approved, err := f.svc.Approve(context.Background(), reg.ID, nil)
		require.NoError(t, err)
		assert.True(t, approved.IsApproved)
		assert.False(t, approved.IsRejected)
	})

	t.Run("refused", func(t *testing.T) {
		f := newWorkflowFixture(t, RegistrationConfig{AllowApproveAfterReject: false}, nil)
		reg := f.submitWithPayment(t)
		_, err := f.svc.Reject(context.Background(), reg.ID, nil)
		require.NoError(t, err)

		_, err = f.svc.Approve(context.Background(), reg.ID, nil)
		assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
		assert.True(t, f.regs.get(reg.ID).IsRejected)
	})
}

func TestRejectRules(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{AllowApproveAfterReject: true}, nil)
	ctx := context.Background()

	pending, err := f.svc.Submit(ctx, dto.SubmitRegistrationRequest{StudentName: "B", College: "X", Email: "b@x.com", Event: "E"})
	require.NoError(t, err)
	rejected, err := f.svc.Reject(ctx, pending.ID, &models.Actor{AdminID: "admin-1"})
	require.NoError(t, err, "pending registrations without payment can be rejected")
	assert.Equal(t, models.RegistrationRejected, rejected.State())
	assert.Contains(t, f.publisher.types(), events.TypeRegistrationRejected)

	_, err = f.svc.Reject(ctx, pending.ID, nil)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Equal(t, "registration already rejected", appErrors.FromError(err).Message)

	approved := f.submitWithPayment(t)
	_, err = f.svc.Approve(ctx, approved.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, approved.ID, nil)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Equal(t, "registration already approved", appErrors.FromError(err).Message)
	assert.True(t, f.regs.get(approved.ID).IsApproved)
}

func TestListJoinsPaymentsNewestFirstAndCaches(t *testing.T) {
	cache := NewCacheService(repository.NewMemoryCacheRepository(time.Minute), nil, time.Minute, zap.NewNop())
	f := newWorkflowFixture(t, RegistrationConfig{}, cache)
	ctx := context.Background()

	first := f.submitWithPayment(t)
	second, err := f.svc.Submit(ctx, dto.SubmitRegistrationRequest{StudentName: "B", College: "X", Email: "b@x.com", Event: "E"})
	require.NoError(t, err)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Nil(t, list[0].Payment)
	require.NotNil(t, list[1].Payment)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, "UTR123", list[1].Payment.UTRNumber)
	assert.Equal(t, "/payment/"+list[1].Payment.ID+"/screenshot", list[1].Payment.ScreenshotURL)

	// a row written behind the service's back stays invisible until a mutation invalidates
	f.regs.rows["ghost"] = &models.Registration{ID: "ghost", RegistrationDate: time.Now()}
	cached, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	_, err = f.svc.Reject(ctx, second.ID, nil)
	require.NoError(t, err)
	fresh, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
	assert.Equal(t, "ghost", fresh[0].ID)
}

func TestListEmptyIsNotNil(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{}, nil)
	list, err := f.svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestScreenshotUnknownPayment(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{}, nil)
	_, err := f.svc.Screenshot(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestExportCSV(t *testing.T) {
	f := newWorkflowFixture(t, RegistrationConfig{}, nil)
	f.submitWithPayment(t)

	content, err := f.svc.ExportCSV(context.Background())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Registration ID,Student Name"))
	assert.Contains(t, lines[1], "UTR123")
	assert.Contains(t, lines[1], "PENDING")
}

func TestApprovalFlagsNeverBothTrue(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		allowAfterReject := rapid.Bool().Draw(rt, "allowAfterReject")
		f := newWorkflowFixture(t, RegistrationConfig{AllowApproveAfterReject: allowAfterReject}, nil)
		ctx := context.Background()

		n := rapid.IntRange(1, 3).Draw(rt, "registrations")
		ids := make([]string, 0, n)
		for i := 0; i < n; i++ {
			reg, err := f.svc.Submit(ctx, dto.SubmitRegistrationRequest{StudentName: "S", College: "C", Email: "s@x.com", Event: "E"})
			if err != nil {
				rt.Fatalf("submit: %v", err)
			}
			ids = append(ids, reg.ID)
		}

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.SampledFrom(ids).Draw(rt, "id")
			before := f.regs.get(id)
			f.deliverer.err = nil
			if rapid.Bool().Draw(rt, "mailFails") {
				f.deliverer.err = errMailDown
			}

			var err error
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				_, err = f.svc.AttachPayment(ctx, dto.AttachPaymentRequest{RegistrationID: id, UTRNumber: "UTR"}, pngUpload())
			case 1:
				_, err = f.svc.Approve(ctx, id, nil)
			case 2:
				_, err = f.svc.Reject(ctx, id, nil)
			}

			after := f.regs.get(id)
			if after.IsApproved && after.IsRejected {
				rt.Fatalf("registration %s is both approved and rejected", id)
			}
			if err != nil && !errors.Is(err, appErrors.ErrConfirmationDelivery) && after.State() != before.State() {
				rt.Fatalf("failed operation changed state from %s to %s: %v", before.State(), after.State(), err)
			}
			if before.IsApproved && !after.IsApproved {
				rt.Fatalf("approved registration %s left the approved state", id)
			}
		}
	})
}
