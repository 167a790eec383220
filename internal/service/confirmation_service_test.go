package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/eventreg-api/internal/models"
	"github.com/noah-isme/eventreg-api/pkg/confirmation"
	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
	"github.com/noah-isme/eventreg-api/pkg/events"
	"github.com/noah-isme/eventreg-api/pkg/jobs"
	"github.com/noah-isme/eventreg-api/pkg/mailer"
)

type confirmationFixture struct {
	regs      *fakeRegistrations
	payments  *fakePayments
	sender    *stubSender
	signer    *confirmation.Signer
	audit     *mockAuditLogger
	publisher *recordingPublisher
	svc       *ConfirmationService
}

func newConfirmationFixture(t *testing.T, cfg ConfirmationConfig, deps ConfirmationDeps) *confirmationFixture {
	t.Helper()
	f := &confirmationFixture{
		regs:      newFakeRegistrations(),
		payments:  newFakePayments(),
		sender:    &stubSender{},
		signer:    confirmation.NewSigner("test-secret"),
		audit:     &mockAuditLogger{},
		publisher: &recordingPublisher{},
	}
	deps.Registrations = f.regs
	deps.Payments = f.payments
	deps.Renderer = confirmation.NewRenderer(f.signer, "Rs.")
	deps.Verifier = f.signer
	deps.Sender = f.sender
	deps.Audit = f.audit
	deps.Publisher = f.publisher
	f.svc = NewConfirmationService(deps, cfg)
	return f
}

// seed stores a registration with a payment in the given state.
func (f *confirmationFixture) seed(t *testing.T, approved bool) *models.Registration {
	t.Helper()
	reg := &models.Registration{StudentName: "Asha", College: "X College", Email: "a@x.com", Event: "Hack2025", Amount: 500}
	require.NoError(t, f.regs.Create(context.Background(), reg))
	require.NoError(t, f.payments.Create(context.Background(), &models.Payment{RegistrationID: reg.ID, UTRNumber: "UTR123", ScreenshotPath: "k", ScreenshotMime: "image/png", ScreenshotSize: 1}))
	if approved {
		ok, err := f.regs.MarkApproved(context.Background(), reg.ID, true, nil, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		reg.IsApproved = true
	}
	return reg
}

func TestDeliverRecordsSuccess(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{Tracer: provider.Tracer("test"), Metrics: NewMetricsService()})
	reg := f.seed(t, true)
	payment, err := f.payments.FindByRegistrationID(context.Background(), reg.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Deliver(context.Background(), reg, payment))
	assert.Equal(t, 1, reg.ConfirmationAttempts)
	assert.Equal(t, models.ConfirmationSent, reg.ConfirmationStatus)

	stored := f.regs.get(reg.ID)
	assert.Equal(t, models.ConfirmationSent, stored.ConfirmationStatus)
	assert.NotNil(t, stored.ConfirmationSentAt)
	assert.Nil(t, stored.ConfirmationError)
	assert.Contains(t, f.publisher.types(), events.TypeConfirmationSent)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "confirmation.deliver", spans[0].Name())
}

func TestDeliverRecordsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{Logger: zap.New(core)})
	reg := f.seed(t, true)
	payment, err := f.payments.FindByRegistrationID(context.Background(), reg.ID)
	require.NoError(t, err)
	f.sender.setErr(errMailDown)

	err = f.svc.Deliver(context.Background(), reg, payment)
	require.ErrorIs(t, err, errMailDown)

	stored := f.regs.get(reg.ID)
	assert.True(t, stored.IsApproved)
	assert.Equal(t, models.ConfirmationFailed, stored.ConfirmationStatus)
	assert.Equal(t, 1, stored.ConfirmationAttempts)
	require.NotNil(t, stored.ConfirmationError)
	assert.Contains(t, *stored.ConfirmationError, "connection refused")
	assert.Contains(t, f.publisher.types(), events.TypeConfirmationFailed)
	assert.Equal(t, 1, logs.FilterMessage("confirmation delivery failed").Len())
}

func TestResendRequiresApproval(t *testing.T) {
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{})
	pending := f.seed(t, false)

	err := f.svc.Resend(context.Background(), pending.ID, nil)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Equal(t, "registration is not approved", appErrors.FromError(err).Message)

	err = f.svc.Resend(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Zero(t, f.sender.count())
}

func TestResendDeliversAndAudits(t *testing.T) {
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{})
	reg := f.seed(t, true)
	actor := &models.Actor{AdminID: "admin-1", IP: "10.0.0.2"}

	f.sender.setErr(errMailDown)
	err := f.svc.Resend(context.Background(), reg.ID, actor)
	assert.ErrorIs(t, err, appErrors.ErrConfirmationDelivery)

	f.sender.setErr(nil)
	require.NoError(t, f.svc.Resend(context.Background(), reg.ID, actor))
	assert.Equal(t, 1, f.sender.count())

	stored := f.regs.get(reg.ID)
	assert.Equal(t, models.ConfirmationSent, stored.ConfirmationStatus)
	assert.Equal(t, 2, stored.ConfirmationAttempts)

	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, models.AuditActionConfirmationResend, f.audit.entries[1].Action)
	assert.JSONEq(t, `{"confirmationStatus":"SENT"}`, string(f.audit.entries[1].NewValues))
}

func TestVerifyConfirmationCode(t *testing.T) {
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{})
	reg := f.seed(t, true)
	code, err := f.signer.Sign(confirmation.Claims{RegistrationID: reg.ID, StudentName: reg.StudentName, Event: reg.Event, Amount: reg.Amount, UTRNumber: "UTR123"})
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := f.svc.Verify(ctx, code)
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	require.NotNil(t, resp.Registration)
	assert.Equal(t, reg.ID, resp.Registration.ID)
	require.NotNil(t, resp.Registration.Payment)

	parts := strings.Split(code, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("0", len(parts[2]))
	resp, err = f.svc.Verify(ctx, tampered)
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, "signature mismatch", resp.Reason)
	assert.Nil(t, resp.Registration)

	resp, err = f.svc.Verify(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, "malformed code", resp.Reason)

	_, err = f.svc.Verify(ctx, "  ")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestVerifyRejectsCodeForUnapprovedRegistration(t *testing.T) {
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{})
	reg := f.seed(t, false)
	code, err := f.signer.Sign(confirmation.Claims{RegistrationID: reg.ID})
	require.NoError(t, err)

	resp, err := f.svc.Verify(context.Background(), code)
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, "registration is not approved", resp.Reason)

	ghost, err := f.signer.Sign(confirmation.Claims{RegistrationID: "gone"})
	require.NoError(t, err)
	resp, err = f.svc.Verify(context.Background(), ghost)
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, "registration not found", resp.Reason)
}

func TestScheduleRetryRequiresStartedQueue(t *testing.T) {
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{})
	assert.Error(t, f.svc.ScheduleRetry("reg-1"))
}

func TestSweepRedeliversFailedConfirmations(t *testing.T) {
	f := newConfirmationFixture(t, ConfirmationConfig{MaxAttempts: 3, RetryDelay: 10 * time.Millisecond}, ConfirmationDeps{})
	reg := f.seed(t, true)
	exhausted := f.seed(t, true)
	ctx := context.Background()

	msg := "smtp down"
	require.NoError(t, f.regs.RecordConfirmation(ctx, reg.ID, models.ConfirmationFailed, &msg, time.Now()))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.regs.RecordConfirmation(ctx, exhausted.ID, models.ConfirmationFailed, &msg, time.Now()))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.svc.Start(runCtx)
	defer f.svc.Stop()

	queued, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	require.Eventually(t, func() bool {
		return f.regs.get(reg.ID).ConfirmationStatus == models.ConfirmationSent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.regs.get(reg.ID).ConfirmationAttempts)
	assert.Equal(t, models.ConfirmationFailed, f.regs.get(exhausted.ID).ConfirmationStatus)
	assert.Equal(t, 1, f.sender.count())
}

// gatedSender holds every delivery until release is closed.
type gatedSender struct {
	stubSender
	release chan struct{}
}

func (g *gatedSender) Send(ctx context.Context, msg mailer.Message) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.stubSender.Send(ctx, msg)
}

func TestSweepCountsOnlyNewlyQueued(t *testing.T) {
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{})
	reg := f.seed(t, true)
	ctx := context.Background()
	msg := "smtp down"
	require.NoError(t, f.regs.RecordConfirmation(ctx, reg.ID, models.ConfirmationFailed, &msg, time.Now()))

	gate := &gatedSender{release: make(chan struct{})}
	svc := NewConfirmationService(ConfirmationDeps{
		Registrations: f.regs,
		Payments:      f.payments,
		Renderer:      confirmation.NewRenderer(f.signer, "Rs."),
		Sender:        gate,
	}, ConfirmationConfig{MaxAttempts: 3, MailTimeout: 5 * time.Second})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	svc.Start(runCtx)
	defer svc.Stop()

	queued, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	// the first retry is still in flight
	queued, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.ErrorIs(t, svc.ScheduleRetry(reg.ID), jobs.ErrAlreadyQueued)
	assert.Equal(t, 1, svc.PendingRetries())

	close(gate.release)
	require.Eventually(t, func() bool {
		return f.regs.get(reg.ID).ConfirmationStatus == models.ConfirmationSent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, gate.count())
}

func TestRetrySkipsAlreadyDelivered(t *testing.T) {
	f := newConfirmationFixture(t, ConfirmationConfig{}, ConfirmationDeps{})
	reg := f.seed(t, true)
	require.NoError(t, f.regs.RecordConfirmation(context.Background(), reg.ID, models.ConfirmationSent, nil, time.Now()))

	err := f.svc.handleRetry(context.Background(), jobs.Job{ID: "confirmation:" + reg.ID, Payload: reg.ID})
	require.NoError(t, err)
	assert.Zero(t, f.sender.count())
}
