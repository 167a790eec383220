package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/noah-isme/eventreg-api/internal/models"
	"github.com/noah-isme/eventreg-api/internal/repository"
	"github.com/noah-isme/eventreg-api/pkg/confirmation"
	"github.com/noah-isme/eventreg-api/pkg/events"
	"github.com/noah-isme/eventreg-api/pkg/mailer"
	"github.com/noah-isme/eventreg-api/pkg/storage"
)

// fakeRegistrations mimics the conditional updates of the SQL repository.
type fakeRegistrations struct {
	mu      sync.Mutex
	rows    map[string]*models.Registration
	seq     int
	findErr error
}

func newFakeRegistrations() *fakeRegistrations {
	return &fakeRegistrations{rows: make(map[string]*models.Registration)}
}

func (f *fakeRegistrations) Create(ctx context.Context, reg *models.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	reg.ID = "reg-" + strconv.Itoa(f.seq)
	if reg.RegistrationDate.IsZero() {
		reg.RegistrationDate = time.Date(2025, 1, 1, 0, 0, f.seq, 0, time.UTC)
	}
	reg.ConfirmationStatus = models.ConfirmationNotSent
	cp := *reg
	f.rows[reg.ID] = &cp
	return nil
}

func (f *fakeRegistrations) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *row
	return &cp, nil
}

func (f *fakeRegistrations) List(ctx context.Context) ([]models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Registration, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegistrationDate.Equal(out[j].RegistrationDate) {
			return out[i].RegistrationDate.After(out[j].RegistrationDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeRegistrations) MarkApproved(ctx context.Context, id string, allowFromRejected bool, reviewer *string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.IsApproved || (row.IsRejected && !allowFromRejected) {
		return false, nil
	}
	row.IsApproved, row.IsRejected = true, false
	row.ReviewedBy, row.ReviewedAt = reviewer, &at
	return true, nil
}

func (f *fakeRegistrations) MarkRejected(ctx context.Context, id string, reviewer *string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.IsApproved || row.IsRejected {
		return false, nil
	}
	row.IsApproved, row.IsRejected = false, true
	row.ReviewedBy, row.ReviewedAt = reviewer, &at
	return true, nil
}

func (f *fakeRegistrations) RecordConfirmation(ctx context.Context, id string, status models.ConfirmationStatus, deliveryErr *string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return sql.ErrNoRows
	}
	row.ConfirmationStatus = status
	row.ConfirmationAttempts++
	row.ConfirmationError = deliveryErr
	if status == models.ConfirmationSent {
		row.ConfirmationSentAt = &at
	}
	return nil
}

func (f *fakeRegistrations) ListFailedConfirmations(ctx context.Context, maxAttempts, limit int) ([]models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Registration
	for _, r := range f.rows {
		if r.IsApproved && r.ConfirmationStatus == models.ConfirmationFailed && r.ConfirmationAttempts < maxAttempts {
			out = append(out, *r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRegistrations) get(id string) models.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

type fakePayments struct {
	mu        sync.Mutex
	byID      map[string]*models.Payment
	seq       int
	createErr error
}

func newFakePayments() *fakePayments {
	return &fakePayments{byID: make(map[string]*models.Payment)}
}

func (f *fakePayments) Create(ctx context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.byID {
		if existing.RegistrationID == p.RegistrationID {
			return repository.ErrDuplicate
		}
	}
	f.seq++
	p.ID = "pay-" + strconv.Itoa(f.seq)
	p.PaymentDate = time.Now().UTC()
	cp := *p
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakePayments) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (f *fakePayments) FindByRegistrationID(ctx context.Context, registrationID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.RegistrationID == registrationID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakePayments) ListByRegistrationIDs(ctx context.Context, ids []string) (map[string]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make(map[string]models.Payment)
	for _, p := range f.byID {
		if _, ok := wanted[p.RegistrationID]; ok {
			out[p.RegistrationID] = *p
		}
	}
	return out, nil
}

// fakeStorage keeps blobs in memory but serves Open from a temp dir.
type fakeStorage struct {
	mu      sync.Mutex
	dir     string
	blobs   map[string][]byte
	deleted []string
}

func newFakeStorage(dir string) *fakeStorage {
	return &fakeStorage{dir: dir, blobs: make(map[string][]byte)}
}

func (f *fakeStorage) SaveStream(key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return key, nil
}

func (f *fakeStorage) Open(key string) (*os.File, error) {
	f.mu.Lock()
	data, ok := f.blobs[key]
	f.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	path := filepath.Join(f.dir, filepath.Base(key))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (f *fakeStorage) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type stubSender struct {
	mu   sync.Mutex
	err  error
	sent []mailer.Message
}

func (s *stubSender) Name() string { return "stub" }

func (s *stubSender) Send(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubDeliverer struct {
	err       error
	delivered []string
	retries   []string
}

func (d *stubDeliverer) Deliver(ctx context.Context, reg *models.Registration, payment *models.Payment) error {
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, reg.ID)
	return nil
}

func (d *stubDeliverer) ScheduleRetry(id string) error {
	d.retries = append(d.retries, id)
	return nil
}

var errMailDown = errors.New("smtp: connection refused")

var (
	pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
)

func pngUpload() *ScreenshotUpload {
	return &ScreenshotUpload{Filename: "proof.png", Size: int64(len(pngHeader)), Content: bytes.NewReader(pngHeader)}
}

func newTestRenderer() *confirmation.Renderer {
	return confirmation.NewRenderer(confirmation.NewSigner("test-secret"), "Rs.")
}
