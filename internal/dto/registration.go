package dto

import (
	"time"

	"github.com/noah-isme/eventreg-api/internal/models"
)

// SubmitRegistrationRequest is the public registration form.
type SubmitRegistrationRequest struct {
	StudentName string `json:"studentName" validate:"required,max=200"`
	College     string `json:"college" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Event       string `json:"event" validate:"required,max=200"`
}

// AttachPaymentRequest carries the multipart text fields of a payment upload.
type AttachPaymentRequest struct {
	RegistrationID string `form:"registrationId" validate:"required"`
	UTRNumber      string `form:"utrNumber" validate:"required,max=64"`
}

// PaymentResponse is the admin-facing view of a payment.
type PaymentResponse struct {
	ID             string    `json:"id"`
	UTRNumber      string    `json:"utrNumber"`
	ScreenshotMime string    `json:"screenshotMime"`
	ScreenshotSize int64     `json:"screenshotSize"`
	ScreenshotURL  string    `json:"screenshotUrl"`
	PaymentDate    time.Time `json:"paymentDate"`
}

// RegistrationResponse is a registration joined with its payment.
type RegistrationResponse struct {
	ID                   string                    `json:"id"`
	StudentName          string                    `json:"studentName"`
	College              string                    `json:"college"`
	Email                string                    `json:"email"`
	Event                string                    `json:"event"`
	Amount               int64                     `json:"amount"`
	RegistrationDate     time.Time                 `json:"registrationDate"`
	IsApproved           bool                      `json:"isApproved"`
	IsRejected           bool                      `json:"isRejected"`
	Status               models.RegistrationStatus `json:"status"`
	ReviewedBy           *string                   `json:"reviewedBy,omitempty"`
	ReviewedAt           *time.Time                `json:"reviewedAt,omitempty"`
	ConfirmationStatus   models.ConfirmationStatus `json:"confirmationStatus"`
	ConfirmationAttempts int                       `json:"confirmationAttempts"`
	ConfirmationSentAt   *time.Time                `json:"confirmationSentAt,omitempty"`
	ConfirmationError    *string                   `json:"confirmationError,omitempty"`
	Payment              *PaymentResponse          `json:"payment"`
}

// NewRegistrationResponse flattens a registration and its optional payment.
func NewRegistrationResponse(item models.RegistrationWithPayment) RegistrationResponse {
	resp := RegistrationResponse{
		ID:                   item.ID,
		StudentName:          item.StudentName,
		College:              item.College,
		Email:                item.Email,
		Event:                item.Event,
		Amount:               item.Amount,
		RegistrationDate:     item.RegistrationDate,
		IsApproved:           item.IsApproved,
		IsRejected:           item.IsRejected,
		Status:               item.State(),
		ReviewedBy:           item.ReviewedBy,
		ReviewedAt:           item.ReviewedAt,
		ConfirmationStatus:   item.ConfirmationStatus,
		ConfirmationAttempts: item.ConfirmationAttempts,
		ConfirmationSentAt:   item.ConfirmationSentAt,
		ConfirmationError:    item.ConfirmationError,
	}
	if p := item.Payment; p != nil {
		resp.Payment = &PaymentResponse{
			ID:             p.ID,
			UTRNumber:      p.UTRNumber,
			ScreenshotMime: p.ScreenshotMime,
			ScreenshotSize: p.ScreenshotSize,
			ScreenshotURL:  "/payment/" + p.ID + "/screenshot",
			PaymentDate:    p.PaymentDate,
		}
	}
	return resp
}

// VerifyConfirmationRequest carries the scanned QR content.
type VerifyConfirmationRequest struct {
	Code string `json:"code" validate:"required"`
}

// VerifyConfirmationResponse reports whether a scanned confirmation is genuine.
type VerifyConfirmationResponse struct {
	Valid        bool                  `json:"valid"`
	Reason       string                `json:"reason,omitempty"`
	Registration *RegistrationResponse `json:"registration,omitempty"`
}
