package models

import "time"

// Payment is the proof of payment attached to a registration. The screenshot
// itself lives in blob storage under ScreenshotPath.
type Payment struct {
	ID             string    `db:"id" json:"id"`
	RegistrationID string    `db:"registration_id" json:"registrationId"`
	UTRNumber      string    `db:"utr_number" json:"utrNumber"`
	ScreenshotPath string    `db:"screenshot_path" json:"-"`
	ScreenshotMime string    `db:"screenshot_mime" json:"screenshotMime"`
	ScreenshotSize int64     `db:"screenshot_size" json:"screenshotSize"`
	PaymentDate    time.Time `db:"payment_date" json:"paymentDate"`
}
