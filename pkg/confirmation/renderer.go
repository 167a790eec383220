package confirmation

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// Details is everything printed on a confirmation document.
type Details struct {
	RegistrationID   string
	StudentName      string
	College          string
	Event            string
	Amount           int64
	UTRNumber        string
	RegistrationDate time.Time
}

// Document is a rendered confirmation ready to be attached to an email.
type Document struct {
	Filename string
	Content  []byte
	Code     string
}

// Renderer produces confirmation PDFs with an embedded signed QR code.
type Renderer struct {
	signer   *Signer
	currency string
	now      func() time.Time
}

// NewRenderer builds a renderer. currency is printed before the amount.
func NewRenderer(signer *Signer, currency string) *Renderer {
	if currency == "" {
		currency = "Rs."
	}
	return &Renderer{signer: signer, currency: currency, now: time.Now}
}

// Render lays out the confirmation in memory.
func (r *Renderer) Render(d Details) (*Document, error) {
	issuedAt := r.now().UTC()
	code, err := r.signer.Sign(Claims{
		RegistrationID:   d.RegistrationID,
		StudentName:      d.StudentName,
		College:          d.College,
		Event:            d.Event,
		Amount:           d.Amount,
		UTRNumber:        d.UTRNumber,
		RegistrationDate: d.RegistrationDate.UTC().Format(time.RFC3339),
		IssuedAt:         issuedAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign confirmation: %w", err)
	}

	qr, err := qrcode.Encode(code, qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Registration Confirmation", true)
	pdf.SetCreator("eventreg-api", true)
	pdf.SetCreationDate(issuedAt)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 14, "Registration Confirmation", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, tr(d.Event), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	rows := [][2]string{
		{"Student Name", d.StudentName},
		{"College", d.College},
		{"Event", d.Event},
		{"Amount Paid", fmt.Sprintf("%s %d", r.currency, d.Amount)},
		{"UTR Number", d.UTRNumber},
		{"Registration Date", d.RegistrationDate.UTC().Format("02 Jan 2006 15:04 MST")},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(55, 9, row[0], "1", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 9, tr(row[1]), "1", 1, "L", false, 0, "")
	}
	pdf.Ln(10)

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("confirmation-qr", opts, bytes.NewReader(qr))
	pageW, _ := pdf.GetPageSize()
	const qrSize = 60.0
	pdf.ImageOptions("confirmation-qr", (pageW-qrSize)/2, pdf.GetY(), qrSize, qrSize, true, opts, 0, "")

	pdf.SetFont("Courier", "", 10)
	pdf.CellFormat(0, 6, "Registration ID: "+d.RegistrationID, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, "Present this document at the venue. The QR code is verified on entry.", "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	return &Document{
		Filename: "confirmation-" + d.RegistrationID + ".pdf",
		Content:  buf.Bytes(),
		Code:     code,
	}, nil
}
