package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/noah-isme/eventreg-api/pkg/config"
)

// SendGridSender delivers mail through the SendGrid v3 API.
type SendGridSender struct {
	apiKey    string
	fromEmail string
	fromName  string
	host      string
}

// NewSendGridSender builds a sender. An empty host targets the public API.
func NewSendGridSender(apiKey, fromEmail, fromName, host string) *SendGridSender {
	return &SendGridSender{apiKey: apiKey, fromEmail: fromEmail, fromName: fromName, host: host}
}

// Name identifies the provider in logs and metrics.
func (s *SendGridSender) Name() string { return config.MailProviderSendGrid }

// Send posts msg to SendGrid. Non-2xx responses are errors.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	recipient := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, recipient, msg.Text, msg.HTML)

	for _, att := range msg.Attachments {
		a := mail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(att.Content))
		a.SetType(att.ContentType)
		a.SetFilename(att.Filename)
		a.SetDisposition("attachment")
		message.AddAttachment(a)
	}

	client := sendgrid.NewSendClient(s.apiKey)
	if s.host != "" {
		client.BaseURL = strings.TrimRight(s.host, "/") + "/v3/mail/send"
	}

	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}
