package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/pkg/config"
)

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a provider-neutral outbound email.
type Message struct {
	To          string
	ToName      string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Sender delivers messages. Implementations must honour ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// New selects the sender configured by MAIL_PROVIDER.
func New(cfg config.MailConfig, logger *zap.Logger) (Sender, error) {
	switch cfg.Provider {
	case config.MailProviderSMTP:
		return NewSMTPSender(cfg), nil
	case config.MailProviderSendGrid:
		return NewSendGridSender(cfg.SendGridAPIKey, cfg.From, cfg.FromName, ""), nil
	case config.MailProviderLog:
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.Provider)
	}
}
