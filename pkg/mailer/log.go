package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/pkg/config"
)

// LogSender writes messages to the log instead of delivering them. It is
// meant for local development only.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a log-only sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Name identifies the provider in logs and metrics.
func (s *LogSender) Name() string { return config.MailProviderLog }

// Send logs the envelope and attachment sizes.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attachments := make([]string, 0, len(msg.Attachments))
	var total int
	for _, a := range msg.Attachments {
		attachments = append(attachments, a.Filename)
		total += len(a.Content)
	}
	s.logger.Info("mail not delivered (log provider)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Strings("attachments", attachments),
		zap.Int("attachment_bytes", total),
	)
	return nil
}
