package email

import (
	"context"

	"pehlione.com/settlement/internal/mailer"
)

// MailerAdapter turns a Message into a mailer.Email with a fixed sender.
type MailerAdapter struct {
	mailer   mailer.Service
	fromAddr string
	fromName string
}

func NewMailerAdapter(m mailer.Service, fromAddr, fromName string) *MailerAdapter {
	return &MailerAdapter{
		mailer:   m,
		fromAddr: fromAddr,
		fromName: fromName,
	}
}

func (a *MailerAdapter) Send(ctx context.Context, m Message) error {
	return a.mailer.Send(ctx, mailer.Email{
		From:     a.fromAddr,
		FromName: a.fromName,
		To:       m.To,
		Subject:  m.Subject,
		TextBody: m.Text,
		HTMLBody: m.HTML,
		Headers:  m.Headers,
	})
}
