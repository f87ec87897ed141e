package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/and161185/timesync/internal/errs"
)

// SendGrid delivers mail through the SendGrid v3 API.
type SendGrid struct {
	client *sendgrid.Client
	from   *mail.Email
	log    *zap.Logger
}

// NewSendGrid builds a sender for apiKey with a fixed From address.
func NewSendGrid(apiKey, fromAddr, fromName string, log *zap.Logger) (*SendGrid, error) {
	if apiKey == "" || fromAddr == "" {
		return nil, fmt.Errorf("%w: sendgrid key and from address are required", errs.ErrInvalidInput)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SendGrid{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddr),
		log:    log,
	}, nil
}

// Build assembles the v3 payload for m.
func (s *SendGrid) Build(m Message) *mail.SGMailV3 {
	v3 := mail.NewV3Mail()
	v3.SetFrom(s.from)
	v3.Subject = m.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", m.To))
	v3.AddPersonalizations(p)
	v3.AddContent(mail.NewContent("text/html", m.HTML))
	return v3
}

func (s *SendGrid) Send(ctx context.Context, m Message) error {
	resp, err := s.client.SendWithContext(ctx, s.Build(m))
	if err != nil {
		return &errs.NetworkError{Op: "sendgrid send", Err: err}
	}
	if resp.StatusCode >= 300 {
		return &errs.UpstreamError{Status: resp.StatusCode, Message: resp.Body}
	}
	s.log.Debug("email sent", zap.Int("status", resp.StatusCode))
	return nil
}
