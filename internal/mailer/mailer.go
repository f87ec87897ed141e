// Package mailer sends transactional HTML email.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/timesync/internal/errs"
)

// NamePlaceholder is replaced by the recipient name in batch sends.
const NamePlaceholder = "[Name]"

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Recipient is one addressee of a batch send.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Personalize replaces every NamePlaceholder in html with name. An empty
// name leaves html unchanged.
func Personalize(html, name string) string {
	if name == "" {
		return html
	}
	return strings.ReplaceAll(html, NamePlaceholder, name)
}

// SendBatch sends subject/html to each recipient in order, personalized.
// It stops at the first failure and reports how many were sent.
func SendBatch(ctx context.Context, s Sender, subject, html string, to []Recipient) (int, error) {
	if len(to) == 0 {
		return 0, fmt.Errorf("%w: batch array is empty", errs.ErrInvalidInput)
	}
	for i, r := range to {
		if strings.TrimSpace(r.Email) == "" {
			return 0, fmt.Errorf("%w: batch recipient %d has no email", errs.ErrInvalidInput, i)
		}
	}
	for i, r := range to {
		m := Message{To: r.Email, Subject: subject, HTML: Personalize(html, r.Name)}
		if err := s.Send(ctx, m); err != nil {
			return i, err
		}
	}
	return len(to), nil
}
