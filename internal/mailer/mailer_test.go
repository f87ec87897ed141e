package mailer

import (
	"context"
	"errors"
	"testing"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/require"

	"github.com/and161185/timesync/internal/errs"
)

type recordingSender struct {
	sent   []Message
	failAt int
}

func (r *recordingSender) Send(_ context.Context, m Message) error {
	if r.failAt > 0 && len(r.sent)+1 == r.failAt {
		return &errs.UpstreamError{Status: 401, Message: "bad key"}
	}
	r.sent = append(r.sent, m)
	return nil
}

func TestPersonalize(t *testing.T) {
	require.Equal(t, "<p>Hi Ann, [Name]?</p>", Personalize("<p>Hi Ann, [Name]?</p>", ""))
	require.Equal(t, "<p>Hi Ann, Ann?</p>", Personalize("<p>Hi [Name], [Name]?</p>", "Ann"))
}

func TestSendBatch(t *testing.T) {
	s := &recordingSender{}
	n, err := SendBatch(context.Background(), s, "News", "<b>[Name]</b>", []Recipient{
		{Email: "a@x", Name: "Ann"},
		{Email: "b@x"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, Message{To: "a@x", Subject: "News", HTML: "<b>Ann</b>"}, s.sent[0])
	require.Equal(t, "<b>[Name]</b>", s.sent[1].HTML)
}

func TestSendBatch_Validation(t *testing.T) {
	s := &recordingSender{}
	_, err := SendBatch(context.Background(), s, "s", "h", nil)
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = SendBatch(context.Background(), s, "s", "h", []Recipient{{Email: "a@x"}, {Name: "nobody"}})
	require.ErrorIs(t, err, errs.ErrInvalidInput)
	require.Empty(t, s.sent)
}

func TestSendBatch_StopsOnFailure(t *testing.T) {
	s := &recordingSender{failAt: 2}
	n, err := SendBatch(context.Background(), s, "s", "h", []Recipient{{Email: "a@x"}, {Email: "b@x"}, {Email: "c@x"}})
	var ue *errs.UpstreamError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, 1, n)
}

func TestSendGrid_Build(t *testing.T) {
	sg, err := NewSendGrid("key", "noreply@timesync.dk", "TimeSync", nil)
	require.NoError(t, err)

	v3 := sg.Build(Message{To: "a@x", Subject: "Hello", HTML: "<p>x</p>"})
	require.Equal(t, "Hello", v3.Subject)
	require.Equal(t, "noreply@timesync.dk", v3.From.Address)
	require.Len(t, v3.Personalizations, 1)
	require.Equal(t, "a@x", v3.Personalizations[0].To[0].Address)
	require.Equal(t, []*mail.Content{{Type: "text/html", Value: "<p>x</p>"}}, v3.Content)

	_, err = NewSendGrid("", "x@y", "", nil)
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}
