package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/mailer"
	"github.com/and161185/timesync/internal/model"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeLookup struct {
	body  json.RawMessage
	err   error
	calls int
	last  [2]string
}

func (f *fakeLookup) Lookup(_ context.Context, search, country string) (json.RawMessage, error) {
	f.calls++
	f.last = [2]string{search, country}
	return f.body, f.err
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []mailer.Message
	failAt int
	err    error
}

func (f *fakeSender) Send(_ context.Context, m mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && len(f.sent) == f.failAt {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type fakeLimiter struct {
	ok    bool
	retry time.Duration
	err   error
	taken int
}

func (f *fakeLimiter) Take(_ context.Context, key []byte, n int) (bool, time.Duration, error) {
	f.taken += n
	return f.ok, f.retry, f.err
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []model.EmailLog
}

func (f *fakeAudit) Record(_ context.Context, l *model.EmailLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *l)
	return nil
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestHealthz(t *testing.T) {
	s := New(&fakeLookup{}, &fakeSender{}, WithLogger(zaptest.NewLogger(t)))
	w := do(t, s.Router(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestCVRProxy(t *testing.T) {
	t.Run("empty search", func(t *testing.T) {
		lk := &fakeLookup{}
		s := New(lk, nil)
		w := do(t, s.Router(), http.MethodGet, "/api/cvr-proxy?search=%20", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "Search value cannot be empty", decode(t, w)["error"])
		require.Zero(t, lk.calls)
	})

	t.Run("passes body through", func(t *testing.T) {
		lk := &fakeLookup{body: json.RawMessage(`{"vat":12345678,"name":"ACME ApS"}`)}
		s := New(lk, nil)
		w := do(t, s.Router(), http.MethodGet, "/api/cvr-proxy?search=acme&country=no", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"vat":12345678,"name":"ACME ApS"}`, w.Body.String())
		require.Equal(t, [2]string{"acme", "no"}, lk.last)
	})

	t.Run("upstream status", func(t *testing.T) {
		s := New(&fakeLookup{err: &errs.UpstreamError{Status: http.StatusNotFound}}, nil)
		w := do(t, s.Router(), http.MethodGet, "/api/cvr-proxy?search=nobody", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, "CVR API request failed with status 404", decode(t, w)["error"])
	})

	t.Run("network failure", func(t *testing.T) {
		s := New(&fakeLookup{err: &errs.NetworkError{Op: "GET", Err: errors.New("dial tcp: refused")}}, nil)
		w := do(t, s.Router(), http.MethodGet, "/api/cvr-proxy?search=acme", nil)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.Contains(t, decode(t, w)["error"], "refused")
	})
}

func TestSendEmail_Single(t *testing.T) {
	snd := &fakeSender{}
	audit := &fakeAudit{}
	s := New(&fakeLookup{}, snd, WithAudit(audit))

	w := do(t, s.Router(), http.MethodPost, "/api/send-email", map[string]string{"to": "a@x.dk", "subject": "Hi", "html": "<p>x</p>"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, true, body["success"])
	require.Equal(t, "Email sent successfully", body["message"])
	require.Len(t, snd.sent, 1)
	require.Equal(t, "a@x.dk", snd.sent[0].To)

	require.Len(t, audit.rows, 1)
	require.Equal(t, "sent", audit.rows[0].Status)
	require.NotEmpty(t, audit.rows[0].RequestID)
}

func TestSendEmail_Validation(t *testing.T) {
	cases := []struct {
		name string
		body any
		want string
	}{
		{"malformed", "{", "invalid request body"},
		{"missing to", map[string]string{"subject": "s", "html": "h"}, "Missing required fields: to, subject, or html"},
		{"missing html", map[string]string{"to": "a@x", "subject": "s"}, "Missing required fields: to, subject, or html"},
		{"empty batch", map[string]any{"batch": []any{}, "subject": "s", "html": "h"}, "Batch array is empty"},
		{"batch no subject", map[string]any{"batch": []any{map[string]string{"email": "a@x"}}, "html": "h"}, "Missing required fields: subject or html for batch email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snd := &fakeSender{}
			s := New(&fakeLookup{}, snd)
			w := do(t, s.Router(), http.MethodPost, "/api/send-email", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Equal(t, tc.want, decode(t, w)["error"])
			require.Empty(t, snd.sent)
		})
	}
}

func TestSendEmail_BatchPersonalized(t *testing.T) {
	snd := &fakeSender{}
	s := New(&fakeLookup{}, snd)

	w := do(t, s.Router(), http.MethodPost, "/api/send-email", map[string]any{
		"batch":   []map[string]string{{"email": "a@x", "name": "Ann"}, {"email": "b@x"}},
		"subject": "News",
		"html":    "Dear [Name], hello [Name]",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "2 emails sent successfully", decode(t, w)["message"])
	require.Len(t, snd.sent, 2)
	require.Equal(t, "Dear Ann, hello Ann", snd.sent[0].HTML)
	require.Equal(t, "Dear [Name], hello [Name]", snd.sent[1].HTML)
}

func TestSendEmail_NonArrayBatchSendsSingle(t *testing.T) {
	for _, batch := range []any{map[string]any{}, "a@x", nil} {
		snd := &fakeSender{}
		s := New(&fakeLookup{}, snd)
		w := do(t, s.Router(), http.MethodPost, "/api/send-email", map[string]any{
			"to": "a@x.dk", "subject": "Hi", "html": "<p>x</p>", "batch": batch,
		})
		require.Equal(t, http.StatusOK, w.Code, "batch=%v", batch)
		require.Equal(t, "Email sent successfully", decode(t, w)["message"])
		require.Len(t, snd.sent, 1)
		require.Equal(t, "a@x.dk", snd.sent[0].To)
	}

	s := New(&fakeLookup{}, &fakeSender{})
	w := do(t, s.Router(), http.MethodPost, "/api/send-email", map[string]any{"subject": "s", "html": "h", "batch": map[string]any{}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Missing required fields: to, subject, or html", decode(t, w)["error"])
}

func TestSendEmail_ProviderFailure(t *testing.T) {
	snd := &fakeSender{err: &errs.UpstreamError{Status: 401, Message: "bad key"}}
	audit := &fakeAudit{}
	s := New(&fakeLookup{}, snd, WithAudit(audit))

	w := do(t, s.Router(), http.MethodPost, "/api/send-email", map[string]string{"to": "a@x", "subject": "s", "html": "h"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, decode(t, w)["error"], "SendGrid error: ")
	require.Len(t, audit.rows, 1)
	require.Equal(t, "failed", audit.rows[0].Status)
}

func TestSendEmail_NoMailer(t *testing.T) {
	s := New(&fakeLookup{}, nil)
	w := do(t, s.Router(), http.MethodPost, "/api/send-email", map[string]string{"to": "a@x", "subject": "s", "html": "h"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSendEmail_RateLimited(t *testing.T) {
	snd := &fakeSender{}
	lim := &fakeLimiter{ok: false, retry: 30 * time.Second}
	s := New(&fakeLookup{}, snd, WithLimiter(lim))

	w := do(t, s.Router(), http.MethodPost, "/api/send-email", map[string]any{
		"batch":   []map[string]string{{"email": "a@x"}, {"email": "b@x"}, {"email": "c@x"}},
		"subject": "s",
		"html":    "h",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "30", w.Header().Get("Retry-After"))
	require.Equal(t, 3, lim.taken)
	require.Empty(t, snd.sent)
}

func TestSendEmail_LimiterErrorFailsOpen(t *testing.T) {
	snd := &fakeSender{}
	s := New(&fakeLookup{}, snd, WithLimiter(&fakeLimiter{err: errors.New("db down")}))
	w := do(t, s.Router(), http.MethodPost, "/api/send-email", map[string]string{"to": "a@x", "subject": "s", "html": "h"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, snd.sent, 1)
}
