// Package httpserver exposes the company-registry proxy and the email relay
// over HTTP.
package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/limiter"
	"github.com/and161185/timesync/internal/mailer"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/repository"
)

// Lookup resolves a company-registry search.
type Lookup interface {
	Lookup(ctx context.Context, search, country string) (json.RawMessage, error)
}

// Server wires the registry client and the mailer into gin handlers.
type Server struct {
	cvr     Lookup
	mail    mailer.Sender
	limiter limiter.Limiter
	audit   repository.EmailLogRepository
	log     *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Server)

// WithLimiter throttles /api/send-email per client IP.
func WithLimiter(l limiter.Limiter) Option { return func(s *Server) { s.limiter = l } }

// WithAudit records every send attempt.
func WithAudit(r repository.EmailLogRepository) Option { return func(s *Server) { s.audit = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.log = l } }

// New constructs a Server. mail may be nil, in which case sends fail with 500.
func New(cvr Lookup, mail mailer.Sender, opts ...Option) *Server {
	s := &Server{cvr: cvr, mail: mail, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(Recover(s.log), RequestID(), Logging(s.log))
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes attaches the HTTP routes to router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api := router.Group("/api")
	api.GET("/cvr-proxy", s.cvrProxy)
	api.POST("/send-email", s.sendEmail)
}

func (s *Server) cvrProxy(c *gin.Context) {
	search := c.Query("search")
	if strings.TrimSpace(search) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Search value cannot be empty"})
		return
	}

	body, err := s.cvr.Lookup(c.Request.Context(), search, c.Query("country"))
	if err != nil {
		var ue *errs.UpstreamError
		if errors.As(err, &ue) {
			c.JSON(ue.Status, gin.H{"error": fmt.Sprintf("CVR API request failed with status %d", ue.Status)})
			return
		}
		s.log.Error("cvr lookup", zap.String("search", search), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

type sendEmailRequest struct {
	To      string          `json:"to"`
	Subject string          `json:"subject"`
	HTML    string          `json:"html"`
	Batch   json.RawMessage `json:"batch"`
}

// batchArray reports whether raw holds a JSON array. Any other batch value
// means a single send.
func batchArray(raw json.RawMessage) bool {
	b := bytes.TrimLeft(raw, " \t\r\n")
	return len(b) > 0 && b[0] == '['
}

func (s *Server) sendEmail(c *gin.Context) {
	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if batchArray(req.Batch) {
		var batch []mailer.Recipient
		if err := json.Unmarshal(req.Batch, &batch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		s.sendBatch(c, req, batch)
		return
	}

	if req.To == "" || req.Subject == "" || req.HTML == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: to, subject, or html"})
		return
	}
	if !s.allow(c, 1) {
		return
	}
	err := s.deliver(c.Request.Context(), mailer.Message{To: req.To, Subject: req.Subject, HTML: req.HTML})
	s.record(c.Request.Context(), 1, req.Subject, err)
	if err != nil {
		s.sendFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Email sent successfully"})
}

func (s *Server) sendBatch(c *gin.Context, req sendEmailRequest, batch []mailer.Recipient) {
	if len(batch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Batch array is empty"})
		return
	}
	if req.Subject == "" || req.HTML == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: subject or html for batch email"})
		return
	}
	if !s.allow(c, len(batch)) {
		return
	}

	var (
		sent int
		err  = errNoMailer
	)
	if s.mail != nil {
		sent, err = mailer.SendBatch(c.Request.Context(), s.mail, req.Subject, req.HTML, batch)
	}
	s.record(c.Request.Context(), len(batch), req.Subject, err)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Warn("batch send stopped", zap.Int("sent", sent), zap.Int("total", len(batch)), zap.Error(err))
		s.sendFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("%d emails sent successfully", sent)})
}

var errNoMailer = errors.New("email provider is not configured")

func (s *Server) deliver(ctx context.Context, m mailer.Message) error {
	if s.mail == nil {
		return errNoMailer
	}
	return s.mail.Send(ctx, m)
}

func (s *Server) sendFailed(c *gin.Context, err error) {
	s.log.Error("sendgrid", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "SendGrid error: " + err.Error()})
}

// allow consumes n sends from the caller's budget. Limiter failures let the
// request through.
func (s *Server) allow(c *gin.Context, n int) bool {
	if s.limiter == nil {
		return true
	}
	ok, retry, err := s.limiter.Take(c.Request.Context(), limiter.HashIP(c.ClientIP()), n)
	if err != nil {
		s.log.Warn("limiter unavailable", zap.Error(err))
		return true
	}
	if !ok {
		if retry > 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retry.Seconds()+0.5)))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
		return false
	}
	return true
}

func (s *Server) record(ctx context.Context, recipients int, subject string, sendErr error) {
	if s.audit == nil {
		return
	}
	l := &model.EmailLog{Recipients: recipients, Subject: subject, Status: "sent"}
	if rid, ok := RequestIDFromCtx(ctx); ok {
		l.RequestID = rid
	}
	if sendErr != nil {
		l.Status = "failed"
		l.Error = sendErr.Error()
	}
	if err := s.audit.Record(context.WithoutCancel(ctx), l); err != nil {
		s.log.Warn("email audit", zap.Error(err))
	}
}
