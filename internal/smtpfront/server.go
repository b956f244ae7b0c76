// Package smtpfront accepts mail over SMTP and hands it to the spool.
package smtpfront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"mailflow/internal/config"
	"mailflow/internal/logger"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/logging"
	"mailflow/pkg/models"
)

type Submitter interface {
	Submit(ctx context.Context, mail *models.Mail) (string, error)
}

type Server struct {
	smtp   *smtp.Server
	logger logger.Logger
}

func NewServer(cfg config.SMTPConfig, submitter Submitter, log logger.Logger) *Server {
	backend := &backend{
		submitter: submitter,
		domain:    cfg.Domain,
		logger:    log.Named("smtp"),
	}

	s := smtp.NewServer(backend)
	s.Addr = cfg.Addr
	s.Domain = cfg.Domain
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.AllowInsecureAuth = cfg.AllowInsecureAuth

	return &Server{smtp: s, logger: log}
}

func (s *Server) ListenAndServe() error {
	s.logger.Infow("SMTP server listening", "addr", s.smtp.Addr, "domain", s.smtp.Domain)
	err := s.smtp.ListenAndServe()
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Serve(l net.Listener) error {
	err := s.smtp.Serve(l)
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.smtp.Shutdown(ctx)
}

type backend struct {
	submitter Submitter
	domain    string
	logger    logger.Logger
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := ""
	if addr := c.Conn().RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &session{
		backend: b,
		conn:    c,
		remote:  remote,
	}, nil
}

// session collects one envelope at a time. RSET and a completed DATA
// start a new one.
type session struct {
	backend    *backend
	conn       *smtp.Conn
	remote     string
	sender     *models.Address
	recipients []models.Address
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = nil
	if from == "" {
		return nil
	}
	addr, err := models.ParseAddress(from)
	if err != nil {
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender",
		}
	}
	s.sender = &addr
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	addr, err := models.ParseAddress(to)
	if err != nil {
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient",
		}
	}
	if !models.Contains(s.recipients, addr) {
		s.recipients = append(s.recipients, addr)
	}
	return nil
}

func (s *session) Data(r io.Reader) error {
	defer s.Reset()

	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	content, err := models.ParseContent(raw)
	if err != nil {
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}
	}
	content.Header = s.received(id, content.Header)

	mail := models.NewMailBuilder().
		WithID(id).
		WithContent(content).
		WithRemoteAddr(s.remote).
		Build()
	mail.Sender = s.sender
	mail.Recipients = append([]models.Address(nil), s.recipients...)

	ctx := logging.WithMailID(context.Background(), id)
	if _, err := s.backend.submitter.Submit(ctx, mail); err != nil {
		s.backend.logger.ErrorwCtx(ctx, "Failed to accept mail", "remote_addr", s.remote, "error", err)
		if apperrors.IsValidation(err) {
			return &smtp.SMTPError{
				Code:         554,
				EnhancedCode: smtp.EnhancedCode{5, 6, 0},
				Message:      apperrors.Message(err),
			}
		}
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary failure, try again later",
		}
	}

	s.backend.logger.InfowCtx(ctx, "Mail accepted",
		"remote_addr", s.remote,
		"sender", mail.SenderString(),
		"recipients", len(mail.Recipients),
		"size", len(raw),
	)
	return nil
}

// received prepends the trace header for this hop.
func (s *session) received(id string, header textproto.Header) textproto.Header {
	helo := s.conn.Hostname()
	if helo == "" {
		helo = "unknown"
	}
	value := fmt.Sprintf("from %s (%s) by %s with ESMTP id %s; %s",
		helo, s.remote, s.backend.domain, id, time.Now().Format(time.RFC1123Z))

	out := header.Copy()
	out.Add("Received", value)
	return out
}

func (s *session) Reset() {
	s.sender = nil
	s.recipients = nil
}

func (s *session) Logout() error {
	return nil
}
