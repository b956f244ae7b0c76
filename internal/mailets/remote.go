package mailets

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-smtp"

	"mailflow/internal/config"
	"mailflow/internal/engine"
	"mailflow/internal/logger"
	"mailflow/pkg/circuitbreaker"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
	"mailflow/pkg/retry"
)

// SMTPTransport relays mail to a smarthost.
type SMTPTransport struct {
	addr     string
	helo     string
	startTLS bool
	timeout  time.Duration
	cb       *circuitbreaker.Wrapper
}

func NewSMTPTransport(cfg config.DeliveryConfig, breaker config.CircuitBreakerConfig) *SMTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &SMTPTransport{
		addr:     cfg.Smarthost,
		helo:     cfg.HeloName,
		startTLS: cfg.StartTLS,
		timeout:  timeout,
		cb:       circuitbreaker.FromOptions("smtp-relay", breaker.Options()),
	}
}

// IsPermanent reports whether the relay refused the mail with a 5xx reply.
// Connection problems and 4xx replies are temporary.
func IsPermanent(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}
	return false
}

func (t *SMTPTransport) Send(ctx context.Context, from string, to []string, data []byte) error {
	_, err := circuitbreaker.Execute(ctx, t.cb, func() (struct{}, error) {
		return struct{}{}, t.send(ctx, from, to, data)
	})
	return err
}

func (t *SMTPTransport) send(ctx context.Context, from string, to []string, data []byte) error {
	var (
		c   *smtp.Client
		err error
	)
	if t.startTLS {
		c, err = smtp.DialStartTLS(t.addr, &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		c, err = smtp.Dial(t.addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}
	defer c.Close()

	c.CommandTimeout = t.timeout
	c.SubmissionTimeout = t.timeout

	// Abort the session when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if t.helo != "" {
		if err := c.Hello(t.helo); err != nil {
			return fmt.Errorf("HELO rejected: %w", err)
		}
	}
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	_ = c.Quit()
	return nil
}

type remoteDelivery struct {
	transport   Transport
	policy      retry.Policy
	passThrough bool
	logger      logger.Logger
}

// newRemoteDelivery relays the mail to the smarthost, retrying temporary
// failures. Recipients are removed once the relay accepted the mail.
func newRemoteDelivery(cfg engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("RemoteDelivery requires delivery.smarthost")
	}

	policy := deps.Retry
	n, err := cfg.Settings.Int("max_attempts", 0)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		policy.MaxAttempts = n
	}
	passThrough, err := cfg.Settings.Bool("pass_through", false)
	if err != nil {
		return nil, err
	}

	return &remoteDelivery{
		transport:   deps.Transport,
		policy:      policy,
		passThrough: passThrough,
		logger:      deps.Logger.Named("mailet.remote"),
	}, nil
}

func (m *remoteDelivery) Service(ctx context.Context, mail *models.Mail) error {
	if mail.Content == nil {
		return fmt.Errorf("mail %s has no content", mail.ID)
	}

	from := ""
	if mail.HasSender() {
		from = mail.Sender.String()
	}
	to := models.AddressStrings(mail.Recipients)
	data := mail.Content.Bytes()

	err := retry.RetryWithCallback(ctx, m.policy, func() error {
		err := m.transport.Send(ctx, from, to, data)
		if err != nil && IsPermanent(err) {
			return retry.NewFatalError(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		m.logger.WarnwCtx(ctx, "Relay attempt failed, retrying",
			"attempt", attempt,
			"next_retry_in", next.String(),
			"error", err,
		)
	})
	if err != nil {
		metrics.IncDelivery("RemoteDelivery", "failure")
		return fmt.Errorf("remote delivery: %w", err)
	}

	metrics.IncDelivery("RemoteDelivery", "success")
	m.logger.InfowCtx(ctx, "Mail relayed", "recipients", len(to))

	mail.Recipients = []models.Address{}
	finish(mail, m.passThrough)
	return nil
}
