package mailets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"mailflow/internal/constants"
	"mailflow/internal/engine"
	"mailflow/internal/logger"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

const AttrBounceOf = "mailflow.bounce-of"

// bounce notifies the sender that the mail could not be delivered to the
// matched recipients. The notice is a multipart/report submitted as a new
// mail with a null sender, so it can never bounce itself.
type bounce struct {
	submitter   Submitter
	postmaster  string
	target      string
	text        string
	passThrough bool
	logger      logger.Logger
}

func newBounce(cfg engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	if deps.Submitter == nil {
		return nil, fmt.Errorf("Bounce requires a submitter")
	}
	postmaster := cfg.Settings.String("postmaster", deps.Postmaster)
	if postmaster == "" {
		return nil, fmt.Errorf("Bounce requires engine.postmaster or setting %q", "postmaster")
	}
	if _, err := models.ParseAddress(postmaster); err != nil {
		return nil, fmt.Errorf("invalid postmaster: %w", err)
	}
	passThrough, err := cfg.Settings.Bool("pass_through", false)
	if err != nil {
		return nil, err
	}

	return &bounce{
		submitter:   deps.Submitter,
		postmaster:  postmaster,
		target:      cfg.Settings.String("processor", constants.StateRoot),
		text:        cfg.Settings.String("message", "Your message could not be delivered to the following recipients."),
		passThrough: passThrough,
		logger:      deps.Logger.Named("mailet.bounce"),
	}, nil
}

func (m *bounce) Targets() []string {
	return []string{m.target}
}

func (m *bounce) Service(ctx context.Context, original *models.Mail) error {
	defer finish(original, m.passThrough)

	if !original.HasSender() {
		m.logger.InfowCtx(ctx, "Not bouncing mail with null sender")
		return nil
	}

	content, err := m.report(original)
	if err != nil {
		return fmt.Errorf("building bounce: %w", err)
	}

	notice := models.NewMailBuilder().
		WithSender("<>").
		WithRecipients(original.Sender.String()).
		WithContent(content).
		WithState(m.target).
		WithAttribute(AttrBounceOf, original.ID).
		Build()

	id, err := m.submitter.Submit(ctx, notice)
	if err != nil {
		metrics.IncDelivery("Bounce", "failure")
		return fmt.Errorf("submitting bounce: %w", err)
	}

	metrics.IncDelivery("Bounce", "success")
	m.logger.InfowCtx(ctx, "Bounce submitted", "bounce_id", id, "recipients", len(original.Recipients))
	return nil
}

func (m *bounce) report(original *models.Mail) (*models.Content, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: "Mail Delivery System", Address: m.postmaster}})
	h.SetAddressList("To", []*mail.Address{{Address: original.Sender.String()}})
	subject := "Undelivered Mail Returned to Sender"
	if original.Content != nil && original.Content.Subject() != "" {
		subject += ": " + original.Content.Subject()
	}
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.SetContentType("multipart/report", map[string]string{"report-type": "delivery-status"})

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, err
	}

	recipients := models.AddressStrings(original.Recipients)

	var human strings.Builder
	human.WriteString(m.text + "\r\n\r\n")
	for _, r := range recipients {
		human.WriteString("  " + r + "\r\n")
	}
	if original.ErrorMessage != "" {
		human.WriteString("\r\nReason: " + original.ErrorMessage + "\r\n")
	}
	if err := writePart(w, "text/plain", map[string]string{"charset": "utf-8"}, func(pw io.Writer) error {
		_, err := io.WriteString(pw, human.String())
		return err
	}); err != nil {
		return nil, err
	}

	if err := writePart(w, "message/delivery-status", nil, func(pw io.Writer) error {
		var status strings.Builder
		status.WriteString("Reporting-MTA: dns; " + domainOf(m.postmaster) + "\r\n")
		status.WriteString("X-Mailflow-Mail-Id: " + original.ID + "\r\n")
		for _, r := range recipients {
			status.WriteString("\r\nFinal-Recipient: rfc822; " + r + "\r\n")
			status.WriteString("Action: failed\r\nStatus: 5.0.0\r\n")
			if original.ErrorMessage != "" {
				status.WriteString("Diagnostic-Code: X-Mailflow; " + oneLine(original.ErrorMessage) + "\r\n")
			}
		}
		_, err := io.WriteString(pw, status.String())
		return err
	}); err != nil {
		return nil, err
	}

	if original.Content != nil {
		if err := writePart(w, "text/rfc822-headers", nil, func(pw io.Writer) error {
			return textproto.WriteHeader(pw, original.Content.Header)
		}); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return models.ParseContent(buf.Bytes())
}

func writePart(w *message.Writer, contentType string, params map[string]string, body func(io.Writer) error) error {
	var h message.Header
	h.SetContentType(contentType, params)
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if err := body(pw); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}

func domainOf(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 {
		return address[at+1:]
	}
	return address
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
