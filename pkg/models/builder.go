package models

import (
	"time"

	"github.com/emersion/go-message/textproto"
)

type MailBuilder struct {
	mail *Mail
}

func NewMailBuilder() *MailBuilder {
	return &MailBuilder{
		mail: &Mail{
			Recipients: []Address{},
		},
	}
}

func (b *MailBuilder) WithID(id string) *MailBuilder {
	b.mail.ID = id
	return b
}

func (b *MailBuilder) WithSender(sender string) *MailBuilder {
	if sender == "" || sender == "<>" {
		b.mail.Sender = nil
		return b
	}
	addr := MustParseAddress(sender)
	b.mail.Sender = &addr
	return b
}

func (b *MailBuilder) WithRecipients(recipients ...string) *MailBuilder {
	for _, r := range recipients {
		b.mail.Recipients = append(b.mail.Recipients, MustParseAddress(r))
	}
	return b
}

func (b *MailBuilder) WithContent(content *Content) *MailBuilder {
	b.mail.Content = content
	return b
}

// WithText builds a minimal single-part text message.
func (b *MailBuilder) WithText(subject, body string) *MailBuilder {
	var h textproto.Header
	h.Set("Subject", subject)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	b.mail.Content = NewContent(h, []byte(body))
	return b
}

func (b *MailBuilder) WithState(state string) *MailBuilder {
	b.mail.State = state
	return b
}

func (b *MailBuilder) WithAttribute(name string, value interface{}) *MailBuilder {
	b.mail.Attributes.Set(name, value)
	return b
}

func (b *MailBuilder) WithRemoteAddr(addr string) *MailBuilder {
	b.mail.RemoteAddr = addr
	return b
}

func (b *MailBuilder) Build() *Mail {
	if b.mail.ReceivedAt.IsZero() {
		b.mail.ReceivedAt = time.Now()
	}
	b.mail.LastUpdated = b.mail.ReceivedAt
	return b.mail
}
