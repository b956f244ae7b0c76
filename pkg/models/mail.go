package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mail is the unit of work flowing through the processors.
type Mail struct {
	ID string
	// Sender is nil for the null reverse-path (bounces and other
	// non-bounceable system mail).
	Sender     *Address
	Recipients []Address
	Content    *Content
	// State names the processor to run next, or one of the reserved
	// states "ghost" and "error".
	State        string
	Attributes   Attributes
	ErrorMessage string

	RemoteAddr  string
	ReceivedAt  time.Time
	LastUpdated time.Time
}

type mailJSON struct {
	ID           string     `json:"id"`
	Sender       string     `json:"sender,omitempty"`
	Recipients   []string   `json:"recipients"`
	Content      []byte     `json:"content,omitempty"`
	State        string     `json:"state"`
	Attributes   Attributes `json:"attributes"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RemoteAddr   string     `json:"remote_addr,omitempty"`
	ReceivedAt   time.Time  `json:"received_at"`
	LastUpdated  time.Time  `json:"last_updated"`
}

func (m *Mail) MarshalJSON() ([]byte, error) {
	w := mailJSON{
		ID:           m.ID,
		Recipients:   AddressStrings(m.Recipients),
		State:        m.State,
		Attributes:   m.Attributes,
		ErrorMessage: m.ErrorMessage,
		RemoteAddr:   m.RemoteAddr,
		ReceivedAt:   m.ReceivedAt,
		LastUpdated:  m.LastUpdated,
	}
	if m.Sender != nil {
		w.Sender = m.Sender.String()
	}
	if m.Content != nil {
		w.Content = m.Content.Bytes()
	}
	return json.Marshal(w)
}

func (m *Mail) UnmarshalJSON(data []byte) error {
	var w mailJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	recipients, err := ParseAddresses(w.Recipients)
	if err != nil {
		return fmt.Errorf("invalid recipients: %w", err)
	}

	*m = Mail{
		ID:           w.ID,
		Recipients:   recipients,
		State:        w.State,
		Attributes:   w.Attributes,
		ErrorMessage: w.ErrorMessage,
		RemoteAddr:   w.RemoteAddr,
		ReceivedAt:   w.ReceivedAt,
		LastUpdated:  w.LastUpdated,
	}

	if w.Sender != "" {
		sender, err := ParseAddress(w.Sender)
		if err != nil {
			return fmt.Errorf("invalid sender: %w", err)
		}
		m.Sender = &sender
	}

	if len(w.Content) > 0 {
		content, err := ParseContent(w.Content)
		if err != nil {
			return err
		}
		m.Content = content
	}

	return nil
}

// Duplicate returns a deep copy of the mail carrying a new id.
func (m *Mail) Duplicate(id string) *Mail {
	dup := *m
	dup.ID = id
	if m.Sender != nil {
		sender := *m.Sender
		dup.Sender = &sender
	}
	dup.Recipients = append([]Address(nil), m.Recipients...)
	dup.Content = m.Content.Clone()
	dup.Attributes = m.Attributes.Clone()
	return &dup
}

func (m *Mail) HasSender() bool {
	return m.Sender != nil
}

func (m *Mail) SenderString() string {
	if m.Sender == nil {
		return "<>"
	}
	return m.Sender.String()
}

// Size is the size of the raw content, zero when the mail has none.
func (m *Mail) Size() int64 {
	if m.Content == nil {
		return 0
	}
	return m.Content.Size()
}

func (m *Mail) SetState(state string) {
	m.State = state
	m.LastUpdated = time.Now()
}
