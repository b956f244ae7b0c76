package models

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
	"github.com/k3a/html2text"
)

// Content is the header and raw body of a mail. The engine never looks
// inside; matchers and mailets do.
type Content struct {
	Header textproto.Header
	Body   []byte
}

func NewContent(header textproto.Header, body []byte) *Content {
	return &Content{Header: header, Body: body}
}

// ParseContent splits an RFC 5322 message into header and body.
func ParseContent(raw []byte) (*Content, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return &Content{Header: header, Body: body}, nil
}

func (c *Content) Bytes() []byte {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, c.Header); err != nil {
		return c.Body
	}
	buf.Write(c.Body)
	return buf.Bytes()
}

func (c *Content) Size() int64 {
	return int64(len(c.Bytes()))
}

func (c *Content) Clone() *Content {
	if c == nil {
		return nil
	}
	body := make([]byte, len(c.Body))
	copy(body, c.Body)
	return &Content{Header: c.Header.Copy(), Body: body}
}

func (c *Content) Subject() string {
	return c.Header.Get("Subject")
}

// Entity returns a MIME entity over a copy of the content.
func (c *Content) Entity() (*message.Entity, error) {
	entity, err := message.New(message.Header{Header: c.Header.Copy()}, bytes.NewReader(c.Body))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	return entity, nil
}

// TextBody returns the first text/plain part, or the first text/html part
// converted to plain text when the message has no plain part.
func (c *Content) TextBody() (string, error) {
	entity, err := c.Entity()
	if err != nil {
		return "", err
	}

	var plain, html *string
	if err := collectText(entity, &plain, &html); err != nil {
		return "", err
	}

	switch {
	case plain != nil:
		return *plain, nil
	case html != nil:
		return html2text.HTML2Text(*html), nil
	default:
		return "", nil
	}
}

func collectText(entity *message.Entity, plain, html **string) error {
	mediaType, _, _ := entity.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := entity.MultipartReader()
		if mr == nil {
			return nil
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("error reading multipart: %w", err)
			}
			if err := collectText(part, plain, html); err != nil {
				return err
			}
		}
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return nil
	}

	data, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("error reading entity body: %w", err)
	}
	s := string(data)

	if mediaType == "text/plain" && *plain == nil {
		*plain = &s
	}
	if mediaType == "text/html" && *html == nil {
		*html = &s
	}
	return nil
}
