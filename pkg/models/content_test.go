package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMail = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: html only\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Hello <b>world</b></p>\r\n" +
	"--XYZ--\r\n"

func TestParseContent(t *testing.T) {
	content, err := ParseContent([]byte(multipartMail))
	require.NoError(t, err)

	assert.Equal(t, "html only", content.Subject())
	assert.Equal(t, "bob@example.com", content.Header.Get("To"))
	assert.Contains(t, string(content.Body), "--XYZ")
	assert.Equal(t, int64(len(content.Bytes())), content.Size())
}

func TestTextBodyConvertsHTML(t *testing.T) {
	content, err := ParseContent([]byte(multipartMail))
	require.NoError(t, err)

	text, err := content.TextBody()
	require.NoError(t, err)
	assert.Contains(t, text, "Hello world")
	assert.NotContains(t, text, "<b>")
}

func TestTextBodyPlain(t *testing.T) {
	mail := NewMailBuilder().WithText("s", "just text").Build()

	text, err := mail.Content.TextBody()
	require.NoError(t, err)
	assert.Equal(t, "just text", text)
}

func TestCloneIsIndependent(t *testing.T) {
	content, err := ParseContent([]byte(multipartMail))
	require.NoError(t, err)

	clone := content.Clone()
	clone.Header.Set("Subject", "other")
	clone.Body[0] = 'X'

	assert.Equal(t, "html only", content.Subject())
	assert.Equal(t, byte('-'), content.Body[0])
}
