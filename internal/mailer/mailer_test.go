package mailer

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/signlearn/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRender(t *testing.T) {
	body, err := Render(TemplatePasswordReset, map[string]string{
		"Name":      "alice",
		"Link":      "http://app/reset-password?token=abc",
		"ExpiresAt": "2026-01-01 10:00 UTC",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Hi alice")
	assert.Contains(t, body, "token=abc")

	_, err = Render("missing", nil)
	assert.Error(t, err)
}

func TestNewPicksBackend(t *testing.T) {
	assert.IsType(t, &LogMailer{}, New(config.MailConfig{}, zap.NewNop()))
	assert.IsType(t, &SMTPMailer{}, New(config.MailConfig{SMTPHost: "smtp.local", SMTPPort: 25}, nil))
}

func TestSMTPMailer_Send(t *testing.T) {
	m := NewSMTPMailer(config.MailConfig{
		SMTPHost: "smtp.local",
		SMTPPort: 2525,
		SMTPUser: "user",
		SMTPPass: "pass",
		From:     "no-reply@signlearn.local",
	})

	var gotAddr string
	var gotTo []string
	var gotMsg string
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.NotNil(t, a)
		return nil
	}

	require.NoError(t, m.Send(context.Background(), "alice@x.com", "Hello", "line1\nline2"))
	assert.Equal(t, "smtp.local:2525", gotAddr)
	assert.Equal(t, []string{"alice@x.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: no-reply@signlearn.local\r\n"))
	assert.Contains(t, gotMsg, "Subject: Hello\r\n")
	assert.Contains(t, gotMsg, "line1\r\nline2")

	assert.Error(t, m.Send(context.Background(), "alice@x.com\r\nBcc: eve@x.com", "Hello", "x"))
}
