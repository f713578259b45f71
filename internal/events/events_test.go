package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/signlearn/apiserver/internal/mq"
	"github.com/signlearn/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	data    []byte
	attrs   map[string]string
}

type fakeBroker struct {
	msgs []published
	err  error
}

func (b *fakeBroker) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.msgs = append(b.msgs, published{channel: channel, data: data, attrs: attrs})
	return "msg-1", nil
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func TestPublisher_PasswordResetRequested(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, nil)
	expires := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	err := p.PasswordResetRequested(context.Background(), types.User{ID: "u1", Username: "alice", Email: "alice@x.com"}, "raw", expires)
	require.NoError(t, err)
	require.Len(t, broker.msgs, 1)

	msg := broker.msgs[0]
	assert.Equal(t, ChannelPasswordReset, msg.channel)
	assert.Equal(t, "u1", msg.attrs["key"])

	var event PasswordResetRequested
	require.NoError(t, json.Unmarshal(msg.data, &event))
	assert.Equal(t, "raw", event.Token)
	assert.Equal(t, expires, event.ExpiresAt)
}

func TestPublisher_WrapsBrokerError(t *testing.T) {
	p := NewPublisher(&fakeBroker{err: errors.New("down")}, nil)
	err := p.UserRegistered(context.Background(), types.User{ID: "u1"})
	assert.ErrorContains(t, err, "publish user.registered")
}

func TestDispatcher_RoundTrip(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, nil)
	mail := &fakeMailer{}
	d := NewDispatcher(mail, "http://app.local", nil)
	ctx := context.Background()

	user := types.User{ID: "u1", Username: "alice", Email: "alice@x.com", FirstName: "Alice"}
	require.NoError(t, p.UserRegistered(ctx, user))
	require.NoError(t, p.PasswordResetRequested(ctx, user, "a b", time.Now()))

	require.NoError(t, d.HandleUserRegistered(ctx, mq.Message{ID: "1", Data: broker.msgs[0].data}))
	require.NoError(t, d.HandlePasswordReset(ctx, mq.Message{ID: "2", Data: broker.msgs[1].data}))

	require.Len(t, mail.sent, 2)
	assert.Equal(t, "alice@x.com", mail.sent[0].to)
	assert.Contains(t, mail.sent[0].body, "Hi Alice")
	assert.Contains(t, mail.sent[1].body, "http://app.local/reset-password?token=a+b")
}

func TestDispatcher_DropsMalformedAndRetriesMailFailures(t *testing.T) {
	mail := &fakeMailer{err: errors.New("smtp down")}
	d := NewDispatcher(mail, "http://app.local", nil)
	ctx := context.Background()

	assert.NoError(t, d.HandlePasswordReset(ctx, mq.Message{Data: []byte("{")}))

	data, err := json.Marshal(UserRegistered{UserID: "u1", Email: "a@x.com"})
	require.NoError(t, err)
	assert.Error(t, d.HandleUserRegistered(ctx, mq.Message{Data: data}))
}
