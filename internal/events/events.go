package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signlearn/apiserver/types"
	"go.uber.org/zap"
)

// Channels carrying auth events.
const (
	ChannelUserRegistered = "user.registered"
	ChannelPasswordReset  = "auth.password-reset"
)

// UserRegistered is published after a successful registration.
type UserRegistered struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PasswordResetRequested carries the raw reset token to the mail worker.
type PasswordResetRequested struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Broker is the publishing half of mq.MQ.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Publisher turns auth events into queue messages keyed by user id.
type Publisher struct {
	broker Broker
	logger *zap.Logger
}

func NewPublisher(broker Broker, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{broker: broker, logger: logger}
}

func (p *Publisher) UserRegistered(ctx context.Context, user types.User) error {
	return p.publish(ctx, ChannelUserRegistered, user.ID, UserRegistered{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		CreatedAt: user.CreatedAt,
	})
}

func (p *Publisher) PasswordResetRequested(ctx context.Context, user types.User, rawToken string, expires time.Time) error {
	return p.publish(ctx, ChannelPasswordReset, user.ID, PasswordResetRequested{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Token:     rawToken,
		ExpiresAt: expires,
	})
}

func (p *Publisher) publish(ctx context.Context, channel, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}
	id, err := p.broker.Publish(ctx, channel, data, map[string]string{"key": key})
	if err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	p.logger.Debug("event published", zap.String("channel", channel), zap.String("message_id", id))
	return nil
}
