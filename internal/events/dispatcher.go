package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/signlearn/apiserver/internal/mailer"
	"github.com/signlearn/apiserver/internal/mq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Subscriber is the consuming half of mq.MQ.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Dispatcher consumes auth events and sends the matching emails.
type Dispatcher struct {
	mailer  mailer.Mailer
	baseURL string
	logger  *zap.Logger
}

// NewDispatcher builds a Dispatcher. baseURL is the frontend origin used in
// reset links.
func NewDispatcher(m mailer.Mailer, baseURL string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{mailer: m, baseURL: baseURL, logger: logger}
}

// Run subscribes to every auth channel and blocks until ctx is done or a
// subscription fails.
func (d *Dispatcher) Run(ctx context.Context, sub Subscriber) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sub.Subscribe(ctx, ChannelUserRegistered, d.HandleUserRegistered)
	})
	g.Go(func() error {
		return sub.Subscribe(ctx, ChannelPasswordReset, d.HandlePasswordReset)
	})
	return g.Wait()
}

func (d *Dispatcher) HandleUserRegistered(ctx context.Context, msg mq.Message) error {
	var event UserRegistered
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// A malformed payload will never parse; drop it instead of redelivering.
		d.logger.Warn("dropping malformed event", zap.String("channel", ChannelUserRegistered), zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	name := event.FirstName
	if name == "" {
		name = event.Username
	}
	body, err := mailer.Render(mailer.TemplateWelcome, map[string]string{"Name": name})
	if err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, event.Email, "Welcome to SignLearn", body); err != nil {
		return fmt.Errorf("send welcome mail: %w", err)
	}
	d.logger.Info("welcome mail sent", zap.String("user_id", event.UserID))
	return nil
}

func (d *Dispatcher) HandlePasswordReset(ctx context.Context, msg mq.Message) error {
	var event PasswordResetRequested
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		d.logger.Warn("dropping malformed event", zap.String("channel", ChannelPasswordReset), zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	link := d.baseURL + "/reset-password?token=" + url.QueryEscape(event.Token)
	body, err := mailer.Render(mailer.TemplatePasswordReset, map[string]any{
		"Name":      event.Username,
		"Link":      link,
		"ExpiresAt": event.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
	})
	if err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, event.Email, "Reset your SignLearn password", body); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	d.logger.Info("reset mail sent", zap.String("user_id", event.UserID))
	return nil
}
