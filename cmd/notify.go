/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/signlearn/apiserver/internal/events"
	"github.com/signlearn/apiserver/internal/mailer"
	"github.com/signlearn/apiserver/internal/mq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// notifyCmd consumes auth events and delivers the emails they call for.
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Run the notification worker",
	Long: `Consumes user.registered and auth.password-reset events from the
configured message queue and sends welcome and password-reset emails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("MQ_BACKEND is required for the notification worker")
		}
		defer func() { _ = queue.Close() }()

		dispatcher := events.NewDispatcher(mailer.New(cfg.Mail, logger), cfg.Mail.AppBaseURL, logger)
		logger.Info("notification worker started", zap.String("backend", cfg.MQ.Backend))
		if err := dispatcher.Run(ctx, queue); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}
