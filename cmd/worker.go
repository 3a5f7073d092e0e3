/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qurrota/apiserver/config"
	"github.com/qurrota/apiserver/internal/mq"
	"github.com/qurrota/apiserver/internal/notify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// workerCmd consumes the notification queue and sends the emails.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Send queued notification emails",
	Long: `Consumes notifications published by the API server when
NOTIFY_TRANSPORT is rabbitmq or pubsub, and delivers them over SMTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if cfg.Notify.Transport == config.NotifyDirect {
			return fmt.Errorf("NOTIFY_TRANSPORT is %q, nothing to consume", cfg.Notify.Transport)
		}
		if !cfg.Email.EmailEnabled() {
			log.Warn("EMAIL_USER or EMAIL_PASS not set, queued notifications will be skipped")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := mq.New(ctx, cfg.Notify.Transport, cfg)
		if err != nil {
			return fmt.Errorf("connect %s: %w", cfg.Notify.Transport, err)
		}
		defer func() { _ = backend.Close() }()

		mailer := notify.NewSMTPMailer(cfg.Email, cfg.Notify.SendTimeout)
		worker := notify.NewWorker(backend, cfg.Notify.Channel, mailer, cfg.Notify.SendTimeout, log)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("worker stopped", zap.Error(err))
			return err
		}
		log.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
