package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"remindbot/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (default)",
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, _ []string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}
	if err := a.Start(cmd.Context()); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, app.StopFatalError)
		return fmt.Errorf("fatal start: %w", err)
	}
	// Not running under systemd is not an error.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	var reason app.StopReason
	select {
	case s := <-sigs:
		reason = app.StopSIGTERM
		if s == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	stopErr := a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return errors.Join(err, stopErr)
		}
	}
	return stopErr
}
