// Command transcriber runs one time-boxed drain of the transcription queue
// and exits, for schedulers that exec a binary instead of calling the web
// trigger.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"thirdcoast.systems/certify/internal/application"
	"thirdcoast.systems/certify/internal/config"
	"thirdcoast.systems/certify/internal/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	application.InitLogger(*conf)

	slog.Info("Starting transcription runner")

	svc, err := application.NewServices(ctx, *conf)
	if err != nil {
		slog.Error("failed to initialize services", "error", err)
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("failed to close services", "error", err)
		}
	}()

	summary, err := svc.Runner.Run(ctx, conf.RunnerMaxDuration, conf.RunnerGraceWindow)
	if errors.Is(err, runner.ErrBusy) {
		slog.Info("runner already in progress")
		return 0
	}
	if err != nil {
		slog.Error("transcription run failed", "error", err)
		return 1
	}

	slog.Info("Transcription runner finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"stop_reason", summary.StopReason,
		"elapsed", summary.Elapsed,
	)
	return 0
}
