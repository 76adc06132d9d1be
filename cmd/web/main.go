package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"thirdcoast.systems/certify/cmd/web/internal/web"
	"thirdcoast.systems/certify/internal/application"
	"thirdcoast.systems/certify/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	application.InitLogger(*conf)

	slog.Info("Starting web service")

	svc, err := application.NewServices(ctx, *conf)
	if err != nil {
		slog.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("failed to close services", "error", err)
		}
	}()

	e, err := web.NewWebserver(web.Deps{
		Media:             svc.Media,
		Queue:             svc.Queue,
		Runner:            svc.Runner,
		CronSecret:        conf.CronSecret,
		AdminAPIToken:     conf.AdminAPIToken,
		RunnerMaxDuration: conf.RunnerMaxDuration,
		RunnerGraceWindow: conf.RunnerGraceWindow,
		BaseContext:       ctx,
	})
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	// Shutdown waits for in-flight handlers, including an interrupted runner
	// finalizing its job, so services are closed only after it returns.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Warn("webserver shutdown incomplete", "error", err)
		}
	}()

	slog.Info("Listening", "addr", addr)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
}
