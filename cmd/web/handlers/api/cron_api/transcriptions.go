// Package cron_api exposes the scheduler-facing runner trigger.
package cron_api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/certify/internal/runner"
)

// Invoker runs one time-boxed drain of the transcription queue.
type Invoker interface {
	Run(ctx context.Context, maxDuration, grace time.Duration) (runner.Summary, error)
}

type response struct {
	Success        bool            `json:"success"`
	ProcessedCount int             `json:"processedCount"`
	Busy           bool            `json:"busy,omitempty"`
	Summary        *runner.Summary `json:"summary,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// HandleTranscriptions runs the runner for up to maxDuration (plus grace)
// and reports how many jobs it processed. A trigger that lands while a run
// is in progress succeeds with nothing processed. The run outlives the
// request but is canceled when base is, so shutdown interrupts it.
func HandleTranscriptions(inv Invoker, base context.Context, maxDuration, grace time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		// The scheduler hanging up must not cut a job off mid-flight; the
		// runner's own ceiling bounds the request.
		ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
		defer cancel()
		stop := context.AfterFunc(base, cancel)
		defer stop()

		summary, err := inv.Run(ctx, maxDuration, grace)
		if errors.Is(err, runner.ErrBusy) {
			slog.Info("transcription trigger skipped; a run is already in progress")
			return c.JSON(http.StatusOK, response{Success: true, Busy: true})
		}
		if err != nil {
			slog.Error("transcription run failed", "error", err)
			return c.JSON(http.StatusInternalServerError, response{Success: false, Error: err.Error()})
		}

		return c.JSON(http.StatusOK, response{
			Success:        true,
			ProcessedCount: summary.Processed,
			Summary:        &summary,
		})
	}
}
