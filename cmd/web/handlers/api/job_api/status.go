// Package job_api reports transcription queue state.
package job_api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/certify/cmd/web/handlers/common"
	"thirdcoast.systems/certify/internal/jobqueue"
)

// HandleStatus returns the queue status of a media item's transcription job.
func HandleStatus(queue jobqueue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := common.RequireMediaIDParam(c, "id")
		if err != nil {
			return err
		}

		st, err := queue.Status(c.Request().Context(), jobqueue.JobKey(id))
		if errors.Is(err, jobqueue.ErrNotFound) {
			return common.ErrNotFound("job not found")
		}
		if err != nil {
			slog.Error("failed to read job status", "media_id", id, "error", err)
			return common.ErrInternal("failed to read job status")
		}
		return c.JSON(http.StatusOK, st)
	}
}

// HandleCounts returns the number of jobs in each state.
func HandleCounts(queue jobqueue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		counts, err := queue.Counts(c.Request().Context())
		if err != nil {
			slog.Error("failed to read queue counts", "error", err)
			return common.ErrInternal("failed to read queue counts")
		}
		return c.JSON(http.StatusOK, counts)
	}
}
