// Package media_api is the upload path's interface to transcription.
package media_api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/certify/cmd/web/handlers/common"
	"thirdcoast.systems/certify/internal/db"
	"thirdcoast.systems/certify/internal/runner"
)

type enqueueResponse struct {
	MediaID   string `json:"mediaId"`
	JobKey    string `json:"jobKey"`
	Status    string `json:"status"`
	State     string `json:"state,omitempty"`
	Duplicate bool   `json:"duplicate"`
	Deferred  bool   `json:"deferred,omitempty"`
}

type createRequest struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	SourceKey        string `json:"sourceKey"`
	SourceName       string `json:"sourceName"`
	WantsDescription bool   `json:"wantsDescription"`
}

// HandleCreate registers an uploaded media item and queues its
// transcription.
func HandleCreate(media db.MediaStore, enq *runner.Enqueuer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createRequest
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid request body")
		}
		req.ID = strings.TrimSpace(req.ID)
		req.SourceKey = strings.TrimSpace(req.SourceKey)
		if req.ID == "" || req.SourceKey == "" {
			return common.ErrBadRequest("id and sourceKey are required")
		}
		if !common.ValidMediaID(req.ID) {
			return common.ErrBadRequest("invalid id")
		}

		ctx := c.Request().Context()
		_, err := media.CreateMedia(ctx, db.CreateMediaParams{
			ID:               req.ID,
			Title:            req.Title,
			SourceKey:        req.SourceKey,
			SourceName:       req.SourceName,
			WantsDescription: req.WantsDescription,
		})
		if errors.Is(err, db.ErrMediaExists) {
			return common.ErrConflict("media already exists")
		}
		if err != nil {
			slog.Error("failed to create media", "media_id", req.ID, "error", err)
			return common.ErrInternal("failed to create media")
		}

		return respond(c, req.ID, http.StatusCreated, func(ctx context.Context) (runner.EnqueueOutcome, error) {
			return enq.Add(ctx, req.ID)
		})
	}
}

// HandleEnqueue queues transcription for an existing media item.
func HandleEnqueue(enq *runner.Enqueuer) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := common.RequireMediaIDParam(c, "id")
		if err != nil {
			return err
		}
		return respond(c, id, http.StatusOK, func(ctx context.Context) (runner.EnqueueOutcome, error) {
			return enq.Add(ctx, id)
		})
	}
}

// HandleRetry re-queues a failed or stuck-pending transcription.
func HandleRetry(enq *runner.Enqueuer) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := common.RequireMediaIDParam(c, "id")
		if err != nil {
			return err
		}
		return respond(c, id, http.StatusOK, func(ctx context.Context) (runner.EnqueueOutcome, error) {
			return enq.Retry(ctx, id)
		})
	}
}

func respond(c echo.Context, id string, okStatus int, fn func(context.Context) (runner.EnqueueOutcome, error)) error {
	out, err := fn(c.Request().Context())
	switch {
	case errors.Is(err, db.ErrMediaNotFound):
		return common.ErrNotFound("media not found")
	case errors.Is(err, runner.ErrNoSource):
		return common.ErrUnprocessable(err.Error())
	case errors.Is(err, runner.ErrNotRetryable):
		return common.ErrConflict(err.Error())
	case err != nil:
		slog.Error("failed to enqueue transcription", "media_id", id, "error", err)
		return common.ErrInternal("failed to enqueue transcription")
	}

	resp := enqueueResponse{
		MediaID:   out.MediaID,
		JobKey:    out.JobKey,
		Status:    string(out.Status()),
		State:     string(out.State),
		Duplicate: out.Duplicate,
		Deferred:  out.Deferred,
	}
	if out.Deferred {
		return c.JSON(http.StatusAccepted, resp)
	}
	return c.JSON(okStatus, resp)
}
