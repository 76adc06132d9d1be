package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"thirdcoast.systems/certify/cmd/web/handlers/api/cron_api"
	"thirdcoast.systems/certify/cmd/web/handlers/api/job_api"
	"thirdcoast.systems/certify/cmd/web/handlers/api/media_api"
	"thirdcoast.systems/certify/cmd/web/handlers/common"
	"thirdcoast.systems/certify/internal/db"
	"thirdcoast.systems/certify/internal/jobqueue"
	"thirdcoast.systems/certify/internal/runner"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Media  db.MediaStore
	Queue  jobqueue.Queue
	Runner cron_api.Invoker

	CronSecret    string
	AdminAPIToken string

	RunnerMaxDuration time.Duration
	RunnerGraceWindow time.Duration

	// BaseContext is canceled when the process shuts down. Runner
	// invocations stop when it is. Defaults to context.Background.
	BaseContext context.Context
}

type Webserver struct {
	*echo.Echo
	deps     Deps
	enqueuer *runner.Enqueuer
}

func NewWebserver(deps Deps) (*Webserver, error) {
	if deps.Media == nil || deps.Queue == nil || deps.Runner == nil {
		return nil, errors.New("web: media, queue and runner are required")
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}

	webserver := &Webserver{
		Echo:     echo.New(),
		deps:     deps,
		enqueuer: runner.NewEnqueuer(deps.Media, deps.Queue),
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}

	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("64K"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))
	return nil
}

func (s *Webserver) registerRoutes() error {
	cronGroup := s.Group("/api/cron")
	cronGroup.Use(common.BearerAuth("cron", s.deps.CronSecret))
	trigger := cron_api.HandleTranscriptions(s.deps.Runner, s.deps.BaseContext, s.deps.RunnerMaxDuration, s.deps.RunnerGraceWindow)
	cronGroup.GET("/transcriptions", trigger)
	cronGroup.POST("/transcriptions", trigger)

	internalGroup := s.Group("/api/internal")
	internalGroup.Use(common.BearerAuth("internal", s.deps.AdminAPIToken))
	internalGroup.POST("/media", media_api.HandleCreate(s.deps.Media, s.enqueuer))
	internalGroup.POST("/media/:id/transcription", media_api.HandleEnqueue(s.enqueuer))
	internalGroup.POST("/media/:id/transcription/retry", media_api.HandleRetry(s.enqueuer))
	internalGroup.GET("/transcription-jobs", job_api.HandleCounts(s.deps.Queue))
	internalGroup.GET("/transcription-jobs/:id", job_api.HandleStatus(s.deps.Queue))

	// Health check
	s.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return nil
}
