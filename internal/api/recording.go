package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/session"
)

// StopResponse is returned by POST /recording/stop.
type StopResponse struct {
	Session *session.Metadata `json:"session"`
}

func (s *Server) initRecordingRoutes(g *echo.Group) {
	g.POST("/start", s.startRecording)
	g.POST("/stop", s.stopRecording)
	g.GET("/status", s.recordingStatus)
	g.GET("/levels", s.recordingLevels)
	g.POST("/restart/:pipeline", s.restartPipeline)
}

// startRecording handles POST /api/v1/recording/start
func (s *Server) startRecording(c echo.Context) error {
	if err := s.recorder.ManualStart(c.Request().Context()); err != nil {
		return s.handleError(c, err, "failed to start recording")
	}
	s.log.Info("recording started from API", logger.String("ip", c.RealIP()))
	return c.JSON(http.StatusAccepted, s.recorder.Status())
}

// stopRecording handles POST /api/v1/recording/stop. Finalizing files must
// not be cut short when the client disconnects.
func (s *Server) stopRecording(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), s.config.StopTimeout)
	defer cancel()

	meta, err := s.recorder.ManualStop(ctx)
	if err != nil {
		return s.handleError(c, err, "failed to stop recording")
	}
	s.log.Info("recording stopped from API",
		logger.String("session_id", meta.ID),
		logger.Float64("duration_secs", meta.DurationSecs))
	return c.JSON(http.StatusOK, StopResponse{Session: meta})
}

// recordingStatus handles GET /api/v1/recording/status
func (s *Server) recordingStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.recorder.Status())
}

// recordingLevels handles GET /api/v1/recording/levels
func (s *Server) recordingLevels(c echo.Context) error {
	return c.JSON(http.StatusOK, s.recorder.Levels())
}

// restartPipeline handles POST /api/v1/recording/restart/:pipeline
func (s *Server) restartPipeline(c echo.Context) error {
	pipeline := c.Param("pipeline")

	var err error
	switch pipeline {
	case "midi":
		err = s.recorder.RestartMIDI()
	case "audio":
		err = s.recorder.RestartAudio()
	case "video":
		ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
		defer cancel()
		err = s.recorder.RestartVideo(ctx)
	default:
		err = errors.Newf("unknown pipeline %q, expected midi, audio or video", pipeline).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	if err != nil {
		return s.handleError(c, err, "failed to restart "+pipeline)
	}
	return c.JSON(http.StatusOK, s.recorder.Status())
}
