package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reviewdeck/internal/engine"
	"github.com/reviewdeck/pkg/models"
)

// getState returns the full synchronized snapshot in one round trip.
func (s *Server) getState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.syncer.Snapshot())
}

// getStatus reports the channel connection.
func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.syncer.Channel().Stats())
}

func (s *Server) getAnalyses(c echo.Context) error {
	tracker := s.syncer.Analyses()
	switch c.QueryParam("status") {
	case "active":
		return c.JSON(http.StatusOK, tracker.Active())
	case "complete":
		return c.JSON(http.StatusOK, tracker.Completed())
	case "error":
		return c.JSON(http.StatusOK, tracker.Errored())
	case "":
		return c.JSON(http.StatusOK, map[string]any{
			"active":    tracker.Active(),
			"completed": tracker.Completed(),
			"errored":   tracker.Errored(),
		})
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status filter")
	}
}

func (s *Server) getAnalysisByID(c echo.Context) error {
	rec, ok := s.syncer.Analyses().Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
	}
	return c.JSON(http.StatusOK, rec)
}

type startAnalysisRequest struct {
	FilePath string                 `json:"file_path"`
	Content  string                 `json:"content"`
	Options  *models.AnalyzeOptions `json:"options,omitempty"`
}

func (s *Server) startAnalysis(c echo.Context) error {
	var req startAnalysisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.FilePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file_path is required")
	}

	if err := s.syncer.StartAnalysis(req.FilePath, req.Content, req.Options); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"file_path": req.FilePath})
}

func (s *Server) cancelAnalysis(c echo.Context) error {
	if err := s.syncer.CancelAnalysis(c.Param("id")); err != nil {
		// The record is already gone locally; report the emit failure.
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type suggestionStatusRequest struct {
	Status models.SuggestionStatus `json:"status"`
}

func (s *Server) setSuggestionStatus(c echo.Context) error {
	var req suggestionStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	switch req.Status {
	case models.SuggestionAccepted, models.SuggestionRejected, models.SuggestionApplied:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown suggestion status")
	}

	ok := s.syncer.SetSuggestionStatus(c.Request().Context(), c.Param("id"), c.Param("sid"), req.Status)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "suggestion not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getNotifications(c echo.Context) error {
	store := s.syncer.Notifications()
	return c.JSON(http.StatusOK, map[string]any{
		"notifications": store.List(),
		"unread_count":  store.UnreadCount(),
	})
}

func (s *Server) markNotificationRead(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.syncer.Notifications().Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	if err := s.syncer.MarkNotificationRead(id); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) markAllNotificationsRead(c echo.Context) error {
	if err := s.syncer.MarkAllNotificationsRead(); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getPresence(c echo.Context) error {
	tracker := s.syncer.Presence()
	return c.JSON(http.StatusOK, map[string]any{
		"presence":     tracker.ListPresence(),
		"typing":       tracker.TypingUsers(),
		"online_count": tracker.OnlineCount(),
	})
}

type presenceRequest struct {
	Status models.PresenceStatus `json:"status"`
}

func (s *Server) updatePresence(c echo.Context) error {
	var req presenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := s.syncer.UpdatePresence(req.Status); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type typingRequest struct {
	Context string `json:"context"`
	Active  bool   `json:"active"`
}

func (s *Server) setTyping(c echo.Context) error {
	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	var err error
	if req.Active {
		err = s.syncer.Channel().TypingStart(req.Context)
	} else {
		err = s.syncer.Channel().TypingStop(req.Context)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Engine passthroughs

func (s *Server) engineClient() (*engine.Client, error) {
	client := s.syncer.Engine()
	if client == nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "engine not configured")
	}
	return client, nil
}

func engineError(err error) error {
	var apiErr *engine.APIError
	if errors.As(err, &apiErr) {
		return echo.NewHTTPError(http.StatusBadGateway, apiErr.Message)
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

func (s *Server) getSuggestions(c echo.Context) error {
	client, err := s.engineClient()
	if err != nil {
		return err
	}

	path := c.QueryParam("file_path")
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file_path is required")
	}

	filters := models.SuggestionFilters{
		MinSeverity: models.SuggestionSeverity(c.QueryParam("min_severity")),
		Status:      models.SuggestionStatus(c.QueryParam("status")),
	}
	if t := c.QueryParam("type"); t != "" {
		filters.Types = []models.SuggestionType{models.SuggestionType(t)}
	}

	suggestions, err := client.GetSuggestions(c.Request().Context(), path, filters)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, suggestions)
}

func (s *Server) queryHistory(c echo.Context) error {
	client, err := s.engineClient()
	if err != nil {
		return err
	}

	var opts models.HistoryOptions
	if err := c.Bind(&opts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	entries, err := client.GetHistory(c.Request().Context(), opts)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) getStats(c echo.Context) error {
	client, err := s.engineClient()
	if err != nil {
		return err
	}

	period := c.QueryParam("period")
	if period == "" {
		period = "week"
	}

	report, err := client.GetStats(c.Request().Context(), period)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, report)
}
