package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/preroll-recorder/internal/datastore"
	"github.com/tphakala/preroll-recorder/internal/errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// FavoriteRequest is the body of PUT /sessions/:id/favorite.
type FavoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// NotesRequest is the body of PUT /sessions/:id/notes.
type NotesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) initSessionRoutes(g *echo.Group) {
	g.GET("", s.listSessions)
	g.GET("/:id", s.getSession)
	g.PUT("/:id/favorite", s.setFavorite)
	g.PUT("/:id/notes", s.setNotes)
	g.DELETE("/:id", s.deleteSession)
}

func badRequest(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

func parseBoolParam(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("invalid %s value %q", name, raw)
	}
	return v, nil
}

func parseIntParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest("invalid %s value %q", name, raw)
	}
	return v, nil
}

// listSessions handles GET /api/v1/sessions
// Query: search, favorites, audio, midi, video, limit, offset.
func (s *Server) listSessions(c echo.Context) error {
	f := datastore.Filter{Search: c.QueryParam("search")}

	var err error
	for name, dst := range map[string]*bool{
		"favorites": &f.FavoritesOnly,
		"audio":     &f.HasAudio,
		"midi":      &f.HasMIDI,
		"video":     &f.HasVideo,
	} {
		if *dst, err = parseBoolParam(c, name); err != nil {
			return s.handleError(c, err, "invalid query")
		}
	}
	if f.Limit, err = parseIntParam(c, "limit", defaultPageSize); err != nil {
		return s.handleError(c, err, "invalid query")
	}
	f.Limit = min(f.Limit, maxPageSize)
	if f.Offset, err = parseIntParam(c, "offset", 0); err != nil {
		return s.handleError(c, err, "invalid query")
	}

	sessions, err := s.sessions.ListSessions(c.Request().Context(), f)
	if err != nil {
		return s.handleError(c, err, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSession handles GET /api/v1/sessions/:id
func (s *Server) getSession(c echo.Context) error {
	meta, err := s.sessions.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.handleError(c, err, "failed to get session")
	}
	return c.JSON(http.StatusOK, meta)
}

// setFavorite handles PUT /api/v1/sessions/:id/favorite
func (s *Server) setFavorite(c echo.Context) error {
	var req FavoriteRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, badRequest("invalid request body"), "invalid request")
	}
	if err := s.sessions.SetFavorite(c.Request().Context(), c.Param("id"), req.Favorite); err != nil {
		return s.handleError(c, err, "failed to update session")
	}
	return c.NoContent(http.StatusNoContent)
}

// setNotes handles PUT /api/v1/sessions/:id/notes
func (s *Server) setNotes(c echo.Context) error {
	var req NotesRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, badRequest("invalid request body"), "invalid request")
	}
	if err := s.sessions.SetNotes(c.Request().Context(), c.Param("id"), req.Notes); err != nil {
		return s.handleError(c, err, "failed to update session")
	}
	return c.NoContent(http.StatusNoContent)
}

// deleteSession handles DELETE /api/v1/sessions/:id. Only the index entry
// is removed; recorded files stay on disk.
func (s *Server) deleteSession(c echo.Context) error {
	if err := s.sessions.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return s.handleError(c, err, "failed to delete session")
	}
	return c.NoContent(http.StatusNoContent)
}
