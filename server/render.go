package server

import (
	"bytes"
	"net/http"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
)

// render buffers cmp and writes it with status code. A component that fails
// leaves the response uncommitted so the error handler can still answer.
func (s *Server) render(c echo.Context, code int, cmp templ.Component) error {
	var buf bytes.Buffer
	if err := cmp.Render(c.Request().Context(), &buf); err != nil {
		s.logger.Error("template render failed", "uri", c.Request().RequestURI, "status", code, "error", err)
		return err
	}
	return c.HTMLBlob(code, buf.Bytes())
}

func (s *Server) renderOK(c echo.Context, cmp templ.Component) error {
	return s.render(c, http.StatusOK, cmp)
}
