package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/inlineimages"
	"github.com/eringen/inlineimages/views"
)

func handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleIndex(c echo.Context) error {
	recs, err := s.store.Records(c.Request().Context())
	if err != nil {
		return err
	}
	summaries := make([]views.RecordSummary, 0, len(recs))
	for _, r := range recs {
		summaries = append(summaries, views.RecordSummary{
			ID:        r.ID,
			Type:      r.Type,
			Owner:     r.Owner,
			UpdatedAt: formatTime(r.UpdatedAt),
			Images:    views.CountImages(r.Content),
		})
	}
	token := ""
	if s.runner != nil {
		token = csrfToken(c)
	}
	return s.renderOK(c, views.RecordList(summaries, token))
}

func (s *Server) handleRecord(c echo.Context) error {
	rec, err := s.store.Record(c.Request().Context(), c.Param("id"))
	if errors.Is(err, inlineimages.ErrNotFound) {
		return s.render(c, http.StatusNotFound, views.NotFound())
	}
	if err != nil {
		return err
	}
	detail := views.RecordDetail{
		ID:        rec.ID,
		Type:      rec.Type,
		Owner:     rec.Owner,
		UpdatedAt: formatTime(rec.UpdatedAt),
		Content:   rec.Content,
	}
	if rec.Auxiliary != nil {
		var b strings.Builder
		enc := json.NewEncoder(&b)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec.Auxiliary); err != nil {
			return err
		}
		detail.Auxiliary = strings.TrimSuffix(b.String(), "\n")
	}
	return s.renderOK(c, views.RecordPage(detail))
}

func (s *Server) handleRecordJSON(c echo.Context) error {
	rec, err := s.store.Record(c.Request().Context(), c.Param("id"))
	if errors.Is(err, inlineimages.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

type processResponse struct {
	RunID    string `json:"runId"`
	Records  int    `json:"records"`
	Replaced int    `json:"replaced"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Saved    int    `json:"saved"`
	Elapsed  string `json:"elapsed"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleProcess(c echo.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), s.Config.RunTimeout)
	defer cancel()
	report, err := s.runner.Run(ctx)

	resp := processResponse{
		RunID:    report.RunID,
		Records:  len(report.Records),
		Replaced: report.Replaced,
		Skipped:  report.Skipped,
		Failed:   report.Failed,
		Saved:    report.Saved,
		Elapsed:  report.Finished.Sub(report.Started).String(),
	}
	if err != nil {
		s.logger.Error("run failed", "run", report.RunID, "error", err)
		resp.Error = err.Error()
		return c.JSON(http.StatusInternalServerError, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he, ok := err.(*echo.HTTPError)
	if ok && he.Code == http.StatusNotFound && !isAPI(c) {
		_ = s.render(c, http.StatusNotFound, views.NotFound())
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 && !isAPI(c) {
		s.logger.Error("server error", "uri", c.Request().RequestURI, "error", err)
		_ = s.render(c, code, views.ServerError())
		return
	}
	s.Echo.DefaultHTTPErrorHandler(err, c)
}

func isAPI(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
