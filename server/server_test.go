package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eringen/inlineimages"
)

type fakeRunner struct {
	calls atomic.Int32
	err   error
}

func (r *fakeRunner) Run(ctx context.Context) (inlineimages.Report, error) {
	r.calls.Add(1)
	now := time.Now()
	return inlineimages.Report{
		RunID:    "run-1",
		Started:  now,
		Finished: now.Add(time.Second),
		Replaced: 3,
		Failed:   1,
		Saved:    2,
	}, r.err
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *inlineimages.Store) {
	t.Helper()
	store, err := inlineimages.NewStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	store.Save(ctx, &inlineimages.ContentRecord{
		ID:      "hello",
		Type:    "post",
		Owner:   "wordpress",
		Content: `<p>Hi</p><span class="inline-image-wrapper" style="x"></span>`,
		Auxiliary: map[string]any{
			"note": "<b>",
		},
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{StaticDir: t.TempDir()}
	return New(cfg, store, append([]Option{WithLogger(logger)}, opts...)...), store
}

func do(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// postWithToken picks up a CSRF cookie from the index page and sends it back
// with a POST to target.
func postWithToken(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	page := do(s, http.MethodGet, "/")
	var cookie *http.Cookie
	for _, ck := range page.Result().Cookies() {
		if ck.Name == "_csrf" {
			cookie = ck
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("index page did not set a _csrf cookie")
	}
	req := httptest.NewRequest(http.MethodPost, target, nil)
	req.AddCookie(&http.Cookie{Name: "_csrf", Value: cookie.Value})
	req.Header.Set("X-CSRF-Token", cookie.Value)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestIndexListsRecords(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `href="/records/hello/"`) {
		t.Errorf("record link missing:\n%s", body)
	}
	if !strings.Contains(body, "<td>1</td>") {
		t.Errorf("image count missing:\n%s", body)
	}
	if rec.Header().Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
}

func TestRecordPage(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/records/hello/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<article><p>Hi</p><span class="inline-image-wrapper"`) {
		t.Errorf("content not rendered:\n%s", body)
	}
	if !strings.Contains(body, "&lt;b&gt;") {
		t.Errorf("auxiliary JSON not shown escaped:\n%s", body)
	}
}

func TestRecordRedirectsToTrailingSlash(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/records/hello")
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/records/hello/" {
		t.Errorf("Location = %q", loc)
	}
}

func TestMissingRecord(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/records/nope/")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Not found") {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	rec = do(s, http.MethodGet, "/api/records/nope")
	if rec.Code != http.StatusNotFound || strings.Contains(rec.Body.String(), "<html") {
		t.Errorf("API 404 should be JSON: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRecordJSON(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/api/records/hello")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got inlineimages.ContentRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "hello" || got.Auxiliary["note"] != "<b>" {
		t.Errorf("record = %+v", got)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
}

func TestStaticDerivatives(t *testing.T) {
	s, _ := newTestServer(t)
	dir := filepath.Join(s.Config.StaticDir, "abc")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "photo-400.jpg"), []byte("jpeg"), 0o644)

	rec := do(s, http.MethodGet, "/static/abc/photo-400.jpg")
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=31536000, immutable" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestProcessEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(t, WithRunner(runner))

	rec := postWithToken(t, s, "/api/process")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp processResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "run-1" || resp.Replaced != 3 || resp.Failed != 1 || resp.Saved != 2 || resp.Elapsed != "1s" {
		t.Errorf("response = %+v", resp)
	}
	if runner.calls.Load() != 1 {
		t.Errorf("runner called %d times", runner.calls.Load())
	}

	runner.err = errors.New("source down")
	rec = postWithToken(t, s, "/api/process")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "source down") {
		t.Errorf("failed run: %d %s", rec.Code, rec.Body.String())
	}
}

func TestProcessDisabledWithoutRunner(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodPost, "/api/process")
	if rec.Code == http.StatusOK {
		t.Errorf("process endpoint should not exist without a runner")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "preview_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(2)

	s, _ := newTestServer(t, WithGatherer(reg))
	rec := do(s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "preview_test_total 2") {
		t.Errorf("metric missing:\n%s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestProcessRequiresCSRFToken(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(t, WithRunner(runner))

	rec := do(s, http.MethodPost, "/api/process")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status without token = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/process", nil)
	req.AddCookie(&http.Cookie{Name: "_csrf", Value: "cookie-token"})
	req.Header.Set("X-CSRF-Token", "other-token")
	rec = httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status with mismatched token = %d, want 403", rec.Code)
	}
	if runner.calls.Load() != 0 {
		t.Errorf("runner called %d times without a valid token", runner.calls.Load())
	}

	page := do(s, http.MethodGet, "/")
	if !strings.Contains(page.Body.String(), `<form method="post" action="/api/process"><input type="hidden" name="_csrf" value="`) {
		t.Errorf("index page has no process form:\n%s", page.Body.String())
	}
}

func TestIndexHasNoProcessFormWithoutRunner(t *testing.T) {
	s, _ := newTestServer(t)
	page := do(s, http.MethodGet, "/")
	if strings.Contains(page.Body.String(), "<form") {
		t.Errorf("process form shown without a runner")
	}
}

func TestRenderFailureAnswersWithErrorPage(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/broken/", nil)
	rec := httptest.NewRecorder()
	c := s.Echo.NewContext(req, rec)

	broken := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		io.WriteString(w, "<p>partial")
		return errors.New("template exploded")
	})
	err := s.render(c, http.StatusOK, broken)
	if err == nil {
		t.Fatalf("render should return the component error")
	}
	if c.Response().Committed {
		t.Fatalf("failed render committed the response")
	}
	s.httpErrorHandler(err, c)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Server error") || strings.Contains(body, "partial") {
		t.Errorf("body = %s", body)
	}
}
