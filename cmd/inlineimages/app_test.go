package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eringen/inlineimages"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-content/uploads/photo.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "inlineimages dev\n" {
		t.Errorf("output = %q", out)
	}
}

func TestImportAndProcess(t *testing.T) {
	dir := t.TempDir()
	media := mediaServer(t)

	records := fmt.Sprintf(`[
  {"id": "1", "type": "post", "owner": "wordpress",
   "content": "<p>Intro</p><a href=\"%[1]s/wp-content/uploads/photo.png\"><img src=\"%[1]s/wp-content/uploads/photo-300x200.png\" alt=\"A photo\"></a>"},
  {"id": "2", "type": "attachment", "owner": "wordpress",
   "content": "<img src=\"%[1]s/wp-content/uploads/photo-300x200.png\">"}
]`, media.URL)
	recordsPath := filepath.Join(dir, "records.json")
	if err := os.WriteFile(recordsPath, []byte(records), 0o644); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(dir, "records.db")
	public := filepath.Join(dir, "public")

	out, err := execute(t, "import", recordsPath, "--db", db, "--log-level", "error")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 2 records") {
		t.Errorf("import output = %q", out)
	}

	out, err = execute(t, "process", "--db", db, "--log-level", "error",
		"--cache-dir", filepath.Join(dir, "cache"),
		"--public-dir", public,
		"--public-path", "/static")
	if err != nil {
		t.Fatalf("process: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1: saved") {
		t.Errorf("process output = %q", out)
	}
	if !strings.Contains(out, "1 records, 1 replaced, 0 skipped, 0 failed, 1 saved") {
		t.Errorf("summary missing: %q", out)
	}

	store, err := inlineimages.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	rec, err := store.Record(context.Background(), "1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	for _, want := range []string{`class="inline-image-wrapper"`, `srcset="/static/`, `alt="A photo"`, `<p>Intro</p>`} {
		if !strings.Contains(rec.Content, want) {
			t.Errorf("content missing %s:\n%s", want, rec.Content)
		}
	}
	if strings.Contains(rec.Content, "photo-300x200.png") {
		t.Errorf("size variant still referenced:\n%s", rec.Content)
	}

	untouched, err := store.Record(context.Background(), "2")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(untouched.Content, "inline-image-wrapper") {
		t.Errorf("record of another type was rewritten")
	}

	derivatives, _ := filepath.Glob(filepath.Join(public, "*", "photo-*.png"))
	if len(derivatives) == 0 {
		t.Errorf("no derivatives written under %s", public)
	}
}

func TestProcessRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "options.yaml")
	os.WriteFile(cfg, []byte("maxWidth: -1\n"), 0o644)

	_, err := execute(t, "process", "--db", filepath.Join(dir, "x.db"), "--log-level", "error", "--config", cfg,
		"--cache-dir", filepath.Join(dir, "cache"), "--public-dir", filepath.Join(dir, "public"))
	if !errors.Is(err, inlineimages.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"array", `[{"id":"a","type":"post","owner":"wordpress","content":""}]`, 1, false},
		{"empty", `[]`, 0, false},
		{"missing id", `[{"type":"post"}]`, 0, true},
		{"not json", `{`, 0, true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("r%d.json", i))
			os.WriteFile(path, []byte(tt.body), 0o644)
			recs, err := readRecords(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(recs) != tt.want {
				t.Errorf("got %d records, want %d", len(recs), tt.want)
			}
		})
	}
}

func TestProcessWithAlternateFormat(t *testing.T) {
	dir := t.TempDir()
	media := mediaServer(t)

	records := fmt.Sprintf(`[{"id": "1", "type": "page", "owner": "wordpress",
  "content": "<img src=\"%s/wp-content/uploads/photo-400x300.png\">"}]`, media.URL)
	recordsPath := filepath.Join(dir, "records.json")
	os.WriteFile(recordsPath, []byte(records), 0o644)
	cfg := filepath.Join(dir, "options.yaml")
	os.WriteFile(cfg, []byte("useAlternateFormat: true\nalternateFormat: webp\n"), 0o644)
	db := filepath.Join(dir, "records.db")
	public := filepath.Join(dir, "public")

	if _, err := execute(t, "import", recordsPath, "--db", db, "--log-level", "error"); err != nil {
		t.Fatalf("import: %v", err)
	}
	out, err := execute(t, "process", "--db", db, "--log-level", "error", "--config", cfg,
		"--cache-dir", filepath.Join(dir, "cache"),
		"--public-dir", public,
		"--host-limit", "0",
		"--fetch-concurrency", "2",
		"--fetch-timeout", "5s")
	if err != nil {
		t.Fatalf("process: %v\n%s", err, out)
	}

	store, err := inlineimages.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	rec, err := store.Record(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`<picture>`, `<source type="image/webp" srcset="/static/`, `<source type="image/png" srcset="/static/`, `alt="photo"`} {
		if !strings.Contains(rec.Content, want) {
			t.Errorf("content missing %s:\n%s", want, rec.Content)
		}
	}
	webps, _ := filepath.Glob(filepath.Join(public, "*", "photo-*.webp"))
	if len(webps) == 0 {
		t.Errorf("no webp derivatives written under %s", public)
	}
}

func TestPipelineFlagsValidate(t *testing.T) {
	valid := pipelineFlags{fetchTimeout: time.Second, fetchConcurrency: 1, cacheTTL: time.Minute}
	tests := []struct {
		name    string
		mutate  func(*pipelineFlags)
		wantErr bool
	}{
		{"defaults", func(p *pipelineFlags) {}, false},
		{"host limit disabled", func(p *pipelineFlags) { p.hostLimit = 0 }, false},
		{"zero timeout", func(p *pipelineFlags) { p.fetchTimeout = 0 }, true},
		{"zero concurrency", func(p *pipelineFlags) { p.fetchConcurrency = 0 }, true},
		{"negative ttl", func(p *pipelineFlags) { p.cacheTTL = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
