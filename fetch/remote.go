package fetch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxSize     = 25 << 20 // 25MB
	defaultConcurrency = 8
	defaultUserAgent   = "inlineimages/1.0"
)

var knownTypes = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
	"image/avif":    "avif",
	"image/bmp":     "bmp",
	"image/tiff":    "tiff",
}

// RemoteFetcher downloads files over HTTP into dir. Files are stored under
// the BLAKE3 hash of their URL together with a JSON sidecar, so a URL is
// downloaded at most once across runs. Concurrent fetches of the same URL
// share one download.
type RemoteFetcher struct {
	dir       string
	client    *http.Client
	userAgent string
	maxSize   int64
	sem       *semaphore.Weighted
	limiter   *HostLimiter
	group     singleflight.Group
}

// Option configures a RemoteFetcher.
type Option func(*RemoteFetcher)

// WithClient sets the HTTP client (default: 30s timeout).
func WithClient(c *http.Client) Option {
	return func(f *RemoteFetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *RemoteFetcher) {
		f.userAgent = ua
	}
}

// WithMaxSize caps the response body size in bytes.
func WithMaxSize(n int64) Option {
	return func(f *RemoteFetcher) {
		f.maxSize = n
	}
}

// WithConcurrency limits the number of downloads in flight.
func WithConcurrency(n int) Option {
	return func(f *RemoteFetcher) {
		if n > 0 {
			f.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithHostLimiter rate-limits requests per host.
func WithHostLimiter(l *HostLimiter) Option {
	return func(f *RemoteFetcher) {
		f.limiter = l
	}
}

// NewRemoteFetcher creates a fetcher that stores downloads in dir.
func NewRemoteFetcher(dir string, opts ...Option) (*RemoteFetcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fetch dir: %w", err)
	}
	f := &RemoteFetcher{
		dir:       dir,
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		maxSize:   defaultMaxSize,
		sem:       semaphore.NewWeighted(defaultConcurrency),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the local copy of rawURL, downloading it if needed.
func (f *RemoteFetcher) Fetch(ctx context.Context, rawURL string) (*File, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	key := hashString(rawURL)
	v, err, _ := f.group.Do(key, func() (any, error) {
		if file, err := f.lookup(key); err == nil {
			return file, nil
		}
		return f.download(ctx, u, key)
	})
	if err != nil {
		return nil, err
	}
	file := *v.(*File)
	return &file, nil
}

func (f *RemoteFetcher) sidecarPath(key string) string {
	return filepath.Join(f.dir, key[:2], key+".json")
}

// lookup loads a previous download from its sidecar.
func (f *RemoteFetcher) lookup(key string) (*File, error) {
	data, err := os.ReadFile(f.sidecarPath(key))
	if err != nil {
		return nil, err
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if _, err := os.Stat(file.AbsolutePath); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *RemoteFetcher) download(ctx context.Context, u *url.URL, key string) (*File, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, u.Hostname()); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, f.maxSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = strings.TrimSpace(strings.SplitN(http.DetectContentType(body), ";", 2)[0])
	}

	name, ext := fileName(u.Path)
	if ext == "" {
		ext = extensionFor(contentType)
	}

	sum := blake3.Sum256(body)
	file := &File{
		ID:          uuid.NewString(),
		URL:         u.String(),
		Name:        name,
		Ext:         ext,
		ContentType: contentType,
		Size:        int64(len(body)),
		Hash:        hex.EncodeToString(sum[:]),
	}

	dir := filepath.Join(f.dir, key[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	target := filepath.Join(dir, key)
	if ext != "" {
		target += "." + ext
	}
	if err := writeAtomic(target, body); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}
	file.AbsolutePath = abs

	meta, err := json.Marshal(file)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(f.sidecarPath(key), meta); err != nil {
		return nil, err
	}
	return file, nil
}

// writeAtomic writes data to a temp file in the same directory and renames
// it into place so readers never observe a partial file.
func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", target, err)
	}
	return nil
}

// fileName splits the last path segment into base name and lowercase
// extension.
func fileName(p string) (string, string) {
	base := path.Base(p)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	if base == "." || base == "/" {
		return "", ""
	}
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return name, strings.ToLower(strings.TrimPrefix(ext, "."))
}

func extensionFor(contentType string) string {
	if ext, ok := knownTypes[contentType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return strings.TrimPrefix(exts[0], ".")
}

func hashString(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
