// Package fetch retrieves remote event feeds with HTTP conditional requests
// (ETag / Last-Modified) and a small disk cache that also serves as a
// fallback when the upstream is unreachable.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "gigclock/internal/log"
)

// DefaultTimeout bounds a single request when the caller does not set one.
const DefaultTimeout = 15 * time.Second

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 8 << 20

// Result contains the outcome of fetching a single URL.
type Result struct {
	URL       string
	Body      []byte
	FromCache bool // true if the cached body was reused (304 or fallback)
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher performs cached GET requests. A Fetcher with an empty cache dir
// still works; it just never revalidates or falls back.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	accept   string
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithAccept sets the Accept header sent with every request.
func WithAccept(v string) Option {
	return func(f *Fetcher) { f.accept = v }
}

// New creates a Fetcher caching under cacheDir.
func New(cacheDir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: DefaultTimeout},
		cacheDir: cacheDir,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches rawURL, honoring ETag and Last-Modified from the cache.
// On network errors or non-OK statuses the cached body, if any, is
// returned instead of an error.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (Result, error) {
	if rawURL == "" {
		return Result{}, errors.New("fetch: URL is empty")
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(rawURL)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return Result{}, fmt.Errorf("fetch: create cache dir: %w", err)
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: build request: %w", err)
	}
	if f.accept != "" {
		req.Header.Set("Accept", f.accept)
	}
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("fetch start", "url", RedactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("fetch network error, using cached body", err, "url", RedactURL(rawURL))
			return Result{URL: rawURL, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if readErr != nil {
			return Result{}, fmt.Errorf("fetch: read body: %w", readErr)
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("fetch cache save failed", err, "url", RedactURL(rawURL))
			}
		}

		appLog.Info("fetch success", "url", RedactURL(rawURL), "status", resp.StatusCode, "bytes", len(body))
		return Result{URL: rawURL, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Result{}, errors.New("fetch: received 304 Not Modified but no cached body available")
		}
		appLog.Debug("fetch not modified; using cache", "url", RedactURL(rawURL))
		return Result{URL: rawURL, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("fetch non-OK, using cached body", errors.New(resp.Status), "url", RedactURL(rawURL), "status", resp.StatusCode)
			return Result{URL: rawURL, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
}

// StatusError reports a non-OK upstream response with nothing cached.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "fetch: upstream returned " + e.Status
}

// ExpandURL substitutes the path-escaped username for "{username}".
func ExpandURL(template, username string) string {
	return strings.ReplaceAll(template, "{username}", url.PathEscape(username))
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL hides everything after the host, since feed URLs often carry
// private tokens or usernames.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "url://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j != -1 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
