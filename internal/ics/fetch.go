package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	appLog "srules/internal/log"
)

// Source is a single ICS document referenced by a session.
type Source struct {
	// ID is an internal identifier used in logs (the session name).
	ID string
	// URL is an http(s) endpoint, a file:// URL or a plain file path.
	URL string
}

// IsRemote reports whether the source is fetched over HTTP.
func (s Source) IsRemote() bool {
	return strings.HasPrefix(s.URL, "http://") || strings.HasPrefix(s.URL, "https://")
}

// cacheEntry holds HTTP validators and the last good body of one URL.
type cacheEntry struct {
	etag         string
	lastModified string
	body         []byte
}

// Loader reads ICS documents from disk or over HTTP. Remote documents are
// fetched with conditional requests (ETag / Last-Modified) and the last good
// body is reused on 304 or when the server is unreachable.
//
// A Loader is safe for concurrent use.
type Loader struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewLoader creates a Loader. A nil client gets a 15s timeout client.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Loader{
		client: client,
		cache:  make(map[string]cacheEntry),
	}
}

// Load returns the raw document of src.
func (l *Loader) Load(ctx context.Context, src Source) ([]byte, error) {
	if src.URL == "" {
		return nil, errors.New("source URL is empty")
	}
	if !src.IsRemote() {
		path := strings.TrimPrefix(src.URL, "file://")
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ics %s: %w", src.ID, err)
		}
		return body, nil
	}
	return l.fetch(ctx, src)
}

// LoadRules loads and parses src.
func (l *Loader) LoadRules(ctx context.Context, src Source) ([]ImportedRule, error) {
	body, err := l.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	return ParseRules(src, body)
}

func (l *Loader) fetch(ctx context.Context, src Source) ([]byte, error) {
	l.mu.Lock()
	cached, hasCache := l.cache[src.URL]
	l.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	if cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}
	if cached.lastModified != "" {
		req.Header.Set("If-Modified-Since", cached.lastModified)
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := l.client.Do(req)
	if err != nil {
		if hasCache {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			return cached.body, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[src.URL] = cacheEntry{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
		}
		l.mu.Unlock()
		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if !hasCache {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return cached.body, nil

	default:
		if hasCache {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return cached.body, nil
		}
		return nil, fmt.Errorf("ics %s: %s", src.ID, resp.Status)
	}
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
