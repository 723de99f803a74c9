package ics

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
	"time"

	appLog "tradein/internal/log"
)

// Source is one subscribed ICS feed.
type Source struct {
	ID   string
	URL  string
	Name string
}

// DefaultMaxStale bounds how old a cached body may be when it stands in
// for an unreachable feed.
const DefaultMaxStale = 24 * time.Hour

// ErrStaleCache reports a feed outage where the cached body is too old to
// stand in for the feed.
var ErrStaleCache = errors.New("ics: cached body too old")

// FetchResult is a feed body, either fresh or replayed from the disk cache.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
	// CachedAt is when the body was last confirmed by the server.
	CachedAt time.Time
}

// FetchError reports a feed that produced no body at all, not even a
// cached one.
type FetchError struct {
	SourceID string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ics: fetch %s: status %d: %v", e.SourceID, e.Status, e.Err)
	}
	return fmt.Sprintf("ics: fetch %s: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests (ETag/Last-Modified)
// and keeps the last good body on disk so an outage does not empty the
// calendar.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	maxStale time.Duration
	now      func() time.Time
}

// NewFetcher builds a fetcher. maxStale <= 0 means DefaultMaxStale.
func NewFetcher(cacheDir string, timeout, maxStale time.Duration) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxStale <= 0 {
		maxStale = DefaultMaxStale
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
		maxStale: maxStale,
		now:      time.Now,
	}
}

// FetchAll fetches every source. A failing source does not stop the others;
// its error is returned alongside the successful results.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error
	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, &FetchError{SourceID: src.ID, Err: errors.New("empty url")}
	}
	dir := f.cacheDirFor(src.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, &FetchError{SourceID: src.ID, Err: err}
	}
	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(status int, cause error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, &FetchError{SourceID: src.ID, Status: status, Err: cause}
		}
		age := f.now().Sub(meta.UpdatedAt)
		if meta.UpdatedAt.IsZero() || age > f.maxStale {
			return FetchResult{}, &FetchError{SourceID: src.ID, Status: status, Err: fmt.Errorf("%w (%s): %w", ErrStaleCache, age.Round(time.Minute), cause)}
		}
		appLog.Warn("ics fetch degraded, serving cached body",
			"id", src.ID, "url", redactURL(src.URL), "status", status, "cause", cause.Error(),
			"cache_age", age.Round(time.Second).String())
		return FetchResult{Source: src, Body: cached, FromCache: true, CachedAt: meta.UpdatedAt}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, &FetchError{SourceID: src.ID, Err: err}
	}
	req.Header.Set("Accept", "text/calendar")
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	started := f.now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(resp.StatusCode, err)
		}
		next := cacheMeta{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    f.now().UTC(),
		}
		if err := saveCache(dir, next, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID)
		}
		appLog.Debug("ics fetched", "id", src.ID, "url", redactURL(src.URL),
			"bytes", len(body), "elapsed", f.now().Sub(started).String())
		return FetchResult{Source: src, Body: body, CachedAt: next.UpdatedAt}, nil
	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, &FetchError{SourceID: src.ID, Status: resp.StatusCode, Err: errors.New("not modified but no cached body")}
		}
		meta.URL = src.URL
		meta.UpdatedAt = f.now().UTC()
		if err := saveMeta(dir, meta); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID)
		}
		return FetchResult{Source: src, Body: cached, FromCache: true, CachedAt: meta.UpdatedAt}, nil
	default:
		return fallback(resp.StatusCode, errors.New(resp.Status))
	}
}

func (f *Fetcher) cacheDirFor(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var m cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

// saveCache writes the body before the metadata so the metadata never
// names a body that is not there.
func saveCache(dir string, m cacheMeta, body []byte) error {
	if err := writeFileAtomic(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	return saveMeta(dir, m)
}

func saveMeta(dir string, m cacheMeta) error {
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "meta.json"), data, 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// redactURL keeps only scheme and host; feed paths often embed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
