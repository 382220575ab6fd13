package artcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const _maxImageSize = 10 * 1024 * 1024 // 10 MB

// ErrEmptyURL is returned for a resolve request with no URL
var ErrEmptyURL = errors.New("empty artwork url")

// Cache resolves cover-art URLs to locally cached files. Entries live
// for the process lifetime; the files double as a warm cache across
// runs. There is no eviction.
type Cache struct {
	logger *zap.Logger
	dir    string
	client *http.Client

	group singleflight.Group

	mu    sync.RWMutex
	paths map[string]string
}

// New creates a cache rooted at dir. An empty dir selects the XDG
// cache home (~/.cache/mpriswatch/covers).
func New(logger *zap.Logger, dir string) (*Cache, error) {
	if dir == "" {
		dir = filepath.Join(xdg.CacheHome, "mpriswatch", "covers")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	logger.Info("Cover art cache ready", zap.String("dir", dir))
	return &Cache{
		logger: logger,
		dir:    dir,
		client: &http.Client{
			Timeout: 10 * time.Second, // Essential to prevent blocking the daemon
		},
		paths: make(map[string]string),
	}, nil
}

// Dir returns the cache directory
func (c *Cache) Dir() string { return c.dir }

// Resolve returns the local path for rawURL, fetching it on first use.
// Concurrent calls for the same URL share a single fetch and all
// receive the same result. Failures are reported to every waiter and
// not cached, so a later attempt may retry.
func (c *Cache) Resolve(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", ErrEmptyURL
	}

	c.mu.RLock()
	path, ok := c.paths[rawURL]
	c.mu.RUnlock()
	if ok {
		return path, nil
	}

	v, err, _ := c.group.Do(rawURL, func() (any, error) {
		return c.fetch(ctx, rawURL)
	})
	if err != nil {
		return "", err
	}
	path = v.(string)

	c.mu.Lock()
	c.paths[rawURL] = path
	c.mu.Unlock()
	return path, nil
}

func (c *Cache) fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid artwork url: %w", err)
	}

	switch u.Scheme {
	case "file":
		// Already local; the player's own file is the cache entry.
		if _, err := os.Stat(u.Path); err != nil {
			return "", fmt.Errorf("artwork file unavailable: %w", err)
		}
		return u.Path, nil
	case "http", "https":
		return c.download(ctx, rawURL)
	default:
		return "", fmt.Errorf("unsupported artwork scheme %q", u.Scheme)
	}
}

// download fetches rawURL and persists it under a name derived from
// the URL hash, so repeated resolutions across runs are cheap lookups.
func (c *Cache) download(ctx context.Context, rawURL string) (string, error) {
	dest := filepath.Join(c.dir, fmt.Sprintf("%x.jpg", sha256.Sum256([]byte(rawURL))))
	if _, err := os.Stat(dest); err == nil {
		c.logger.Debug("Cover already on disk", zap.String("url", rawURL), zap.String("path", dest))
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "mpriswatch/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("url is not an image: %s", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxImageSize))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	// Decode before persisting: a truncated or bogus payload must fail
	// the resolve, not poison the cache with a broken file.
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("artwork payload is not an image: %w", err)
	}
	if err := imaging.Save(img, dest, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("failed to store artwork: %w", err)
	}

	c.logger.Debug("Cover fetched",
		zap.String("url", rawURL),
		zap.String("path", dest),
		zap.Int("bytes", len(data)))
	return dest, nil
}
