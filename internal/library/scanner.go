package library

import (
	"context"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/MimeLyc/webp-autogen/pkg/file"
	"github.com/MimeLyc/webp-autogen/pkg/log"
)

type scannerOptions struct {
	cacheTTL time.Duration
}

type Option func(*scannerOptions)

// WithCacheTTL lets Stats reuse a previous result for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *scannerOptions) {
		o.cacheTTL = ttl
	}
}

type statsCache struct {
	version uint64
	scanned time.Time
	stats   Stats
}

// Scanner enumerates eligible images below the upload root and reports how
// many already have a WebP sibling. It never modifies the filesystem.
type Scanner struct {
	root string

	mu       sync.RWMutex
	cacheTTL time.Duration
	cache    *statsCache
	version  uint64
}

func NewScanner(root string, opts ...Option) *Scanner {
	options := scannerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return &Scanner{
		root:     root,
		cacheTTL: options.cacheTTL,
	}
}

func (s *Scanner) Root() string {
	return s.root
}

// Invalidate drops any cached Stats. Call it after the tree changed.
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.version++
	s.mu.Unlock()
}

// Walk calls fn for every eligible image in lexical walk order.
// fn may return file.ErrStopWalk to stop early.
// A missing root yields no images and no error.
func (s *Scanner) Walk(ctx context.Context, fn func(Image) error) error {
	if _, err := os.Stat(s.root); err != nil {
		if os.IsNotExist(err) {
			log.Debug("Upload root %s does not exist, nothing to scan", s.root)
			return nil
		}
		return err
	}

	return file.WalkFiles(ctx, s.root, func(path string, d fs.DirEntry) error {
		webpPath := file.WebPSibling(d.Name())
		if webpPath == "" {
			return nil
		}
		webpPath = file.WebPSibling(path)
		return fn(Image{
			Path:      path,
			WebPPath:  webpPath,
			Converted: file.Exists(webpPath),
		})
	}, func(path string, err error) {
		log.Warn("Skipping unreadable path %s: %v", path, err)
	})
}

func (s *Scanner) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	version := s.version
	if s.cache != nil && s.cacheTTL > 0 && time.Since(s.cache.scanned) < s.cacheTTL {
		cached := s.cache.stats
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	var stats Stats
	err := s.Walk(ctx, func(img Image) error {
		stats.Total++
		if img.Converted {
			stats.Converted++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	stats.Remaining = stats.Total - stats.Converted

	s.mu.Lock()
	if s.version == version {
		s.cache = &statsCache{
			version: version,
			scanned: time.Now(),
			stats:   stats,
		}
	}
	s.mu.Unlock()

	return stats, nil
}
