package rewrite

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/webp-autogen/pkg/file"
)

// Resolver maps public upload URLs to files under the upload root.
type Resolver struct {
	root     string
	baseHost string
	basePath string
}

// NewResolver takes the upload root on disk and its public base URL, either
// absolute ("https://example.com/wp-content/uploads") or root-relative.
func NewResolver(root, baseURL string) *Resolver {
	r := &Resolver{root: filepath.Clean(root)}
	if u, err := url.Parse(strings.TrimSpace(baseURL)); err == nil {
		r.baseHost = strings.ToLower(u.Host)
		r.basePath = strings.TrimRight(u.Path, "/")
	}
	return r
}

func (r *Resolver) Root() string {
	return r.root
}

// WebPFor returns the WebP URL for an eligible image URL whose sibling exists
// on disk. Query and fragment are dropped from the returned URL.
func (r *Resolver) WebPFor(rawURL string) (string, bool) {
	clean := stripQuery(rawURL)
	webpURL := file.WebPSibling(clean)
	if webpURL == "" {
		return "", false
	}

	localPath, ok := r.LocalPath(clean)
	if !ok {
		return "", false
	}
	if !file.Exists(file.WebPSibling(localPath)) {
		return "", false
	}
	return webpURL, true
}

// LocalPath maps a URL below the base URL to a path below the upload root.
func (r *Resolver) LocalPath(rawURL string) (string, bool) {
	u, err := url.Parse(stripQuery(rawURL))
	if err != nil {
		return "", false
	}
	// a URL with a host only belongs to us when the base URL names that host
	if u.Host != "" && (r.baseHost == "" || !strings.EqualFold(u.Host, r.baseHost)) {
		return "", false
	}
	if u.Host == "" && !strings.HasPrefix(u.Path, "/") {
		return "", false
	}

	cleaned := path.Clean(u.Path)
	rel, found := strings.CutPrefix(cleaned, r.basePath+"/")
	if !found || rel == "" {
		return "", false
	}
	return filepath.Join(r.root, filepath.FromSlash(rel)), true
}

// stripQuery drops everything from the first '?' or '#'.
func stripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
