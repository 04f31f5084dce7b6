package rewrite

import (
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/webp-autogen/pkg/file"
)

// Negotiate serves root like an Apache rewrite rule would: a request for an
// eligible image from a client that accepts image/webp gets the WebP sibling
// when one exists. Responses for eligible paths always vary on Accept.
// next serves everything else and is expected to read from the same root.
func Negotiate(root string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urlPath := path.Clean("/" + r.URL.Path)
		if !file.IsEligibleImage(urlPath) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Accept")
		if !AcceptsWebP(r.Header.Get("Accept")) {
			next.ServeHTTP(w, r)
			return
		}

		webpPath := filepath.Join(root, filepath.FromSlash(file.WebPSibling(urlPath)))
		if !file.Exists(webpPath) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "image/webp")
		http.ServeFile(w, r, webpPath)
	})
}

// AcceptsWebP reports whether an Accept header lists image/webp with a
// non-zero quality.
func AcceptsWebP(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil || mediaType != "image/webp" {
			continue
		}
		if q, ok := params["q"]; ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				return false
			}
		}
		return true
	}
	return false
}
