package file

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const WebPExt = ".webp"

var sourceExtPattern = regexp.MustCompile(`(?i)\.(jpe?g|png)$`)

func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	lastDot := strings.LastIndex(filename, ".")
	if lastDot <= 0 {
		return filepath.Join(dir, filename+ext)
	}

	return filepath.Join(dir, filename[:lastDot]+ext)
}

// IsEligibleImage reports whether name ends in .jpg, .jpeg or .png, ignoring case.
func IsEligibleImage(name string) bool {
	return sourceExtPattern.MatchString(name)
}

// WebPSibling returns the path of the WebP copy for a source image, or "" if
// the name is not an eligible source. Works for filesystem paths and URL paths.
func WebPSibling(name string) string {
	if !IsEligibleImage(name) {
		return ""
	}
	return sourceExtPattern.ReplaceAllString(name, WebPExt)
}

// Exists reports whether path names an existing non-directory file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// IsNotExist unwraps to fs.ErrNotExist.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
