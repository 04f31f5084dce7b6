package htaccess

import (
	"fmt"
	"os"
	"strings"

	"github.com/MimeLyc/webp-autogen/pkg/log"
	"github.com/gofrs/flock"
)

const (
	BeginMarker = "# BEGIN WebP Autogen"
	EndMarker   = "# END WebP Autogen"
)

// Rules is the block appended to .htaccess. It serves name.webp for
// name.jpg/jpeg/png to clients that accept WebP and the sibling exists.
const Rules = BeginMarker + `
<IfModule mod_rewrite.c>
  RewriteEngine On
  RewriteCond %{HTTP_ACCEPT} image/webp
  RewriteCond %{REQUEST_FILENAME} (.+)\.(jpe?g|png)$
  RewriteCond %{DOCUMENT_ROOT}/$1.webp -f
  RewriteRule ^(.+)\.(jpe?g|png)$ $1.webp [T=image/webp,E=accept:1]
</IfModule>
<IfModule mod_headers.c>
  Header append Vary Accept env=REDIRECT_accept
</IfModule>
` + EndMarker

type InstallResult struct {
	Installed      bool   `json:"installed"`
	AlreadyPresent bool   `json:"already_present"`
	Reason         string `json:"reason,omitempty"`
}

// IsApache mirrors the SERVER_SOFTWARE check of the web server environment.
func IsApache(serverSoftware string) bool {
	return strings.Contains(serverSoftware, "Apache")
}

// Install appends Rules to the file at path once. It does nothing unless the
// server is Apache and the file already exists and is writable; those cases
// are reported in the result, not as errors.
func Install(path, serverSoftware string) (InstallResult, error) {
	if !IsApache(serverSoftware) {
		return InstallResult{Reason: "server is not Apache"}, nil
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return InstallResult{Reason: "rewrite file does not exist"}, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return InstallResult{Reason: "rewrite file is not writable"}, nil
	}
	defer f.Close()

	lock := flock.New(path)
	if err := lock.Lock(); err != nil {
		return InstallResult{}, fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return InstallResult{}, err
	}
	if strings.Contains(string(content), BeginMarker) {
		return InstallResult{AlreadyPresent: true}, nil
	}

	if _, err := f.WriteString("\n\n" + Rules + "\n"); err != nil {
		return InstallResult{}, fmt.Errorf("append rewrite rules: %w", err)
	}
	log.Info("Installed WebP rewrite rules in %s", path)
	return InstallResult{Installed: true}, nil
}

// Remove deletes the marker block from the file at path, if present.
func Remove(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	lock := flock.New(path)
	if err := lock.Lock(); err != nil {
		return false, fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	text := string(content)
	start := strings.Index(text, BeginMarker)
	if start < 0 {
		return false, nil
	}
	end := strings.Index(text[start:], EndMarker)
	if end < 0 {
		return false, fmt.Errorf("%s: %q without %q", path, BeginMarker, EndMarker)
	}
	end += start + len(EndMarker)

	before := strings.TrimRight(text[:start], "\n")
	after := strings.TrimLeft(text[end:], "\n")
	next := before
	if before != "" && after != "" {
		next += "\n\n"
	}
	next += after
	if next != "" && !strings.HasSuffix(next, "\n") {
		next += "\n"
	}

	if err := os.WriteFile(path, []byte(next), info.Mode().Perm()); err != nil {
		return false, err
	}
	log.Info("Removed WebP rewrite rules from %s", path)
	return true, nil
}

// Installed reports whether the file at path carries the rule block.
func Installed(path string) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(content), BeginMarker)
}
