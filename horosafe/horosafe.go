// Package horosafe holds the input guards shared by pagecheck components:
// checkpoint and workflow names become file names, and target URLs are
// handed to a real browser, so both are checked before use.
package horosafe

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// MaxNameLen bounds checkpoint and workflow names.
const MaxNameLen = 128

// ErrPathTraversal is returned when a name or relative path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrUnsafeScheme is returned when a target URL is not http(s).
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// SafePath joins base and userInput and verifies the result stays under base.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, filepath.Clean("/"+userInput))
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}

// ValidateName checks that s is usable as a single path component:
// non-empty, bounded, and made of [A-Za-z0-9._-] only.
func ValidateName(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: empty name")
	}
	if len(s) > MaxNameLen {
		return fmt.Errorf("horosafe: name exceeds %d bytes", MaxNameLen)
	}
	if s == "." || strings.Contains(s, "..") {
		return ErrPathTraversal
	}
	for _, r := range s {
		if !isNameChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in name %q", r, s)
		}
	}
	return nil
}

// NamedFile validates name and returns base/name+ext.
func NamedFile(base, name, ext string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return SafePath(base, name+ext)
}

// ValidateTargetURL checks that rawURL is an absolute http(s) URL with a host.
// Loopback and private hosts are allowed: local staging sites are normal
// test targets.
func ValidateTargetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	return nil
}

func isNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.'
}
