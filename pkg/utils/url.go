package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashURL creates a SHA256 hash of a URL string.
// This is useful for creating consistent, safe keys for Redis.
func HashURL(rawURL string) string {
	h := sha256.New()
	h.Write([]byte(rawURL))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL prefixes bare hostnames with https:// so downstream parsing
// always sees an absolute URL.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "https://" + raw
	}
	return raw
}

// IsGitHubRepoURL reports whether a URL points at a github.com repository
// (host plus at least owner/name path segments).
func IsGitHubRepoURL(raw string) bool {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "www.")
	if !strings.HasPrefix(u, "github.com/") {
		return false
	}
	rest := strings.TrimPrefix(u, "github.com/")
	return strings.Contains(rest, "/")
}

// ParseGitHubURL extracts owner and repository name from a GitHub URL.
// Returns empty strings when the URL does not look like a repository.
func ParseGitHubURL(raw string) (owner, name string) {
	u := raw
	if i := strings.Index(u, "github.com/"); i >= 0 {
		u = u[i+len("github.com/"):]
	} else {
		return "", ""
	}
	parts := strings.Split(u, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", ""
	}
	name = strings.TrimSuffix(parts[1], ".git")
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return parts[0], name
}
