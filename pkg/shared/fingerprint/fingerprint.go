// Package fingerprint derives stable identifiers for scanner findings so the
// same issue reported twice in a run, or across runs, collapses to one key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Input holds the attributes that identify a dynamic scanner finding.
type Input struct {
	// TemplateID is the scanner template or rule identifier.
	TemplateID string

	// Host is the target host, with or without scheme and default port.
	Host string

	// Path is the URL path. Query and fragment are ignored.
	Path string

	// Parameter is the affected parameter name (not value).
	Parameter string

	// Matcher is the scanner's matcher name, when a template has several.
	Matcher string
}

// Generate returns a SHA-256 fingerprint (64 hex characters) for input.
func Generate(input Input) string {
	return Hash(fmt.Sprintf("dast:%s:%s:%s:%s:%s",
		normalize(input.TemplateID),
		normalizeHost(input.Host),
		normalizePath(input.Path),
		normalize(input.Parameter),
		normalize(input.Matcher),
	))
}

// FromURL splits a matched URL into host and path and fingerprints it.
func FromURL(templateID, matchedURL, matcher string) string {
	host, path := splitURL(matchedURL)
	return Generate(Input{
		TemplateID: templateID,
		Host:       host,
		Path:       path,
		Matcher:    matcher,
	})
}

// Hash computes the SHA-256 of s as 64 hex characters.
func Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeHost drops scheme, trailing slash and default ports.
func normalizeHost(host string) string {
	host = normalize(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")
	return host
}

// normalizePath drops query and fragment and canonicalizes slashes.
func normalizePath(path string) string {
	path = normalize(path)
	if idx := strings.IndexAny(path, "?#"); idx != -1 {
		path = path[:idx]
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func splitURL(raw string) (host, path string) {
	raw = strings.TrimSpace(raw)
	rest := raw
	if i := strings.Index(rest, "://"); i != -1 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i != -1 {
		return rest[:i], rest[i:]
	}
	return rest, ""
}
