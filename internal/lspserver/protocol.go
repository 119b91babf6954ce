package lspserver

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// pathToURI converts a filesystem path to a file:// URI. Unlike a full
// percent-encoding pass, only the characters AL projects actually carry in
// object and file names that break a bare file:// URI are escaped: space,
// parentheses, and brackets. This matches what every LSP client this
// server has been tested against accepts, and keeps URIs readable in logs.
func pathToURI(path string) string {
	path = filepath.ToSlash(path)
	escaped := strings.NewReplacer(
		" ", "%20",
		"(", "%28",
		")", "%29",
		"[", "%5B",
		"]", "%5D",
	).Replace(path)
	if strings.HasPrefix(escaped, "/") {
		return "file://" + escaped
	}
	return "file:///" + escaped
}

// uriToPath converts a file:// URI back to a filesystem path.
func uriToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	return path, nil
}
