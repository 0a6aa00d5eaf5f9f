package utils

import (
	"strings"

	"go.lsp.dev/uri"
)

// FilePathToURI converts an absolute file system path to a file:// URI.
func FilePathToURI(path string) string {
	return string(uri.File(path))
}

// URIToFilePath converts a file:// URI back to a file system path. Inputs
// that are not file URIs are returned unchanged.
func URIToFilePath(s string) string {
	if !strings.HasPrefix(s, "file://") {
		return s
	}
	u, err := uri.Parse(s)
	if err != nil {
		return strings.TrimPrefix(s, "file://")
	}
	return u.Filename()
}
