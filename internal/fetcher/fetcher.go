// Package fetcher reads source metadata: CSV and JSON Lines files, JSON
// documents inside ZIP packages, and remote HTTP resources.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// Fetch fetches the URL and returns the whole body.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// FetchContent fetches the URL and fails with *ContentTypeError unless
	// the body is of the given MIME type.
	FetchContent(ctx context.Context, url string, mimeType string) ([]byte, error)
}
