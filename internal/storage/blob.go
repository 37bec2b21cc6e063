// Package storage defines the blob destination abstraction used for exports
// and resolves destination strings onto a concrete store.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// BlobStore writes a named object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// GCSScheme prefixes Cloud Storage destinations.
const GCSScheme = "gs://"

// Destination is a parsed export target.
type Destination struct {
	// Bucket is set for Cloud Storage destinations only.
	Bucket string
	// Path is the object name in the bucket, or the local file path.
	Path string
}

// Remote reports whether the destination is a Cloud Storage object.
func (d Destination) Remote() bool {
	return d.Bucket != ""
}

// ParseDestination accepts a local path or gs://bucket/object.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Destination{}, fmt.Errorf("destination is required")
	}
	if !strings.HasPrefix(raw, GCSScheme) {
		return Destination{Path: raw}, nil
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(raw, GCSScheme), "/")
	if !ok || bucket == "" || strings.Trim(object, "/") == "" {
		return Destination{}, fmt.Errorf("destination %q must be gs://bucket/object", raw)
	}
	return Destination{Bucket: bucket, Path: object}, nil
}
