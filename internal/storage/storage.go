package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// MaxObjectSize caps how many bytes Fetch reads from one object.
const MaxObjectSize = 32 << 20

const uploadTimeout = 2 * time.Minute

// ErrInvalidURI is returned for strings that are not gs://bucket/object.
var ErrInvalidURI = errors.New("invalid GCS URI")

// Service provides the cloud storage operations used for transaction exports.
// This interface enables mocking in handler and command tests.
type Service interface {
	// Fetch downloads the object bytes for a gs:// URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	// Upload stores a local file in bucket under object.
	Upload(ctx context.Context, bucket, object, filePath string) error
}

// GCS implements Service with Google Cloud Storage. A client is opened per
// call; exports are fetched rarely.
type GCS struct {
	opts []option.ClientOption
}

// NewGCS creates a GCS service. Without options Application Default
// Credentials are used.
func NewGCS(opts ...option.ClientOption) *GCS {
	return &GCS{opts: opts}
}

// NewGCSFromCredentialsFile uses the service account key at path when it is
// non-empty and falls back to Application Default Credentials otherwise.
func NewGCSFromCredentialsFile(path string) *GCS {
	if path == "" {
		return NewGCS()
	}
	return NewGCS(option.WithCredentialsFile(path))
}

// Fetch implements Service.
func (g *GCS) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := gcs.NewClient(ctx, g.opts...)
	if err != nil {
		return nil, fmt.Errorf("Fetch: creating storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("Fetch: object %s/%s exceeds %d bytes", bucket, object, MaxObjectSize)
	}

	return data, nil
}

// Upload implements Service.
func (g *GCS) Upload(ctx context.Context, bucket, object, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	client, err := gcs.NewClient(ctx, g.opts...)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "text/csv"

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	return nil
}

// ParseURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w (no object path): %s", ErrInvalidURI, uri)
	}

	return parts[0], parts[1], nil
}

// ExtractFilename returns the last path element of a GCS URI.
// e.g., "gs://bucket/exports/october.csv" → "october.csv"
func ExtractFilename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}

// URI builds a gs:// URI from bucket and object.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

var _ Service = (*GCS)(nil)
