package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCS archives pages to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	log    *slog.Logger
}

// NewGCS creates a storage client for bucket. Application default credentials are
// used unless credentialsFile is given. A non-empty endpoint disables authentication
// and points the client at an emulator.
func NewGCS(ctx context.Context, bucket, credentialsFile, endpoint string, logger *slog.Logger) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("gcs archive requires a bucket")
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{
		client: client,
		bucket: bucket,
		log:    logger,
	}, nil
}

// Archive writes body as a new object. The DoesNotExist precondition makes the write
// fail rather than replace an existing object.
func (g *GCS) Archive(ctx context.Context, name string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := g.client.Bucket(g.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	// Pages are small; send each in a single request without buffering a chunk.
	w.ChunkSize = 0

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s to GCS: %w", name, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("%s: %w", name, ErrExists)
		}
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	g.log.Debug(fmt.Sprintf("archived gs://%s/%s (%d bytes)", g.bucket, name, len(body)))
	return nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
