package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBlobStore writes blobs to a Google Cloud Storage bucket
type GCSBlobStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
	limits        BlobLimits
}

// NewGCSBlobStore connects to GCS. Application Default Credentials are used
// unless credentialsJSON is set.
func NewGCSBlobStore(ctx context.Context, bucket, credentialsJSON, publicBaseURL string, limits BlobLimits) (*GCSBlobStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}

	return &GCSBlobStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		limits:        limits,
	}, nil
}

// Put uploads data as objectPath and returns its public URL
func (s *GCSBlobStore) Put(ctx context.Context, data []byte, objectPath string) (string, error) {
	objectName, err := s.limits.Clean(int64(len(data)), objectPath)
	if err != nil {
		return "", err
	}

	wc := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = http.DetectContentType(data)

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("write gcs object %q: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close gcs object %q: %w", objectName, err)
	}

	return s.publicBaseURL + "/" + objectName, nil
}

// Close releases the GCS client
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
