// Package gcscold implements the cold tier on a Google Cloud Storage bucket.
package gcscold

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/roach88/coldline/internal/tier"
)

const backend = "gcs"

// Options configures the bucket connection.
type Options struct {
	Bucket string

	// Prefix is prepended to every object name.
	Prefix string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
}

// Store is a cold tier backed by a GCS bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

var _ tier.Cold = (*Store)(nil)

// Open creates a storage client for the configured bucket.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Store{
		client: client,
		bucket: client.Bucket(opts.Bucket),
		prefix: opts.Prefix,
	}, nil
}

// Close releases the storage client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Get downloads the object body.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	r, err := s.bucket.Object(s.objectName(name)).NewReader(ctx)
	if err != nil {
		return nil, classify("get", name, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, classify("get", name, err)
	}
	return body, nil
}

// Put uploads the object. Objects are written whole; a failed upload
// leaves no partial object behind.
func (s *Store) Put(ctx context.Context, name string, body []byte) error {
	w := s.bucket.Object(s.objectName(name)).NewWriter(ctx)
	w.ContentType = "application/zstd"

	if _, err := w.Write(body); err != nil {
		w.Close()
		return classify("put", name, err)
	}
	if err := w.Close(); err != nil {
		return classify("put", name, err)
	}
	return nil
}

// Exists checks the object's attributes.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.bucket.Object(s.objectName(name)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify("exists", name, err)
	}
	return true, nil
}

// Delete removes the object.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.bucket.Object(s.objectName(name)).Delete(ctx); err != nil {
		return classify("delete", name, err)
	}
	return nil
}

// classify maps GCS errors onto the tier taxonomy. 429 and 503 signal
// rate limiting on the bucket.
func classify(op, name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return tier.NotFound(backend, op, name)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return tier.NotFound(backend, op, name)
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return tier.Throttled(backend, op, name, err)
		}
	}
	return tier.Unavailable(backend, op, name, err)
}
