package objectstore

import (
	"context"
	"errors"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"kyc-backup/internal/config"
	apperrors "kyc-backup/internal/errors"
)

// GCSStore mirrors buckets from Google Cloud Storage
type GCSStore struct {
	client    *storage.Client
	projectID string
	opts      Options
}

// NewGCSStore creates a GCS store using the credentials file if given,
// otherwise application default credentials
func NewGCSStore(ctx context.Context, cfg config.ObjectStoreConfig, opts Options) (*GCSStore, error) {
	var clientOpts []option.ClientOption
	if cfg.GCS.CredentialsPath != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.GCS.CredentialsPath))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to create GCS client", err)
	}

	return &GCSStore{client: client, projectID: cfg.GCS.ProjectID, opts: opts.withDefaults()}, nil
}

func (g *GCSStore) Provider() string { return config.ProviderGCS }

// Close releases the underlying client
func (g *GCSStore) Close() error {
	return g.client.Close()
}

// ListBuckets returns the buckets of the configured project
func (g *GCSStore) ListBuckets(ctx context.Context) ([]string, error) {
	start := time.Now()
	var names []string
	err := g.opts.Retry.Retry(ctx, func() error {
		callCtx, cancel := withTimeout(ctx, g.opts.Timeout)
		defer cancel()

		names = names[:0]
		it := g.client.Buckets(callCtx, g.projectID)
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			names = append(names, attrs.Name)
		}
	})
	g.opts.Logger.LogStoreCall(ctx, g.Provider(), "ListBuckets", time.Since(start), err)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list GCS buckets")
	}
	return names, nil
}

// SyncBucketToLocal mirrors bucket into dir
func (g *GCSStore) SyncBucketToLocal(ctx context.Context, bucket string, dir string) (SyncStats, error) {
	return syncBucket(ctx, g, g.Provider(), bucket, dir, g.opts)
}

func (g *GCSStore) walk(ctx context.Context, bucket string, fn func(ObjectInfo) error) error {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ObjectInfo{Key: attrs.Name, Size: attrs.Size, ModTime: attrs.Updated}); err != nil {
			return err
		}
	}
}

func (g *GCSStore) download(ctx context.Context, bucket string, obj ObjectInfo, f *os.File) error {
	r, err := g.client.Bucket(bucket).Object(obj.Key).NewReader(ctx)
	if err != nil {
		return err
	}
	return copyTo(f, r)
}
