package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kyc-backup/internal/config"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
)

// Store is the object store as seen by the mirror stage
type Store interface {
	Provider() string
	ListBuckets(ctx context.Context) ([]string, error)
	// SyncBucketToLocal copies every object of bucket into dir, skipping
	// objects whose local copy already has the same size and is not older.
	// Local files without a remote counterpart are left in place.
	SyncBucketToLocal(ctx context.Context, bucket string, dir string) (SyncStats, error)
}

// SyncStats summarizes one bucket sync
type SyncStats struct {
	Objects int
	Copied  int
	Skipped int
	Bytes   int64
}

// ObjectInfo describes one remote object
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Options carries the pass-through settings shared by all providers
type Options struct {
	Timeout time.Duration
	Retry   *apperrors.RetryHandler
	Logger  *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Retry == nil {
		o.Retry = apperrors.NewDefaultRetryHandler()
	}
	if o.Logger == nil {
		o.Logger = logging.NewDiscardLogger()
	}
	return o
}

// New creates the store for the configured provider
func New(ctx context.Context, cfg config.ObjectStoreConfig, opts Options) (Store, error) {
	opts.Timeout = cfg.Timeout

	switch cfg.Provider {
	case config.ProviderS3:
		return NewS3Store(cfg, opts)
	case config.ProviderGCS:
		return NewGCSStore(ctx, cfg, opts)
	case config.ProviderAzure:
		return NewAzureStore(cfg, opts)
	case config.ProviderLocal:
		return NewLocalStore(cfg.Local.BasePath, opts)
	default:
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration,
			fmt.Sprintf("unsupported object store provider: %s", cfg.Provider), nil)
	}
}

// bucketSource is what each provider implements; syncBucket does the rest
type bucketSource interface {
	walk(ctx context.Context, bucket string, fn func(ObjectInfo) error) error
	download(ctx context.Context, bucket string, obj ObjectInfo, f *os.File) error
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// syncBucket lists bucket through src and downloads changed objects into dir
func syncBucket(ctx context.Context, src bucketSource, provider, bucket, dir string, opts Options) (SyncStats, error) {
	var stats SyncStats
	start := time.Now()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return stats, apperrors.WrapError(err, fmt.Sprintf("cannot create mirror directory for bucket %s", bucket))
	}

	var objects []ObjectInfo
	err := opts.Retry.Retry(ctx, func() error {
		objects = objects[:0]
		listCtx, cancel := withTimeout(ctx, opts.Timeout)
		defer cancel()
		return src.walk(listCtx, bucket, func(obj ObjectInfo) error {
			if strings.HasSuffix(obj.Key, "/") {
				return nil
			}
			objects = append(objects, obj)
			return nil
		})
	})
	opts.Logger.LogStoreCall(ctx, provider, "ListObjects", time.Since(start), err)
	if err != nil {
		return stats, apperrors.WrapError(err, fmt.Sprintf("failed to list bucket %s", bucket))
	}

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		local, err := localPath(dir, obj.Key)
		if err != nil {
			return stats, err
		}
		stats.Objects++

		if unchanged(local, obj) {
			stats.Skipped++
			continue
		}

		err = opts.Retry.Retry(ctx, func() error {
			callCtx, cancel := withTimeout(ctx, opts.Timeout)
			defer cancel()
			return fetchObject(callCtx, src, bucket, obj, local)
		})
		if err != nil {
			return stats, apperrors.WrapError(err, fmt.Sprintf("failed to download %s/%s", bucket, obj.Key))
		}
		stats.Copied++
		stats.Bytes += obj.Size
	}

	opts.Logger.LogStoreCall(ctx, provider, "SyncBucketToLocal", time.Since(start), nil)
	return stats, nil
}

// localPath maps an object key below dir, rejecting keys that would escape it
func localPath(dir, key string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("object key %q escapes the mirror directory", key)
	}
	return filepath.Join(dir, rel), nil
}

func unchanged(path string, obj ObjectInfo) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if info.Size() != obj.Size {
		return false
	}
	return obj.ModTime.IsZero() || !info.ModTime().Before(obj.ModTime)
}

// fetchObject downloads into a hidden temp file next to path and renames it into place
func fetchObject(ctx context.Context, src bucketSource, bucket string, obj ObjectInfo, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.partial")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if err := src.download(ctx, bucket, obj, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	if !obj.ModTime.IsZero() {
		return os.Chtimes(path, obj.ModTime, obj.ModTime)
	}
	return nil
}

// copyTo streams r into f and closes r
func copyTo(f *os.File, r io.ReadCloser) error {
	defer r.Close()
	_, err := io.Copy(f, r)
	return err
}
