package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"kyc-backup/internal/config"
	apperrors "kyc-backup/internal/errors"
)

// LocalStore treats each sub-directory of a base path as a bucket. It backs
// deployments that keep uploads on local disk instead of an object server.
type LocalStore struct {
	basePath string
	opts     Options
}

// NewLocalStore creates a local store rooted at basePath
func NewLocalStore(basePath string, opts Options) (*LocalStore, error) {
	if basePath == "" {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "local object store base path is required", nil)
	}
	return &LocalStore{basePath: basePath, opts: opts.withDefaults()}, nil
}

func (l *LocalStore) Provider() string { return config.ProviderLocal }

// ListBuckets returns the sub-directories of the base path
func (l *LocalStore) ListBuckets(ctx context.Context) ([]string, error) {
	start := time.Now()
	entries, err := os.ReadDir(l.basePath)
	l.opts.Logger.LogStoreCall(ctx, l.Provider(), "ListBuckets", time.Since(start), err)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list local buckets")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// SyncBucketToLocal mirrors bucket into dir
func (l *LocalStore) SyncBucketToLocal(ctx context.Context, bucket string, dir string) (SyncStats, error) {
	return syncBucket(ctx, l, l.Provider(), bucket, dir, l.opts)
}

func (l *LocalStore) walk(ctx context.Context, bucket string, fn func(ObjectInfo) error) error {
	root := filepath.Join(l.basePath, bucket)
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("bucket %s is not a directory", bucket)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(ObjectInfo{Key: filepath.ToSlash(rel), Size: fi.Size(), ModTime: fi.ModTime()})
	})
}

func (l *LocalStore) download(ctx context.Context, bucket string, obj ObjectInfo, f *os.File) error {
	src, err := os.Open(filepath.Join(l.basePath, bucket, filepath.FromSlash(obj.Key)))
	if err != nil {
		return err
	}
	return copyTo(f, src)
}
