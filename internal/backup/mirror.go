package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kyc-backup/internal/archive"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
	"kyc-backup/internal/objectstore"
)

// Mirror copies buckets into per-run working directories and packages
// the ones that synced into a single archive
type Mirror struct {
	store       objectstore.Store
	root        string
	prefix      string
	codec       archive.Codec
	level       int
	parallelism int
	logger      *logging.Logger
}

// NewMirror creates a mirror writing into root
func NewMirror(store objectstore.Store, root, prefix string, codec archive.Codec, level, parallelism int, logger *logging.Logger) *Mirror {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &Mirror{
		store:       store,
		root:        root,
		prefix:      prefix,
		codec:       codec,
		level:       level,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Mirror syncs every bucket independently. A failing bucket is recorded and
// never stops the others. The returned error is reserved for failures that
// are not tied to one bucket, such as a full disk while packaging.
func (m *Mirror) Mirror(ctx context.Context, ts time.Time, buckets []string) (*MirrorResult, error) {
	result := &MirrorResult{
		Stats:  make(map[string]objectstore.SyncStats, len(buckets)),
		Status: StageFailed,
	}

	workDir, err := os.MkdirTemp(m.root, fmt.Sprintf(".%s_%s_mirror-", m.prefix, FormatTimestamp(ts)))
	if err != nil {
		return result, apperrors.WrapError(err, "cannot create mirror working directory")
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			m.logger.WithContext(ctx).WithError(err).Warn("Failed to remove mirror working directory")
		}
	}()

	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		g      errgroup.Group
	)
	g.SetLimit(m.parallelism)

	for _, bucket := range buckets {
		bucket := bucket
		g.Go(func() error {
			stats, err := m.store.SyncBucketToLocal(ctx, bucket, filepath.Join(workDir, bucket))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[bucket] = err
				m.logger.WithContext(ctx).WithField("bucket", bucket).WithError(err).Warn("Bucket mirror failed")
				return nil
			}
			result.Stats[bucket] = stats
			m.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"bucket":  bucket,
				"objects": stats.Objects,
				"copied":  stats.Copied,
			}).Info("Bucket mirrored")
			return nil
		})
	}
	_ = g.Wait()

	// keep the configured bucket order in the result and the archive
	var dirs []string
	for _, bucket := range buckets {
		if err, ok := failed[bucket]; ok {
			result.Failed = append(result.Failed, BucketFailure{Bucket: bucket, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, bucket)
		dirs = append(dirs, filepath.Join(workDir, bucket))
	}

	if len(dirs) == 0 {
		return result, nil
	}

	ref, err := m.pack(ctx, ts, dirs)
	if err != nil {
		return result, err
	}
	result.Artifact = ref
	if len(result.Failed) > 0 {
		result.Status = StagePartial
	} else {
		result.Status = StageOK
	}
	return result, nil
}

func (m *Mirror) pack(ctx context.Context, ts time.Time, dirs []string) (*ArtifactRef, error) {
	name := NewArtifactName(m.prefix, ts, KindObjectMirror, "tar", m.codec)
	final := filepath.Join(m.root, name.String())
	tmp := TempPath(final)

	var files int
	size, err := archive.WriteFile(tmp, 0o600, func(w io.Writer) error {
		cw, err := m.codec.NewWriter(w, m.level)
		if err != nil {
			return err
		}
		if files, err = archive.PackDirs(ctx, cw, dirs); err != nil {
			cw.Close()
			return err
		}
		return cw.Close()
	})
	if err == nil {
		err = archive.Publish(tmp, final)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "mirror packaging cancelled", ctxErr)
		}
		if taken := nameTaken(err, final); taken != nil {
			return nil, taken
		}
		return nil, apperrors.WrapError(err, "failed to package mirrored buckets")
	}

	ref := &ArtifactRef{
		Kind:        KindObjectMirror,
		Path:        final,
		Size:        size,
		Compression: m.codec.Name(),
	}
	m.logger.LogArtifact(ctx, string(ref.Kind), ref.Path, ref.Size)
	m.logger.WithContext(ctx).WithField("files", files).Debug("Mirror archive written")
	return ref, nil
}
