package backup

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"kyc-backup/internal/archive"
	"kyc-backup/internal/database"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
)

// Dumper writes one consistent archive of the relational store per run
type Dumper struct {
	store  database.Store
	root   string
	prefix string
	codec  archive.Codec
	level  int
	logger *logging.Logger
}

// NewDumper creates a dumper writing into root
func NewDumper(store database.Store, root, prefix string, codec archive.Codec, level int, logger *logging.Logger) *Dumper {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Dumper{
		store:  store,
		root:   root,
		prefix: prefix,
		codec:  codec,
		level:  level,
		logger: logger,
	}
}

// Dump streams the store's dump through the codec into a hidden temp file
// and renames it into place once complete. On any error nothing is left
// at the final path.
func (d *Dumper) Dump(ctx context.Context, ts time.Time) (*ArtifactRef, error) {
	name := NewArtifactName(d.prefix, ts, KindDBDump, database.DumpExtension(d.store.Engine()), d.codec)
	final := filepath.Join(d.root, name.String())
	tmp := TempPath(final)

	start := time.Now()
	size, err := archive.WriteFile(tmp, 0o600, func(w io.Writer) error {
		cw, err := d.codec.NewWriter(w, d.level)
		if err != nil {
			return err
		}
		if err := d.store.DumpTo(ctx, cw); err != nil {
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
			return nil, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "dump cancelled", ctxErr)
		}
		if taken := nameTaken(err, final); taken != nil {
			return nil, taken
		}
		return nil, apperrors.WrapError(err,
			fmt.Sprintf("dump of %s database %s failed", d.store.Engine(), d.store.Database()))
	}

	ref := &ArtifactRef{
		Kind:        KindDBDump,
		Path:        final,
		Size:        size,
		Compression: d.codec.Name(),
	}
	d.logger.LogArtifact(ctx, string(ref.Kind), ref.Path, ref.Size)
	d.logger.WithContext(ctx).WithField("duration", time.Since(start)).Debug("Dump written")
	return ref, nil
}
