package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-backup/internal/archive"
	"kyc-backup/internal/config"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/objectstore"
)

// fakeDB is a Store that dumps a fixed payload
type fakeDB struct {
	engine  string
	payload string
	dumpErr error
	onDump  func()
}

func (f *fakeDB) Engine() string                 { return f.engine }
func (f *fakeDB) Database() string               { return "kyc" }
func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

func (f *fakeDB) DumpTo(ctx context.Context, w io.Writer) error {
	if f.onDump != nil {
		f.onDump()
	}
	if _, err := io.WriteString(w, f.payload); err != nil {
		return err
	}
	return f.dumpErr
}

func (f *fakeDB) DatabaseExists(ctx context.Context, name string) (bool, error) { return true, nil }
func (f *fakeDB) CountTables(ctx context.Context, name string) (int, error)     { return 1, nil }
func (f *fakeDB) DropDatabase(ctx context.Context, name string) error          { return nil }
func (f *fakeDB) CreateEmptyDatabase(ctx context.Context, name string) error   { return nil }
func (f *fakeDB) LoadFrom(ctx context.Context, path, target string) error      { return nil }

// downBuckets fails the sync of the listed buckets
type downBuckets struct {
	objectstore.Store
	down map[string]bool
}

func (d *downBuckets) SyncBucketToLocal(ctx context.Context, bucket, dir string) (objectstore.SyncStats, error) {
	if d.down[bucket] {
		return objectstore.SyncStats{}, apperrors.NewAppError(apperrors.ErrorTypeConnection, "bucket unreachable", errors.New("connection refused"))
	}
	return d.Store.SyncBucketToLocal(ctx, bucket, dir)
}

type fixture struct {
	cfg     *config.Config
	db      *fakeDB
	objects objectstore.Store
	now     time.Time
}

func newFixture(t *testing.T, buckets ...string) *fixture {
	t.Helper()
	base := t.TempDir()
	for _, b := range buckets {
		dir := filepath.Join(base, b, "2026")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, b+".bin"), []byte("object of "+b), 0o644))
	}
	local, err := objectstore.NewLocalStore(base, objectstore.Options{})
	require.NoError(t, err)

	return &fixture{
		cfg: &config.Config{
			ObjectStore: config.ObjectStoreConfig{Provider: config.ProviderLocal, Buckets: buckets},
			Backup: config.BackupConfig{
				Root:        filepath.Join(t.TempDir(), "backups"),
				Prefix:      "kyc_backup",
				Compression: config.CompressionGzip,
				Retention:   config.RetentionConfig{MaxAgeDays: 30},
			},
			Mirror: config.MirrorConfig{Parallelism: 2, Compression: config.CompressionGzip},
		},
		db:      &fakeDB{engine: config.EnginePostgres, payload: "PGDMP fake dump"},
		objects: local,
		now:     time.Now().UTC().Truncate(time.Second),
	}
}

func (f *fixture) run(t *testing.T) (*BackupRun, error) {
	t.Helper()
	o, err := NewOrchestrator(f.cfg, f.db, f.objects, nil, WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	return o.Run(context.Background())
}

func extractArtifact(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := archive.FromExtension(path).NewReader(f)
	require.NoError(t, err)
	defer r.Close()

	dest := t.TempDir()
	_, err = archive.Extract(context.Background(), r, dest)
	require.NoError(t, err)
	return dest
}

func artifactOf(run *BackupRun, kind Kind) *ArtifactRef {
	for i := range run.Artifacts {
		if run.Artifacts[i].Kind == kind {
			return &run.Artifacts[i]
		}
	}
	return nil
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, "documents", "photos")

	run, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, run.Status)
	assert.True(t, f.now.Equal(run.Timestamp))
	require.Len(t, run.Artifacts, 3)
	for _, a := range run.Artifacts {
		n, ok := ParseArtifactName(a.Path)
		require.True(t, ok, a.Path)
		assert.True(t, run.Timestamp.Equal(n.Timestamp), "artifact %s has a different timestamp", a.Path)
		assert.FileExists(t, a.Path)
	}

	dump := artifactOf(run, KindDBDump)
	require.NotNil(t, dump)
	assert.True(t, strings.HasSuffix(dump.Path, "_db.dump.gz"))

	dest := extractArtifact(t, artifactOf(run, KindObjectMirror).Path)
	assert.FileExists(t, filepath.Join(dest, "documents", "2026", "documents.bin"))
	assert.FileExists(t, filepath.Join(dest, "photos", "2026", "photos.bin"))

	entries, err := os.ReadDir(f.cfg.Backup.Root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."), "leftover %s", e.Name())
	}

	for _, name := range []string{StageDump, StageMirror, StageSweep, StageManifest} {
		s, ok := run.Stage(name)
		require.True(t, ok, name)
		assert.Equal(t, StageOK, s.Status, name)
	}
}

func TestRun_PartialMirror(t *testing.T) {
	f := newFixture(t, "documents", "photos")
	f.objects = &downBuckets{Store: f.objects, down: map[string]bool{"photos": true}}

	run, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, StatusPartialFailure, run.Status)
	require.Len(t, run.BucketFailures, 1)
	assert.Equal(t, "photos", run.BucketFailures[0].Bucket)

	s, _ := run.Stage(StageMirror)
	assert.Equal(t, StagePartial, s.Status)
	assert.True(t, apperrors.IsType(s.Err, apperrors.ErrorTypePartialMirror))

	dest := extractArtifact(t, artifactOf(run, KindObjectMirror).Path)
	assert.FileExists(t, filepath.Join(dest, "documents", "2026", "documents.bin"))
	assert.NoDirExists(t, filepath.Join(dest, "photos"))

	m, err := FindManifest(artifactOf(run, KindDBDump).Path)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, StatusPartialFailure, m.Status)
	require.Len(t, m.Buckets, 2)
	assert.Equal(t, string(StageOK), m.Buckets[0].Status)
	assert.Equal(t, string(StageFailed), m.Buckets[1].Status)
	assert.Contains(t, m.Buckets[1].Error, "bucket unreachable")
}

func TestRun_AllBucketsDown(t *testing.T) {
	f := newFixture(t, "documents")
	f.objects = &downBuckets{Store: f.objects, down: map[string]bool{"documents": true}}

	run, err := f.run(t)
	require.Error(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.NotNil(t, artifactOf(run, KindDBDump))
	assert.Nil(t, artifactOf(run, KindObjectMirror))
}

func TestRun_DumpFailureLeavesNoArtifact(t *testing.T) {
	f := newFixture(t, "documents")
	f.db.dumpErr = errors.New("pg_dump exited with status 1: connection reset")

	run, err := f.run(t)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, err.Error(), "dump")

	dumpName := NewArtifactName("kyc_backup", run.Timestamp, KindDBDump, "dump", mustCodec(t, archive.Gzip))
	assert.NoFileExists(t, filepath.Join(f.cfg.Backup.Root, dumpName.String()))
	assert.NoFileExists(t, TempPath(filepath.Join(f.cfg.Backup.Root, dumpName.String())))

	// the mirror and the sweep still ran
	assert.NotNil(t, artifactOf(run, KindObjectMirror))
	s, ok := run.Stage(StageSweep)
	require.True(t, ok)
	assert.Equal(t, StageOK, s.Status)
}

func TestRun_SweepsExpiredRuns(t *testing.T) {
	f := newFixture(t, "documents")
	require.NoError(t, os.MkdirAll(f.cfg.Backup.Root, 0o750))

	old := writeAged(t, f.cfg.Backup.Root,
		NewArtifactName("kyc_backup", f.now.Add(-31*day), KindDBDump, "dump", mustCodec(t, archive.Gzip)).String(),
		f.now, 31*day+time.Hour)
	recent := writeAged(t, f.cfg.Backup.Root,
		NewArtifactName("kyc_backup", f.now.Add(-29*day), KindDBDump, "dump", mustCodec(t, archive.Gzip)).String(),
		f.now, 29*day)

	run, err := f.run(t)
	require.NoError(t, err)

	require.NotNil(t, run.Sweep)
	assert.Equal(t, []string{old}, run.Sweep.Deleted)
	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
}

func TestRun_TimestampMovesPastExistingRun(t *testing.T) {
	f := newFixture(t, "documents")
	require.NoError(t, os.MkdirAll(f.cfg.Backup.Root, 0o750))
	existing := NewArtifactName("kyc_backup", f.now, KindDBDump, "dump", mustCodec(t, archive.Gzip))
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Backup.Root, existing.String()), []byte("x"), 0o600))

	run, err := f.run(t)
	require.NoError(t, err)

	assert.True(t, f.now.Add(time.Second).Equal(run.Timestamp))
	data, err := os.ReadFile(filepath.Join(f.cfg.Backup.Root, existing.String()))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestRun_ZeroDayRetentionKeepsOwnRun(t *testing.T) {
	f := newFixture(t, "documents")
	f.cfg.Backup.Retention.MaxAgeDays = 0
	require.NoError(t, os.MkdirAll(f.cfg.Backup.Root, 0o750))

	prevTS := f.now.Add(-day)
	var prior []string
	for _, n := range []ArtifactName{
		NewArtifactName("kyc_backup", prevTS, KindDBDump, "dump", mustCodec(t, archive.Gzip)),
		NewArtifactName("kyc_backup", prevTS, KindObjectMirror, "tar", mustCodec(t, archive.Gzip)),
		{Prefix: "kyc_backup", Timestamp: prevTS, Kind: KindManifest, Ext: "yaml"},
	} {
		prior = append(prior, writeAged(t, f.cfg.Backup.Root, n.String(), f.now, day+time.Hour))
	}

	run, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, run.Status)

	require.NotNil(t, run.Sweep)
	assert.ElementsMatch(t, prior, run.Sweep.Deleted)
	for _, path := range prior {
		assert.NoFileExists(t, path)
	}

	for _, kind := range []Kind{KindDBDump, KindObjectMirror, KindManifest} {
		a := artifactOf(run, kind)
		require.NotNil(t, a, kind)
		assert.FileExists(t, a.Path)
	}
}

func TestRun_TimestampIgnoresFarFutureRun(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   time.Duration
	}{
		{"within lead", 10 * time.Second, 11 * time.Second},
		{"a day ahead", 24 * time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "documents")
			require.NoError(t, os.MkdirAll(f.cfg.Backup.Root, 0o750))
			future := NewArtifactName("kyc_backup", f.now.Add(tt.offset), KindDBDump, "dump", mustCodec(t, archive.Gzip))
			path := filepath.Join(f.cfg.Backup.Root, future.String())
			require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

			run, err := f.run(t)
			require.NoError(t, err)

			assert.True(t, f.now.Add(tt.want).Equal(run.Timestamp), "timestamp %s", FormatTimestamp(run.Timestamp))
			assert.FileExists(t, path)
		})
	}
}

func TestRun_SameSecondRunFailsOnTakenName(t *testing.T) {
	f := newFixture(t, "documents")
	f.cfg.Backup.DisableManifest = true
	dumpName := NewArtifactName("kyc_backup", f.now, KindDBDump, "dump", mustCodec(t, archive.Gzip))
	other := filepath.Join(f.cfg.Backup.Root, dumpName.String())
	// a concurrent run publishes the same name while this one is dumping
	f.db.onDump = func() {
		require.NoError(t, os.WriteFile(other, []byte("other run"), 0o600))
	}

	run, err := f.run(t)
	require.Error(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "already taken")
	assert.Contains(t, err.Error(), FormatTimestamp(f.now))

	data, err := os.ReadFile(other)
	require.NoError(t, err)
	assert.Equal(t, "other run", string(data))
	assert.NoFileExists(t, TempPath(other))
}

func TestRun_ManifestChecksums(t *testing.T) {
	f := newFixture(t, "documents")

	run, err := f.run(t)
	require.NoError(t, err)

	dump := artifactOf(run, KindDBDump)
	m, err := FindManifest(dump.Path)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, run.ID, m.RunID)
	assert.Equal(t, config.EnginePostgres, m.Engine)
	assert.Equal(t, "kyc", m.Database)

	entry := m.Artifact(dump.Path)
	require.NotNil(t, entry)
	sum, err := archive.Checksum(context.Background(), dump.Path)
	require.NoError(t, err)
	assert.Equal(t, sum, entry.SHA256)
	assert.Equal(t, dump.Size, entry.Size)
}

func TestRun_ManifestDisabled(t *testing.T) {
	f := newFixture(t, "documents")
	f.cfg.Backup.DisableManifest = true

	run, err := f.run(t)
	require.NoError(t, err)

	assert.Nil(t, artifactOf(run, KindManifest))
	m, err := FindManifest(artifactOf(run, KindDBDump).Path)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRun_MySQLDumpExtension(t *testing.T) {
	f := newFixture(t, "documents")
	f.db.engine = config.EngineMySQL
	f.cfg.Backup.Compression = config.CompressionNone

	run, err := f.run(t)
	require.NoError(t, err)

	dump := artifactOf(run, KindDBDump)
	assert.True(t, strings.HasSuffix(dump.Path, "_db.sql"), dump.Path)
	data, err := os.ReadFile(dump.Path)
	require.NoError(t, err)
	assert.Equal(t, "PGDMP fake dump", string(data))
}

func TestRun_MetricsTextfile(t *testing.T) {
	f := newFixture(t, "documents", "photos")
	f.objects = &downBuckets{Store: f.objects, down: map[string]bool{"photos": true}}
	f.cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "kyc_backup.prom")

	_, err := f.run(t)
	require.NoError(t, err)

	data, err := os.ReadFile(f.cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `kyc_backup_last_run_status{status="partial_failure"} 1`)
	assert.Contains(t, text, `kyc_backup_last_run_status{status="success"} 0`)
	assert.Contains(t, text, "kyc_backup_failed_buckets 1")
}

func TestNewOrchestrator_InvalidCompression(t *testing.T) {
	f := newFixture(t, "documents")
	f.cfg.Backup.Compression = "bzip2"

	_, err := NewOrchestrator(f.cfg, f.db, f.objects, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
}

func mustCodec(t *testing.T, name string) archive.Codec {
	t.Helper()
	c, err := archive.Lookup(name)
	require.NoError(t, err)
	return c
}
