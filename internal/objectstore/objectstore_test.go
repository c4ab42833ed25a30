package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-backup/internal/config"
)

func writeObject(t *testing.T, base, bucket, key, content string) {
	t.Helper()
	path := filepath.Join(base, bucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalStore_ListBuckets(t *testing.T) {
	base := t.TempDir()
	writeObject(t, base, "photos", "a.jpg", "a")
	writeObject(t, base, "documents", "b.pdf", "b")
	require.NoError(t, os.WriteFile(filepath.Join(base, "stray.txt"), []byte("x"), 0o644))

	store, err := NewLocalStore(base, Options{})
	require.NoError(t, err)

	buckets, err := store.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"documents", "photos"}, buckets)
}

func TestLocalStore_SyncBucketToLocal(t *testing.T) {
	base := t.TempDir()
	writeObject(t, base, "documents", "2026/10/passport.pdf", "passport")
	writeObject(t, base, "documents", "id.png", "id")

	store, err := NewLocalStore(base, Options{})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "documents")
	stats, err := store.SyncBucketToLocal(context.Background(), "documents", dest)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Objects)
	assert.Equal(t, 2, stats.Copied)
	assert.Equal(t, int64(len("passport")+len("id")), stats.Bytes)

	data, err := os.ReadFile(filepath.Join(dest, "2026", "10", "passport.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "passport", string(data))

	// second pass copies nothing
	stats, err = store.SyncBucketToLocal(context.Background(), "documents", dest)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Copied)
	assert.Equal(t, 2, stats.Skipped)
}

func TestLocalStore_SyncCopiesChangedAndKeepsLocalExtras(t *testing.T) {
	base := t.TempDir()
	writeObject(t, base, "photos", "selfie.jpg", "v1")

	store, err := NewLocalStore(base, Options{})
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "local-only.jpg"), []byte("keep"), 0o644))

	_, err = store.SyncBucketToLocal(context.Background(), "photos", dest)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	writeObject(t, base, "photos", "selfie.jpg", "v2-longer")
	require.NoError(t, os.Chtimes(filepath.Join(base, "photos", "selfie.jpg"), later, later))

	stats, err := store.SyncBucketToLocal(context.Background(), "photos", dest)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)

	data, err := os.ReadFile(filepath.Join(dest, "selfie.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "v2-longer", string(data))
	assert.FileExists(t, filepath.Join(dest, "local-only.jpg"))

	matches, err := filepath.Glob(filepath.Join(dest, ".*.partial"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLocalStore_MissingBucket(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), Options{})
	require.NoError(t, err)

	_, err = store.SyncBucketToLocal(context.Background(), "nope", t.TempDir())
	assert.Error(t, err)
}

func TestLocalPath(t *testing.T) {
	dir := "/mirror/documents"

	p, err := localPath(dir, "a/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a", "b.pdf"), p)

	p, err = localPath(dir, "/leading.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "leading.pdf"), p)

	_, err = localPath(dir, "../escape.pdf")
	assert.Error(t, err)
}

func TestNew_Providers(t *testing.T) {
	store, err := New(context.Background(), config.ObjectStoreConfig{
		Provider: config.ProviderLocal,
		Local:    config.LocalConfig{BasePath: t.TempDir()},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderLocal, store.Provider())

	store, err = New(context.Background(), config.ObjectStoreConfig{
		Provider:  config.ProviderS3,
		Endpoint:  "minio:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Region:    "us-east-1",
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderS3, store.Provider())

	_, err = New(context.Background(), config.ObjectStoreConfig{Provider: "ftp"}, Options{})
	assert.Error(t, err)
}
