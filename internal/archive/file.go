package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CountingWriter counts bytes written through it
type CountingWriter struct {
	W io.Writer
	N int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// DecompressFile streams src through codec into dst and returns the bytes written to dst
func DecompressFile(ctx context.Context, src, dst string, codec Codec) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	cr, err := codec.NewReader(in)
	if err != nil {
		return 0, err
	}
	defer cr.Close()

	return WriteFile(dst, 0o600, func(w io.Writer) error {
		_, err := io.Copy(w, ctxReader{ctx: ctx, r: cr})
		return err
	})
}

// WriteFile creates path, lets fill write to it, syncs and closes it.
// The file is removed if fill or any step after it fails.
func WriteFile(path string, perm os.FileMode, fill func(io.Writer) error) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return 0, err
	}

	counter := &CountingWriter{W: f}
	err = fill(counter)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return counter.N, nil
}

// Publish renames a finished temporary file to its final name. The final
// name must not exist yet.
func Publish(tmp, final string) error {
	if _, err := os.Lstat(final); err == nil {
		os.Remove(tmp)
		return fmt.Errorf("refusing to overwrite existing artifact %s: %w", final, fs.ErrExist)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(final), err)
	}
	return syncDir(filepath.Dir(final))
}

// Checksum returns the hex sha256 of a file
func Checksum(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, ctxReader{ctx: ctx, r: f}); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	// some filesystems do not support fsync on directories
	_ = d.Sync()
	return nil
}
