package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PackDirs writes a tar stream holding each directory under its base name.
// Directories are walked in the order given.
func PackDirs(ctx context.Context, w io.Writer, dirs []string) (int, error) {
	tw := tar.NewWriter(w)
	files := 0

	for _, dir := range dirs {
		base := filepath.Base(dir)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(filepath.Join(base, rel))

			info, err := d.Info()
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() && !info.IsDir() {
				// sockets, devices and symlinks never come out of a bucket sync
				return nil
			}

			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name
			if info.IsDir() {
				hdr.Name += "/"
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			closeErr := f.Close()
			if err != nil {
				return err
			}
			if closeErr != nil {
				return closeErr
			}
			files++
			return nil
		})
		if err != nil {
			return files, fmt.Errorf("failed to pack %s: %w", dir, err)
		}
	}

	if err := tw.Close(); err != nil {
		return files, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	return files, nil
}

// Extract unpacks a tar stream under dest, refusing entries that escape it
func Extract(ctx context.Context, r io.Reader, dest string) (int, error) {
	tr := tar.NewReader(r)
	files := 0
	root := filepath.Clean(dest)

	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("failed to read tar entry: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return files, fmt.Errorf("tar entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return files, err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return files, err
			}
			_, err = io.Copy(f, tr)
			closeErr := f.Close()
			if err != nil {
				return files, fmt.Errorf("failed to write %s: %w", target, err)
			}
			if closeErr != nil {
				return files, closeErr
			}
			files++
		}
	}
}
