// Package fsutil collects the small filesystem helpers the engine façade
// and CLI need: directory creation, existence/size checks, and backup
// copies (SPEC_FULL.md §4.6). The atomic-temp-file-then-rename pattern
// below follows the teacher's wal.go SaveSnapshot.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// EnsureDir creates dir (and any parents) if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: create dir %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether path exists (of any kind).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Size returns the size in bytes of the file at path.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("fsutil: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// Backup copies src to dst byte-for-byte, via a temp file plus atomic
// rename so a crash mid-copy never leaves a half-written backup at dst.
func Backup(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fsutil: open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("fsutil: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsutil: copy %s to %s: %w", src, tmp, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsutil: sync %s: %w", tmp, err)
	}
	out.Close()
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fsutil: rename %s to %s: %w", tmp, dst, err)
	}
	return nil
}

// BackupCompressed copies src to dst as a zstd-compressed stream, for
// operators shipping a store snapshot off-box economically. Round-trip
// fidelity is identical to Backup; only the on-disk bytes differ.
func BackupCompressed(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fsutil: open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("fsutil: create %s: %w", tmp, err)
	}
	zw, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsutil: new zstd writer: %w", err)
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsutil: compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsutil: flush zstd writer: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsutil: sync %s: %w", tmp, err)
	}
	out.Close()
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fsutil: rename %s to %s: %w", tmp, dst, err)
	}
	return nil
}

// RestoreCompressed decompresses a zstd snapshot produced by
// BackupCompressed back to a plain file at dst.
func RestoreCompressed(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fsutil: open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("fsutil: new zstd reader: %w", err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("fsutil: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, zr); err != nil {
		return fmt.Errorf("fsutil: decompress %s: %w", src, err)
	}
	return out.Sync()
}
