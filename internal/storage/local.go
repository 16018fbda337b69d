package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LocalStorage implements ObjectStorage on a local directory. Keys are
// slash-separated paths relative to the root.
type LocalStorage struct {
	rootDir string
	now     func() time.Time
}

type LocalOption func(*LocalStorage)

// WithClock sets the time stamped on stored objects.
func WithClock(now func() time.Time) LocalOption {
	return func(s *LocalStorage) { s.now = now }
}

// NewLocalStorage does not touch the filesystem; directories are created on upload.
func NewLocalStorage(rootDir string, opts ...LocalOption) *LocalStorage {
	s := &LocalStorage{rootDir: expandTilde(rootDir), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path[2:])
	}
	return path
}

func (s *LocalStorage) ListObjects(_ context.Context, prefix string) ([]ObjectInfo, error) {
	results := make([]ObjectInfo, 0)
	if _, err := os.Stat(s.rootDir); err != nil {
		if os.IsNotExist(err) {
			return results, nil
		}
		return nil, err
	}

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		results = append(results, ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local list %s failed: %w", s.rootDir, err)
	}
	return results, nil
}

// UploadFile copies localPath to root/key. The stored copy is stamped with
// the store time, since retention ages objects by modification time.
func (s *LocalStorage) UploadFile(_ context.Context, key, localPath string) error {
	dest, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("failed creating directory for %s: %w", dest, err)
	}
	if err := CopyFile(localPath, dest); err != nil {
		return fmt.Errorf("local store %s failed: %w", key, err)
	}
	stored := s.now()
	if err := os.Chtimes(dest, stored, stored); err != nil {
		return fmt.Errorf("local store %s failed: %w", key, err)
	}
	return nil
}

// DeleteObject removes root/key and any directories left empty by it.
func (s *LocalStorage) DeleteObject(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("local delete %s failed: %w", key, err)
	}
	return s.removeEmptyDirs(filepath.Dir(path))
}

func (s *LocalStorage) Ping(_ context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("local backup root %s is not a directory", s.rootDir)
	}
	return nil
}

func (s *LocalStorage) Describe() string {
	return s.rootDir
}

func (s *LocalStorage) resolve(key string) (string, error) {
	path := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if !pathWithinRoot(s.rootDir, path) || path == filepath.Clean(s.rootDir) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return path, nil
}

func (s *LocalStorage) removeEmptyDirs(dir string) error {
	root := filepath.Clean(s.rootDir)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !pathWithinRoot(root, dir) {
			return nil
		}
		err := os.Remove(dir)
		if err == nil {
			dir = filepath.Dir(dir)
			continue
		}
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return nil
		}
		return err
	}
}

// CopyFile copies src to dst and carries over the modification time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func pathWithinRoot(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(rootAbs), filepath.Clean(pathAbs))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

var _ ObjectStorage = (*LocalStorage)(nil)
