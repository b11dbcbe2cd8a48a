package clientcache

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	fileExt   = ".entry"
	tmpPrefix = ".tmp-"
)

// FileStorage keeps one file per key under a directory. File names are the
// SHA-256 of the key; the first line of each file holds the key itself.
type FileStorage struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

// NewFileStorage creates dir if needed. A positive quota caps the total
// bytes of all entry files.
func NewFileStorage(dir string, quota int64) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStorage{dir: dir, quota: quota}, nil
}

// DefaultDir returns the per-user cache directory for the browse CLI
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "screenshelf"), nil
}

func (s *FileStorage) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+fileExt)
}

func (s *FileStorage) GetItem(key string) (string, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	k, v, ok := strings.Cut(string(b), "\n")
	if !ok || k != key {
		// Unreadable layout is reported as a corrupt value so the cache purges it
		return string(b), true, nil
	}
	return v, true, nil
}

func (s *FileStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.Contains(key, "\n") {
		return fmt.Errorf("key contains newline: %q", key)
	}
	data := key + "\n" + value
	fp := s.path(key)

	if s.quota > 0 {
		used, err := s.usage()
		if err != nil {
			return err
		}
		if fi, err := os.Stat(fp); err == nil {
			used -= fi.Size()
		}
		if used+int64(len(data)) > s.quota {
			return ErrQuotaExceeded
		}
	}

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, fp); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FileStorage) RemoveItem(key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Keys reads the key line of every entry file. Files whose key line cannot
// be read are skipped.
func (s *FileStorage) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		k, err := readKeyLine(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func readKeyLine(fp string) (string, error) {
	f, err := os.Open(fp)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// usage sums entry file sizes. Caller holds mu.
func (s *FileStorage) usage() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		total += fi.Size()
	}
	return total, nil
}
