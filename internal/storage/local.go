package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"automation-core/internal/store"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// LocalKV stores each key as one file under basePath. Writes go through a
// temp file and rename so readers never see a partial value.
type LocalKV struct {
	basePath string
	prefix   string
}

func NewLocalKV(basePath, prefix string) (*LocalKV, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	return &LocalKV{basePath: basePath, prefix: prefix}, nil
}

func (s *LocalKV) path(key string) string {
	return filepath.Join(s.basePath, unsafeKeyChars.ReplaceAllString(s.prefix+key, "_")+".json")
}

func (s *LocalKV) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *LocalKV) Put(_ context.Context, key string, value []byte) error {
	f, err := os.CreateTemp(s.basePath, ".kv-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(value); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (s *LocalKV) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
