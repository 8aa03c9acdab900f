package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements Storage on a local directory, for development
// and tests.
type LocalStorage struct {
	root    string
	baseURL string
}

// NewLocalStorage creates a directory-backed Storage rooted at root.
// baseURL prefixes public URLs, e.g. "http://localhost:8080/static".
func NewLocalStorage(root, baseURL string) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: root directory is required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (s *LocalStorage) Put(_ context.Context, path string, data []byte, _ string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Join(ErrFailedToStore, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return errors.Join(ErrFailedToStore, err)
	}
	return nil
}

func (s *LocalStorage) Get(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *LocalStorage) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStorage) URL(path string) string {
	key, err := cleanPath(path)
	if err != nil {
		return ""
	}
	return s.baseURL + "/" + key
}

func (s *LocalStorage) resolve(path string) (string, error) {
	key, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// cleanPath normalizes an object path and rejects traversal attempts.
func cleanPath(path string) (string, error) {
	cleaned := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+path)), "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}
