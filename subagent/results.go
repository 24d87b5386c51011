package subagent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResultStore receives the full output of sub-agent runs.
type ResultStore interface {
	Write(ctx context.Context, path, text string) error
}

// FileResultStore writes results below a root directory.
type FileResultStore struct {
	Root string
}

// NewFileResultStore creates a store rooted at dir.
func NewFileResultStore(dir string) *FileResultStore {
	return &FileResultStore{Root: dir}
}

func (s *FileResultStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("result path %q escapes the result root", path)
	}
	return filepath.Join(s.Root, clean), nil
}

// Write stores text at path, creating parent directories.
func (s *FileResultStore) Write(ctx context.Context, path, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// Read returns a stored result.
func (s *FileResultStore) Read(_ context.Context, path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read result: %w", err)
	}
	return string(data), nil
}
