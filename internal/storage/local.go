package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps uploads on disk under basePath, one directory per
// entity and one per file id, so deleting a file can also reclaim its
// directory. Paths handed back from Save are the only paths Open and
// Delete accept; anything outside basePath is rejected.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: filepath.Clean(basePath)}
}

func (s *LocalStorage) Save(_ context.Context, entityName, fileID, filename string, reader io.Reader) (string, error) {
	dir := filepath.Join(s.basePath, entityName, fileID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	storagePath := filepath.Join(dir, sanitizeFilename(filename))
	f, err := os.Create(storagePath)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return storagePath, nil
}

func (s *LocalStorage) Open(_ context.Context, storagePath string) (io.ReadCloser, error) {
	if err := s.contains(storagePath); err != nil {
		return nil, err
	}
	f, err := os.Open(storagePath)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	return f, nil
}

func (s *LocalStorage) Delete(_ context.Context, storagePath string) error {
	if err := s.contains(storagePath); err != nil {
		return err
	}
	if err := os.Remove(storagePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload: %w", err)
	}
	// The file id directory is empty now, drop it too. Best effort.
	_ = os.Remove(filepath.Dir(storagePath))
	return nil
}

// contains rejects paths that escape basePath. Stored paths come from the
// database, which an admin can edit by hand.
func (s *LocalStorage) contains(storagePath string) error {
	rel, err := filepath.Rel(s.basePath, filepath.Clean(storagePath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q is outside the storage root", storagePath)
	}
	return nil
}

// sanitizeFilename strips any directory component a client smuggled into
// the multipart filename and never returns an empty name.
func sanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "upload"
	}
	return name
}
