package engine

import (
	"context"
	"fmt"
	"log"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"syrup-backend/internal/metadata"
	"syrup-backend/internal/storage"
)

var allowedImageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true,
}

// ImageManager owns file lifecycle for image columns. Rows store the
// storage-relative path; file operations happen outside the row
// transaction, so a crash between the two can orphan a file but never a
// dangling reference.
type ImageManager struct {
	storage     storage.FileStorage
	maxFileSize int64
}

func NewImageManager(fs storage.FileStorage, maxFileSize int64) *ImageManager {
	return &ImageManager{storage: fs, maxFileSize: maxFileSize}
}

// ValidateUpload checks size and extension before any file IO happens.
func (im *ImageManager) ValidateUpload(fh *multipart.FileHeader) error {
	if fh.Size > im.maxFileSize {
		return ValidationError([]ErrorDetail{{
			Field:   "image",
			Rule:    "max_size",
			Message: fmt.Sprintf("Image exceeds the maximum size of %d bytes", im.maxFileSize),
		}})
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedImageExts[ext] {
		return ValidationError([]ErrorDetail{{
			Field:   "image",
			Rule:    "format",
			Message: fmt.Sprintf("Unsupported image format: %s", ext),
		}})
	}
	return nil
}

// Save stores the upload under a fresh id and returns the path to persist
// in the row.
func (im *ImageManager) Save(ctx context.Context, entity *metadata.Entity, fh *multipart.FileHeader) (string, error) {
	if err := im.ValidateUpload(fh); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	fileID := uuid.NewString()
	path, err := im.storage.Save(ctx, entity.Name, fileID, filepath.Base(fh.Filename), src)
	if err != nil {
		return "", fmt.Errorf("store upload for %s: %w", entity.Name, err)
	}
	return path, nil
}

// Replace removes the previous file when the row carried one, then saves
// the new upload. The old file goes first so a retry after a partial
// failure re-runs cleanly.
func (im *ImageManager) Replace(ctx context.Context, entity *metadata.Entity, live map[string]any, fh *multipart.FileHeader) (string, error) {
	im.Remove(ctx, entity, live)
	return im.Save(ctx, entity, fh)
}

// Remove deletes the file referenced by the row's image column, if any.
// Deletion failures are logged and swallowed; the row operation proceeds.
func (im *ImageManager) Remove(ctx context.Context, entity *metadata.Entity, live map[string]any) {
	imgField := entity.ImageField()
	if imgField == nil || live == nil {
		return
	}
	path := metadata.Stringify(live[imgField.Name])
	if path == "" {
		return
	}
	if err := im.storage.Delete(ctx, path); err != nil {
		log.Printf("image delete failed for %s: %v", path, err)
	}
}
