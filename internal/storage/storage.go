package storage

import (
	"context"
	"io"
)

// FileStorage abstracts where uploaded media lives. The engine only ever
// saves, opens, and deletes; listing and metadata stay in the database.
type FileStorage interface {
	Save(ctx context.Context, entityName, fileID, filename string, reader io.Reader) (string, error)
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, storagePath string) error
}
