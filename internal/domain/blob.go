package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver copies rows that are about to be deleted into cold storage and
// returns the object path written ("" when there was nothing to archive).
type Archiver interface {
	ArchiveOddsSnapshots(ctx context.Context, before time.Time) (string, int64, error)
	ArchivePredictions(ctx context.Context, before time.Time) (string, int64, error)
}
