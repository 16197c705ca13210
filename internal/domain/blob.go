package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves the event logs of settled markets to cold storage.
type Archiver interface {
	ArchiveResolved(ctx context.Context) (int, error)
}

// BlobReader inspects objects in storage.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}
