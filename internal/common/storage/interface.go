package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned, wrapped, when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the subset of S3 operations the task catalog needs.
type ObjectStorage interface {
	// GetObject opens a reader for an object. Caller must close it.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
	ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo
}

// ObjectStat contains object metadata used for cache validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}

// ObjectInfo is one listing entry; Err is set when listing failed.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
	ETag      string
	Err       error
}
