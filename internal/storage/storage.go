package storage

import (
	"context"
	"errors"
	"time"
)

// ErrBucketNotFound is returned by Ping when the configured bucket does not exist.
var ErrBucketNotFound = errors.New("bucket not found")

// ObjectInfo represents metadata for a stored backup object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStorage captures the operations the backup run needs from a target,
// whether it is an S3 bucket or a local directory.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	UploadFile(ctx context.Context, key string, localPath string) error
	DeleteObject(ctx context.Context, key string) error
	// Ping checks that the target is reachable without modifying it.
	Ping(ctx context.Context) error
	// Describe names the target for logs and notifications.
	Describe() string
}

// TotalSize sums the size of every object.
func TotalSize(objects []ObjectInfo) int64 {
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	return total
}
