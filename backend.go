package planbase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
)

// Backend is the key/value byte store underneath a Store. Keys are
// slash-separated paths such as "tasks/<id>.json".
type Backend interface {
	// Object operations
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Conditional operations (for optimistic locking)
	// Returns ETag after successful put
	PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (string, error)
	GetWithETag(ctx context.Context, key string) (data []byte, etag string, err error)

	// List operations. Keys are returned in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// computeETag derives an ETag from content, matching what S3 returns for
// single-part uploads.
func computeETag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
