// Package blob holds backends for configuration blobs kept outside the batch database.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound returned by Get when no blob exists under the key
var ErrNotFound = errors.New("blob not found")

// Store key/value blob storage. Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
