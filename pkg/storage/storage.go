// Package storage abstracts the durable object store holding raw audio
// segments and merged recordings.
package storage

import "context"

// ObjectStore is the narrow contract the pipeline needs from durable
// storage: put, get and a server-side merge of parts into a final object.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Merge concatenates the parts, in order, into finalKey. Parts remain
	// individually available afterwards.
	Merge(ctx context.Context, finalKey string, partKeys []string) error
	// URL returns an addressable location for a stored object.
	URL(key string) string
}
