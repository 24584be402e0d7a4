// Package relocate moves completed artifacts from the ephemeral local
// filesystem into durable storage behind a public URL.
package relocate

import "context"

// Backend abstracts durable object storage. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Exists reports whether an object with the given key is already stored.
	Exists(ctx context.Context, key string) (bool, error)
	// Save stores content under key and returns its public URL.
	Save(ctx context.Context, key string, content []byte, contentType string) (string, error)
	// URL returns the public URL for an existing key without uploading.
	URL(ctx context.Context, key string) (string, error)
	// Delete removes an object. Deleting an unknown key is not an error.
	Delete(ctx context.Context, key string) error
	// PurgeExpired removes objects older than ttl seconds and returns the
	// number removed.
	PurgeExpired(ctx context.Context, ttl int) (int, error)
}
