// Package storage provides object store access for the bronze, silver and
// gold data layers.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
// Callers branch on this instead of inspecting provider error strings.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// ObjectStore is the narrow object store surface the sync engine consumes.
// Raw-layer objects are write-once per ingestion run; history objects are
// replaced wholesale, never patched.
type ObjectStore interface {
	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Read returns the full object body. Returns ErrNotFound if the key
	// does not exist.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores the object body under key, replacing any existing object.
	Write(ctx context.Context, key string, body []byte) error

	// LastModified returns the object's last modification time, or nil
	// (without error) if the object does not exist.
	LastModified(ctx context.Context, key string) (*time.Time, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
