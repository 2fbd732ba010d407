// Package store persists detached sessions' component state so a client
// can reattach after a disconnect. Backends implement the same small
// interface: in-memory for single-process deployments, database/sql or
// Redis for shared ones.
//
// Reclamation is lazy: entries carry an expiry and backends drop them on
// read or during periodic cleanup. The idle timeout itself is policy owned
// by the server configuration.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/edelvalle/djhtmx/pkg/registry"
)

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is the persistence contract for detached session state.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists a session's registry snapshot, overwriting any
	// previous entry, with the given expiry.
	Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error

	// Load retrieves a snapshot. A missing or expired session returns
	// (nil, nil); errors are backend failures only.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Delete removes a session. Deleting a missing session is not an
	// error.
	Delete(ctx context.Context, sessionID string) error

	// Touch extends a session's expiry without rewriting its data.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error

	// Close releases backend resources.
	Close() error
}

// EncodeSnapshot serializes a registry snapshot for storage.
func EncodeSnapshot(snap *registry.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// DecodeSnapshot deserializes a stored registry snapshot.
func DecodeSnapshot(data []byte) (*registry.Snapshot, error) {
	var snap registry.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
