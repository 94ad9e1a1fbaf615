// Package adapter contains the interface which snapshot backends must implement.
package adapter

import (
	"encoding/json"

	"github.com/relaypad/relaypad/server/store/types"
)

// Adapter is the interface for a snapshot storage backend.
type Adapter interface {
	// Open and configure the backend.
	Open(jsonconf json.RawMessage) error
	// Close the backend connection.
	Close() error
	// IsOpen checks if the backend is initialized.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string

	// SnapshotSet unconditionally replaces the snapshot for a topic. The
	// adapter must honor snap.ExpiresAt, either through backend-native TTL
	// or by refusing to return expired entries from SnapshotGet.
	SnapshotSet(snap *types.Snapshot) error
	// SnapshotGet returns the live snapshot for a topic, or
	// types.ErrNotFound when it is absent or expired.
	SnapshotGet(topic string) (*types.Snapshot, error)
}
