// Package store provides methods for registering and accessing snapshot
// storage adapters.
package store

import (
	"encoding/json"
	"time"

	"github.com/relaypad/relaypad/server/store/adapter"
	"github.com/relaypad/relaypad/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Snapshot expiry window. A write resets the window; a read past it behaves
// as not-found.
var expiryWindow = 7 * 24 * time.Hour

type configType struct {
	// Expiry window for snapshots, seconds. Zero means the default (7 days).
	SnapshotExpirySec int `json:"snapshot_expiry"`
	// Adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

// Open initializes the selected adapter from a JSON configuration blob.
func Open(jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return types.ErrMalformed
	}

	if adp == nil {
		if config.UseAdapter != "" {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return types.StoreError("store: adapter '" + config.UseAdapter + "' is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only registered adapter.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return types.StoreError("store: adapter is not specified; set store_config.use_adapter")
		}
	}

	if adp.IsOpen() {
		return types.StoreError("store: connection is already opened")
	}

	if config.SnapshotExpirySec > 0 {
		expiryWindow = time.Duration(config.SnapshotExpirySec) * time.Second
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}
	return adp.Open(adapterConfig)
}

// Close terminates the adapter connection.
func Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}
	return nil
}

// GetAdapterName returns the name of the active adapter.
func GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}
	return ""
}

// RegisterAdapter makes a snapshot storage adapter available by name.
// Intended to be called from the adapter's init() function.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: registering nil adapter")
	}
	name := a.GetName()
	if _, ok := availableAdapters[name]; ok {
		panic("store: adapter '" + name + "' is already registered")
	}
	availableAdapters[name] = a
}

// SnapshotsPersistenceInterface is the interface which the Snapshots object
// implements. Extracted for mocking in tests.
type SnapshotsPersistenceInterface interface {
	Put(topic string, payload []byte) error
	Get(topic string) ([]byte, error)
}

// SnapshotsObjMapper is a concrete SnapshotsPersistenceInterface backed by the
// active adapter.
type SnapshotsObjMapper struct{}

// Snapshots is the public interface to the per-topic snapshot storage.
var Snapshots SnapshotsPersistenceInterface = SnapshotsObjMapper{}

// Put replaces the snapshot for a topic, last writer wins, and resets the
// expiry window.
func (SnapshotsObjMapper) Put(topic string, payload []byte) error {
	return adp.SnapshotSet(&types.Snapshot{
		Topic:     topic,
		Payload:   payload,
		ExpiresAt: time.Now().UTC().Add(expiryWindow),
	})
}

// Get returns the snapshot payload for a topic or types.ErrNotFound when the
// snapshot is absent or past its expiry window.
func (SnapshotsObjMapper) Get(topic string) ([]byte, error) {
	snap, err := adp.SnapshotGet(topic)
	if err != nil {
		return nil, err
	}
	return snap.Payload, nil
}
