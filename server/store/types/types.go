// Package types contains types shared by the snapshot store and its adapters.
package types

import "time"

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrNotFound means the object is not found, never written, or expired.
	ErrNotFound = StoreError("not found")
	// ErrMalformed means the adapter cannot parse its configuration.
	ErrMalformed = StoreError("malformed")
	// ErrUnavailable means the backend is unreachable. The store does not
	// retry; retry policy belongs to the caller.
	ErrUnavailable = StoreError("unavailable")
	// ErrUnsupported means an operation is not supported by the backend.
	ErrUnsupported = StoreError("unsupported")
)

// Snapshot is the latest opaque payload persisted for a topic. One snapshot
// per topic, overwritten on every write.
type Snapshot struct {
	// Topic id the snapshot belongs to.
	Topic string
	// Opaque JSON payload. The store never inspects it.
	Payload []byte
	// Time after which the snapshot reads as absent, whether or not the
	// backend has physically reclaimed it.
	ExpiresAt time.Time
}
