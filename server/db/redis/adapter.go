// Package redis is a snapshot storage adapter backed by Redis. Expiry is
// delegated to the backend's native TTL: every write sets PX, so an expired
// snapshot simply stops existing.
package redis

import (
	"encoding/json"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/relaypad/relaypad/server/store"
	t "github.com/relaypad/relaypad/server/store/types"
)

// adapter holds the Redis connection pool.
type adapter struct {
	pool      *redis.Pool
	keyPrefix string
}

const (
	defaultAddr      = "localhost:6379"
	defaultKeyPrefix = "snapshot:"

	adapterName = "redis"
)

type configType struct {
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	Database  int    `json:"database,omitempty"`
	UseTLS    bool   `json:"tls,omitempty"`
	MaxIdle   int    `json:"max_idle,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// Open initializes the connection pool and pings the server.
func (a *adapter) Open(jsonconf json.RawMessage) error {
	if a.pool != nil {
		return t.StoreError("adapter redis is already connected")
	}

	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return t.ErrMalformed
		}
	}
	if config.Addr == "" {
		config.Addr = defaultAddr
	}
	a.keyPrefix = config.KeyPrefix
	if a.keyPrefix == "" {
		a.keyPrefix = defaultKeyPrefix
	}

	a.pool = &redis.Pool{
		MaxIdle:     config.MaxIdle,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", config.Addr,
				redis.DialPassword(config.Password),
				redis.DialDatabase(config.Database),
				redis.DialUseTLS(config.UseTLS))
		},
	}

	conn := a.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		a.pool.Close()
		a.pool = nil
		return t.ErrUnavailable
	}
	return nil
}

// Close terminates the connection pool.
func (a *adapter) Close() error {
	if a.pool == nil {
		return nil
	}
	err := a.pool.Close()
	a.pool = nil
	return err
}

// IsOpen checks if the adapter is connected.
func (a *adapter) IsOpen() bool {
	return a.pool != nil
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// SnapshotSet writes the payload with a millisecond TTL derived from ExpiresAt.
func (a *adapter) SnapshotSet(snap *t.Snapshot) error {
	ttl := time.Until(snap.ExpiresAt).Milliseconds()
	if ttl <= 0 {
		// Already expired; nothing worth storing.
		return nil
	}

	conn := a.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", a.keyPrefix+snap.Topic, snap.Payload, "PX", ttl); err != nil {
		return t.ErrUnavailable
	}
	return nil
}

// SnapshotGet reads the payload. Redis reclaims expired keys itself, so a
// missing key covers both "never written" and "expired".
func (a *adapter) SnapshotGet(topic string) (*t.Snapshot, error) {
	conn := a.pool.Get()
	defer conn.Close()

	payload, err := redis.Bytes(conn.Do("GET", a.keyPrefix+topic))
	if err == redis.ErrNil {
		return nil, t.ErrNotFound
	}
	if err != nil {
		return nil, t.ErrUnavailable
	}
	return &t.Snapshot{Topic: topic, Payload: payload}, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
