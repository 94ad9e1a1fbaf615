// Package mysql is a snapshot storage adapter backed by MySQL. MySQL has no
// per-row TTL, so expiry is enforced in the read predicate against a stored
// expiresat timestamp; physical reclamation of dead rows is left to the
// deployment (event scheduler or cron).
package mysql

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/relaypad/relaypad/server/store"
	t "github.com/relaypad/relaypad/server/store/types"
)

// adapter holds the MySQL connection handle.
type adapter struct {
	db *sqlx.DB
}

const (
	defaultDSN = "root@tcp(localhost:3306)/relaypad?parseTime=true"

	adapterName = "mysql"
)

type configType struct {
	DSN             string `json:"dsn,omitempty"`
	MaxOpenConns    int    `json:"max_open_conns,omitempty"`
	MaxIdleConns    int    `json:"max_idle_conns,omitempty"`
	ConnMaxLifetime int    `json:"conn_max_lifetime,omitempty"`
}

// Open initializes the database connection.
func (a *adapter) Open(jsonconf json.RawMessage) error {
	if a.db != nil {
		return t.StoreError("adapter mysql is already connected")
	}

	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return t.ErrMalformed
		}
	}
	if config.DSN == "" {
		config.DSN = defaultDSN
	}

	var err error
	a.db, err = sqlx.Open("mysql", config.DSN)
	if err != nil {
		return err
	}
	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

	if err = a.db.Ping(); err != nil {
		a.db.Close()
		a.db = nil
		return t.ErrUnavailable
	}
	return nil
}

// Close terminates the database connection.
func (a *adapter) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// IsOpen checks if the adapter is connected.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// SnapshotSet upserts the snapshot row, last writer wins.
func (a *adapter) SnapshotSet(snap *t.Snapshot) error {
	_, err := a.db.Exec(
		"INSERT INTO snapshots(topic,payload,expiresat) VALUES(?,?,?) "+
			"ON DUPLICATE KEY UPDATE payload=VALUES(payload),expiresat=VALUES(expiresat)",
		snap.Topic, snap.Payload, snap.ExpiresAt)
	if err != nil {
		return t.ErrUnavailable
	}
	return nil
}

// SnapshotGet reads the snapshot row, treating rows past expiresat as absent
// even when they have not been reaped yet.
func (a *adapter) SnapshotGet(topic string) (*t.Snapshot, error) {
	var snap t.Snapshot
	err := a.db.QueryRowx(
		"SELECT topic,payload,expiresat FROM snapshots WHERE topic=? AND expiresat>?",
		topic, time.Now().UTC()).Scan(&snap.Topic, &snap.Payload, &snap.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, t.ErrNotFound
	}
	if err != nil {
		return nil, t.ErrUnavailable
	}
	return &snap, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
