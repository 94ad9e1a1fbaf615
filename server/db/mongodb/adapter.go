// Package mongodb is a snapshot storage adapter backed by MongoDB. A TTL index
// on expiresat reclaims dead documents; the read predicate checks expiresat as
// well because the TTL monitor only runs periodically.
package mongodb

import (
	"context"
	"encoding/json"
	"time"

	b "go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relaypad/relaypad/server/store"
	t "github.com/relaypad/relaypad/server/store/types"
)

// adapter holds the MongoDB connection data.
type adapter struct {
	conn *mdb.Client
	db   *mdb.Database
	ctx  context.Context
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "relaypad"

	adapterName = "mongodb"
)

type configType struct {
	Addresses      []string `json:"addresses,omitempty"`
	ConnectTimeout int      `json:"timeout,omitempty"`
	Database       string   `json:"database,omitempty"`
	ReplicaSet     string   `json:"replica_set,omitempty"`
	AuthSource     string   `json:"auth_source,omitempty"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
}

type snapshotDoc struct {
	Topic     string    `bson:"_id"`
	Payload   []byte    `bson:"payload"`
	ExpiresAt time.Time `bson:"expiresat"`
}

// Open initializes the MongoDB session.
func (a *adapter) Open(jsonconf json.RawMessage) error {
	if a.conn != nil {
		return t.StoreError("adapter mongodb is already connected")
	}

	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return t.ErrMalformed
		}
	}

	var opts mdbopts.ClientOptions
	if len(config.Addresses) == 0 {
		opts.SetHosts([]string{defaultHost})
	} else {
		opts.SetHosts(config.Addresses)
	}
	if config.ReplicaSet != "" {
		opts.SetReplicaSet(config.ReplicaSet)
	}
	if config.Username != "" {
		cred := mdbopts.Credential{
			Username:   config.Username,
			Password:   config.Password,
			AuthSource: config.AuthSource,
		}
		opts.SetAuth(cred)
	}
	if config.Database == "" {
		config.Database = defaultDatabase
	}

	a.ctx = context.Background()
	ctx := a.ctx
	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(a.ctx, time.Duration(config.ConnectTimeout)*time.Second)
		defer cancel()
	}

	conn, err := mdb.Connect(ctx, &opts)
	if err != nil {
		return t.ErrUnavailable
	}
	a.conn = conn
	a.db = conn.Database(config.Database)

	// TTL index: expireAfterSeconds=0 means "drop at the time stored in the
	// indexed field".
	_, err = a.snapshots().Indexes().CreateOne(a.ctx, mdb.IndexModel{
		Keys:    b.D{{Key: "expiresat", Value: 1}},
		Options: mdbopts.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		a.conn.Disconnect(a.ctx)
		a.conn = nil
		a.db = nil
		return t.ErrUnavailable
	}
	return nil
}

// Close the connection.
func (a *adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Disconnect(a.ctx)
	a.conn = nil
	a.db = nil
	return err
}

// IsOpen checks if the adapter is connected.
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

func (a *adapter) snapshots() *mdb.Collection {
	return a.db.Collection("snapshots")
}

// SnapshotSet replaces the snapshot document, last writer wins.
func (a *adapter) SnapshotSet(snap *t.Snapshot) error {
	doc := snapshotDoc{
		Topic:     snap.Topic,
		Payload:   snap.Payload,
		ExpiresAt: snap.ExpiresAt,
	}
	_, err := a.snapshots().ReplaceOne(a.ctx,
		b.M{"_id": snap.Topic}, doc, mdbopts.Replace().SetUpsert(true))
	if err != nil {
		return t.ErrUnavailable
	}
	return nil
}

// SnapshotGet reads the snapshot document, treating documents past expiresat
// as absent even if the TTL monitor has not swept them yet.
func (a *adapter) SnapshotGet(topic string) (*t.Snapshot, error) {
	var doc snapshotDoc
	err := a.snapshots().FindOne(a.ctx,
		b.M{"_id": topic, "expiresat": b.M{"$gt": time.Now().UTC()}}).Decode(&doc)
	if err == mdb.ErrNoDocuments {
		return nil, t.ErrNotFound
	}
	if err != nil {
		return nil, t.ErrUnavailable
	}
	return &t.Snapshot{Topic: doc.Topic, Payload: doc.Payload, ExpiresAt: doc.ExpiresAt}, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
