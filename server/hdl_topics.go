// Topic endpoints: minting capability pairs, reading and writing snapshots,
// and upgrading to the message stream.
//
// Response discipline: permission-sensitive reads are indistinguishable from
// genuine absence. A GET with a tampered pair gets the same 404 as a GET for
// a topic that never existed, so probing cannot confirm near-valid ids.

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/relaypad/relaypad/server/auth"
	"github.com/relaypad/relaypad/server/logs"
	"github.com/relaypad/relaypad/server/store"
	"github.com/relaypad/relaypad/server/store/types"
)

const topicsPath = "/api/topics/"

// serveTopicCreate mints a fresh capability pair: POST /api/topics.
func serveTopicCreate(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		wrt.Header().Set("Allow", "POST")
		http.Error(wrt, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	pair, err := globals.codec.Mint()
	if err != nil {
		logs.Err.Println("topics: mint failed:", err)
		http.Error(wrt, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	statsInc("TopicsMintedTotal", 1)

	wrt.Header().Set("Content-Type", "application/json")
	wrt.WriteHeader(http.StatusCreated)
	json.NewEncoder(wrt).Encode(&MsgTopicCreated{
		TopicID: pair.Topic,
		Secret:  pair.Secret,
		SubPath: topicsPath + pair.Topic,
		PubPath: topicsPath + pair.Topic + "?secret=" + pair.Secret,
	})
}

// serveTopic handles everything scoped to one topic:
// GET /api/topics/{id} without upgrade - read the snapshot;
// GET /api/topics/{id} with upgrade    - attach to the message stream;
// POST /api/topics/{id}                - write the snapshot.
func serveTopic(wrt http.ResponseWriter, req *http.Request) {
	topic := strings.TrimPrefix(req.URL.Path, topicsPath)
	if topic == "" || strings.Contains(topic, "/") {
		http.Error(wrt, "Not Found", http.StatusNotFound)
		return
	}

	authLvl := globals.codec.Verify(auth.Pair{Topic: topic, Secret: req.URL.Query().Get("secret")})

	switch req.Method {
	case http.MethodPost:
		if authLvl != auth.LevelWritable {
			http.Error(wrt, "Invalid secret", http.StatusForbidden)
			return
		}
		body, err := io.ReadAll(req.Body)
		if err != nil || !json.Valid(body) {
			http.Error(wrt, "Malformed request body", http.StatusBadRequest)
			return
		}
		if err := store.Snapshots.Put(topic, body); err != nil {
			logs.Err.Println("topics: snapshot write failed:", topic, err)
			http.Error(wrt, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		wrt.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		if authLvl == auth.LevelInvalid {
			// Same response as a missing topic.
			http.Error(wrt, "Not Found", http.StatusNotFound)
			return
		}

		if websocket.IsWebSocketUpgrade(req) {
			serveTopicSocket(wrt, req, topic, authLvl)
			return
		}

		payload, err := store.Snapshots.Get(topic)
		if err == types.ErrNotFound {
			http.Error(wrt, "Not Found", http.StatusNotFound)
			return
		}
		if err != nil {
			logs.Err.Println("topics: snapshot read failed:", topic, err)
			http.Error(wrt, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		wrt.Header().Set("Content-Type", "application/json")
		wrt.Write(payload)

	default:
		wrt.Header().Set("Allow", "GET, POST")
		http.Error(wrt, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}
