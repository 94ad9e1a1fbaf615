// Handling of client connections. A session represents a single connection
// attached to a single topic for its whole lifetime.
//
// The session's authorization level is computed once, before the transport is
// upgraded, and never changes. It decides what the session may send:
//
//   - writable: inbound frames are routed to the whole topic verbatim;
//   - readable: only frames carrying the reserved 'pub' key are relayed,
//     re-wrapped with the session's opaque tag; anything else is dropped
//     silently. A read-only participant has no channel to broadcast
//     arbitrary topic-wide state.

package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaypad/relaypad/server/auth"
	"github.com/relaypad/relaypad/server/logs"
)

const (
	// Terminate a session after this period without any client activity.
	idleSessionTimeout = 55 * time.Second

	// Maximum number of queued outbound messages per session before the
	// session is considered stuck.
	sendQueueLimit = 128
)

// A frame which is valid transport data but not valid JSON. The triggering
// session is closed; other sessions on the topic are unaffected.
var errMalformedFrame = errors.New("malformed frame")

// Session represents a single WS connection attached to a topic.
type Session struct {
	// Websocket connection.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// Name of the topic this session is attached to. Immutable.
	topic string

	// Authorization level, fixed at attach time.
	authLvl auth.Level

	// Session ID; doubles as the opaque attribution tag on relayed
	// reactions. Not a proof of identity.
	sid string

	// Hub the session is attached through.
	hub *Hub

	// Store which owns the session record.
	store *SessionStore

	// Outbound messages, buffered. Serialized frames only.
	send chan []byte

	// Channel for shutting down the session, buffer 1. An optional final
	// frame to write before closing.
	stop chan []byte
}

// queueOut attempts to send a serialized frame to the session. If the send
// queue is full the attempt is abandoned after a short timeout so a stalled
// consumer cannot stall the caller.
func (s *Session) queueOut(data []byte) bool {
	if s == nil {
		return true
	}
	if len(s.send) > sendQueueLimit {
		return false
	}
	select {
	case s.send <- data:
	case <-time.After(time.Microsecond * 50):
		return false
	}
	return true
}

// stopSession requests session termination with an optional final frame.
// Non-blocking: a session already being stopped is left alone.
func (s *Session) stopSession(data []byte) {
	select {
	case s.stop <- data:
	default:
	}
}

// cleanUp is unconditional teardown on exit of the session's read loop:
// remove the session record and detach from the hub.
func (s *Session) cleanUp() {
	if s.store != nil {
		s.store.Delete(s)
	}
	if s.hub != nil {
		s.hub.leave <- &sessionLeave{sess: s}
	}
}

// dispatchRaw applies the authorization policy to one inbound frame and
// routes the result, if any, to the hub. A returned error is a protocol
// error: the caller must close the session.
func (s *Session) dispatchRaw(raw []byte) error {
	statsInc("IncomingMessagesWebsockTotal", 1)

	if !json.Valid(raw) {
		return errMalformedFrame
	}

	switch s.authLvl {
	case auth.LevelWritable:
		// Full publish capability: forward verbatim.
		s.route(raw)

	case auth.LevelReadable:
		var msg ClientComMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Valid JSON but not an object. Unrecognized shape, drop.
			statsInc("DroppedMessagesTotal", 1)
			return nil
		}
		if msg.Pub == nil {
			// No reserved key: a read-only sender may not broadcast
			// arbitrary state. Dropped without an error frame.
			statsInc("DroppedMessagesTotal", 1)
			return nil
		}
		data, err := json.Marshal(&MsgServerPub{UUID: s.sid, Pub: msg.Pub})
		if err != nil {
			return err
		}
		s.route(data)

	default:
		// An invalid session is rejected before attachment; getting here
		// means a bug upstream.
		logs.Err.Println("session: frame from unauthorized session", s.sid)
		return errMalformedFrame
	}
	return nil
}

func (s *Session) route(data []byte) {
	msg := &ServerComMessage{RcptTo: s.topic, Data: data, SkipSid: s.sid}
	select {
	case s.hub.route <- msg:
	default:
		logs.Err.Println("session: hub queue full, frame dropped", s.sid)
		statsInc("DroppedMessagesTotal", 1)
	}
}
