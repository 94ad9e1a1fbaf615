package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/relaypad/relaypad/server/auth"
)

// Pull the next message off the hub's routing queue, failing the test if
// nothing was routed.
func nextRouted(t *testing.T, h *Hub) *ServerComMessage {
	t.Helper()
	select {
	case msg := <-h.route:
		return msg
	default:
		t.Fatal("no message routed to the hub")
		return nil
	}
}

func assertNothingRouted(t *testing.T, h *Hub) {
	t.Helper()
	select {
	case msg := <-h.route:
		t.Fatalf("unexpected message routed: %q", msg.Data)
	default:
	}
}

func TestWritableForwardsVerbatim(t *testing.T) {
	h := testHub()
	sess := testSession(h, "tpc-one", "sid-alice", auth.LevelWritable)

	// Arbitrary shape, including a 'pub' key, goes through untouched.
	raw := []byte(`{"slide":2,"pub":{"emoji":"+1"},"notes":"  spacing kept  "}`)
	if err := sess.dispatchRaw(raw); err != nil {
		t.Fatalf("dispatchRaw: %v", err)
	}

	msg := nextRouted(t, h)
	if msg.RcptTo != "tpc-one" {
		t.Errorf("routed to %q, want tpc-one", msg.RcptTo)
	}
	if msg.SkipSid != sess.sid {
		t.Errorf("SkipSid = %q, want %q", msg.SkipSid, sess.sid)
	}
	if !bytes.Equal(msg.Data, raw) {
		t.Errorf("frame altered in flight: %q", msg.Data)
	}
}

func TestReadableWrapsReaction(t *testing.T) {
	h := testHub()
	sess := testSession(h, "tpc-one", "sid-bob", auth.LevelReadable)

	if err := sess.dispatchRaw([]byte(`{"pub":{"emoji":"+1"},"slide":7}`)); err != nil {
		t.Fatalf("dispatchRaw: %v", err)
	}

	msg := nextRouted(t, h)
	var wrapped MsgServerPub
	if err := json.Unmarshal(msg.Data, &wrapped); err != nil {
		t.Fatalf("relayed frame is not a wrapped reaction: %v", err)
	}
	if wrapped.UUID != sess.sid {
		t.Errorf("uuid = %q, want %q", wrapped.UUID, sess.sid)
	}
	if string(wrapped.Pub) != `{"emoji":"+1"}` {
		t.Errorf("pub = %q, want the original reaction", wrapped.Pub)
	}
	// The sibling key must not leak through the wrapper.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &keys); err != nil {
		t.Fatal(err)
	}
	if _, leaked := keys["slide"]; leaked {
		t.Errorf("non-reaction key forwarded by a read-only session: %q", msg.Data)
	}
}

func TestReadableDropsUntagged(t *testing.T) {
	h := testHub()
	sess := testSession(h, "tpc-one", "sid-bob", auth.LevelReadable)

	for _, raw := range []string{
		`{"slide":3}`,
		`{}`,
		`[1,2,3]`,
		`"hello"`,
		`42`,
	} {
		if err := sess.dispatchRaw([]byte(raw)); err != nil {
			t.Errorf("%s: dropped frame must not close the session: %v", raw, err)
		}
		assertNothingRouted(t, h)
	}
}

func TestMalformedFrameClosesSession(t *testing.T) {
	h := testHub()
	for _, lvl := range []auth.Level{auth.LevelWritable, auth.LevelReadable} {
		sess := testSession(h, "tpc-one", "sid-x", lvl)
		if err := sess.dispatchRaw([]byte(`{"pub":`)); err != errMalformedFrame {
			t.Errorf("%s: err = %v, want errMalformedFrame", lvl, err)
		}
		assertNothingRouted(t, h)
	}
}

func TestQueueOutOverflow(t *testing.T) {
	sess := &Session{send: make(chan []byte, sendQueueLimit+2)}
	for i := 0; i <= sendQueueLimit; i++ {
		sess.send <- []byte(`{}`)
	}
	if sess.queueOut([]byte(`{"late":true}`)) {
		t.Error("queueOut accepted a frame past the queue limit")
	}
}
