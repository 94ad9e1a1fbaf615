package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaypad/relaypad/server/auth"
	"github.com/relaypad/relaypad/server/store"
	"github.com/relaypad/relaypad/server/store/types"
)

// In-memory snapshot persistence for handler tests.
type memSnapshots struct {
	lock sync.Mutex
	data map[string][]byte
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{data: make(map[string][]byte)}
}

func (m *memSnapshots) Put(topic string, payload []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.data[topic] = append([]byte(nil), payload...)
	return nil
}

func (m *memSnapshots) Get(topic string) ([]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	payload, ok := m.data[topic]
	if !ok {
		return nil, types.ErrNotFound
	}
	return payload, nil
}

// setupTestServer wires the full request path: mint handler, topic handler,
// a live hub and a fake snapshot store. Restores shared state on cleanup.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	key, err := auth.NewSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	codec, err := auth.NewCodec(key)
	if err != nil {
		t.Fatal(err)
	}
	globals.codec = codec
	globals.maxMessageSize = defaultMaxMessageSize
	globals.hub = newHub()
	globals.sessionStore, err = NewSessionStore(globals.hub, nil)
	if err != nil {
		t.Fatal(err)
	}
	prevSnapshots := store.Snapshots
	store.Snapshots = newMemSnapshots()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/topics", serveTopicCreate)
	mux.HandleFunc(topicsPath, serveTopic)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		globals.sessionStore.Shutdown()
		done := make(chan bool)
		globals.hub.shutdown <- done
		<-done
		store.Snapshots = prevSnapshots
	})
	return srv
}

func mintPair(t *testing.T, srv *httptest.Server) MsgTopicCreated {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/topics", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("mint: status %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var created MsgTopicCreated
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	return created
}

func TestMintEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	created := mintPair(t, srv)
	if created.TopicID == "" || created.Secret == "" {
		t.Fatalf("incomplete pair: %+v", created)
	}
	if created.SubPath != topicsPath+created.TopicID {
		t.Errorf("subPath = %q", created.SubPath)
	}
	if !strings.Contains(created.PubPath, "secret="+created.Secret) {
		t.Errorf("pubPath does not carry the secret: %q", created.PubPath)
	}

	// Two mints never coincide.
	if second := mintPair(t, srv); second.TopicID == created.TopicID {
		t.Error("duplicate topic id minted")
	}

	resp, err := http.Get(srv.URL + "/api/topics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET on the mint endpoint: status %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestSnapshotEndToEnd(t *testing.T) {
	srv := setupTestServer(t)
	created := mintPair(t, srv)

	topicURL := srv.URL + created.SubPath
	writeURL := srv.URL + created.PubPath
	payload := `{"slide":4,"notes":"intro"}`

	// Nothing written yet.
	expectStatus(t, "GET", topicURL, "", http.StatusNotFound)

	// Writing requires the full pair.
	expectStatus(t, "POST", topicURL, payload, http.StatusForbidden)
	expectStatus(t, "POST", topicURL+"?secret=bogus", payload, http.StatusForbidden)
	expectStatus(t, "POST", writeURL, `{"broken":`, http.StatusBadRequest)
	expectStatus(t, "POST", writeURL, payload, http.StatusCreated)

	// Reading works with or without the secret, but not with a wrong one.
	for _, u := range []string{topicURL, writeURL} {
		resp, err := http.Get(u)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", u, resp.StatusCode)
		}
		if string(body) != payload {
			t.Errorf("GET %s: body %q, want %q", u, body, payload)
		}
	}
	expectStatus(t, "GET", topicURL+"?secret=bogus", "", http.StatusNotFound)

	// Last write wins.
	expectStatus(t, "POST", writeURL, `{"slide":5}`, http.StatusCreated)
	resp, err := http.Get(topicURL)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `{"slide":5}` {
		t.Errorf("stale snapshot after overwrite: %q", body)
	}

	// A topic nobody minted is absent, same as a tampered pair.
	expectStatus(t, "GET", srv.URL+topicsPath+"does-not-exist", "", http.StatusNotFound)
	expectStatus(t, "DELETE", topicURL, "", http.StatusMethodNotAllowed)
}

func expectStatus(t *testing.T, method, url, body string, want int) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != want {
		t.Errorf("%s %s: status %d, want %d", method, url, resp.StatusCode, want)
	}
}

// A websocket client with a background read pump, so data frames and pong
// control frames can be awaited independently.
type wsClient struct {
	ws     *websocket.Conn
	frames chan []byte
	pong   chan struct{}
}

func dialTopic(t *testing.T, srv *httptest.Server, path string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal("dial:", err)
	}
	c := &wsClient{ws: ws, frames: make(chan []byte, 16), pong: make(chan struct{}, 1)}
	ws.SetPongHandler(func(string) error {
		select {
		case c.pong <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				close(c.frames)
				return
			}
			c.frames <- msg
		}
	}()
	t.Cleanup(func() { ws.Close() })
	return c
}

// sync pings the server and waits for the pong. The server reads frames only
// after the session is attached to its topic, so a pong means subsequent
// publishes will reach this client.
func (c *wsClient) sync(t *testing.T) {
	t.Helper()
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
		t.Fatal("ping:", err)
	}
	select {
	case <-c.pong:
	case <-time.After(2 * time.Second):
		t.Fatal("no pong: session not attached")
	}
}

func (c *wsClient) publish(t *testing.T, frame string) {
	t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal("publish:", err)
	}
}

func (c *wsClient) expect(t *testing.T) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.frames:
		if !ok {
			t.Fatal("connection closed while expecting a frame")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func (c *wsClient) expectNone(t *testing.T) {
	t.Helper()
	select {
	case msg, ok := <-c.frames:
		if ok {
			t.Fatalf("unexpected frame: %q", msg)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWebsocketRelay(t *testing.T) {
	srv := setupTestServer(t)
	created := mintPair(t, srv)

	presenter := dialTopic(t, srv, created.PubPath)
	viewer1 := dialTopic(t, srv, created.SubPath)
	viewer2 := dialTopic(t, srv, created.SubPath)
	for _, c := range []*wsClient{presenter, viewer1, viewer2} {
		c.sync(t)
	}

	// Writable frames come through verbatim, skipping the sender.
	state := []byte(`{"slide":2,"laser":[10,20]}`)
	presenter.publish(t, string(state))
	for _, viewer := range []*wsClient{viewer1, viewer2} {
		if got := viewer.expect(t); !bytes.Equal(got, state) {
			t.Errorf("viewer got %q, want %q", got, state)
		}
	}

	// Reactions from a read-only viewer are re-wrapped with its tag.
	viewer1.publish(t, `{"pub":{"emoji":"+1"}}`)
	var wrapped MsgServerPub
	fromPresenter := presenter.expect(t)
	if err := json.Unmarshal(fromPresenter, &wrapped); err != nil {
		t.Fatalf("reaction not wrapped: %q", fromPresenter)
	}
	if wrapped.UUID == "" || string(wrapped.Pub) != `{"emoji":"+1"}` {
		t.Errorf("bad wrapper: %q", fromPresenter)
	}
	if got := viewer2.expect(t); !bytes.Equal(got, fromPresenter) {
		t.Errorf("viewers saw different wrappings: %q vs %q", got, fromPresenter)
	}

	// An untagged frame from a viewer goes nowhere.
	viewer2.publish(t, `{"slide":99}`)
	presenter.expectNone(t)
	viewer1.expectNone(t)

	// And the sender never hears its own frames.
	presenter.publish(t, `{"slide":3}`)
	viewer1.expect(t)
	viewer2.expect(t)
	presenter.expectNone(t)
}

func TestWebsocketMalformedFrameCloses(t *testing.T) {
	srv := setupTestServer(t)
	created := mintPair(t, srv)

	sender := dialTopic(t, srv, created.PubPath)
	bystander := dialTopic(t, srv, created.SubPath)
	witness := dialTopic(t, srv, created.SubPath)
	for _, c := range []*wsClient{sender, bystander, witness} {
		c.sync(t)
	}

	sender.publish(t, `{"broken":`)
	select {
	case _, ok := <-sender.frames:
		if ok {
			t.Fatal("expected the connection to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed on malformed frame")
	}

	// The rest of the topic keeps working.
	bystander.publish(t, `{"pub":{"emoji":"?"}}`)
	if got := witness.expect(t); !strings.Contains(string(got), `"emoji":"?"`) {
		t.Errorf("witness got %q", got)
	}
}
