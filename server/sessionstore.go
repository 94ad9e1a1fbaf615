// Management of live sessions: a registry indexed by session ID plus the ID
// generator. Session IDs double as reaction attribution tags, so they are
// made random-looking with a throwaway cipher rather than exposed as bare
// sequence numbers.

package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"sync"

	"github.com/gorilla/websocket"
	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"

	"github.com/relaypad/relaypad/server/auth"
	"github.com/relaypad/relaypad/server/logs"
)

// sidGenerator holds snowflake and encryption parameters for session IDs.
type sidGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

func newSidGenerator(key []byte) (*sidGenerator, error) {
	if key == nil {
		// Opacity is all that matters here; an ephemeral key is fine.
		key = make([]byte, 16)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	seq, err := sf.NewSnowFlake(0)
	if err != nil {
		return nil, err
	}
	cipher, err := xtea.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &sidGenerator{seq: seq, cipher: cipher}, nil
}

// GetStr generates a unique id and returns it as an encrypted base64 string.
func (sg *sidGenerator) GetStr() string {
	id, err := sg.seq.Next()
	if err != nil {
		return ""
	}
	src := make([]byte, 8)
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, id)
	sg.cipher.Encrypt(dst, src)
	return base64.RawURLEncoding.EncodeToString(dst)
}

// SessionStore holds live sessions, indexed by session ID.
type SessionStore struct {
	lock sync.Mutex

	hub    *Hub
	sidGen *sidGenerator

	sessCache map[string]*Session
}

// NewSessionStore initializes a session store. sidKey is optional 16-byte
// material for the session ID cipher; nil picks a random ephemeral key.
func NewSessionStore(hub *Hub, sidKey []byte) (*SessionStore, error) {
	sidGen, err := newSidGenerator(sidKey)
	if err != nil {
		return nil, err
	}
	return &SessionStore{
		hub:       hub,
		sidGen:    sidGen,
		sessCache: make(map[string]*Session),
	}, nil
}

// NewSession creates a new session attached to the given topic at the given
// authorization level and saves it to the store.
func (ss *SessionStore) NewSession(ws *websocket.Conn, topic string, authLvl auth.Level) (*Session, int) {
	s := &Session{
		ws:      ws,
		topic:   topic,
		authLvl: authLvl,
		sid:     ss.sidGen.GetStr(),
		hub:     ss.hub,
		store:   ss,
		send:    make(chan []byte, 256),
		stop:    make(chan []byte, 1),
	}

	ss.lock.Lock()
	ss.sessCache[s.sid] = s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsSet("LiveSessions", int64(count))

	return s, count
}

// Get fetches a session from the store by session ID.
func (ss *SessionStore) Get(sid string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return ss.sessCache[sid]
}

// Delete removes a session from the store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.sid)
	count := len(ss.sessCache)
	statsSet("LiveSessions", int64(count))
	return count
}

// Shutdown terminates all live sessions.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	for _, s := range ss.sessCache {
		s.stopSession(nil)
	}

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(ss.sessCache))
}
