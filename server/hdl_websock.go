// Handler of websocket connections: the upgrade path and the per-session
// read/write pumps. Reads (inbound frames) and hub deliveries are serviced by
// independent goroutines so neither direction can block the other.

package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaypad/relaypad/server/auth"
	"github.com/relaypad/relaypad/server/logs"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = idleSessionTimeout

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

func (sess *Session) readLoop() {
	defer func() {
		sess.ws.Close()
		sess.cleanUp()
	}()

	sess.ws.SetReadLimit(globals.maxMessageSize)
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Err.Println("ws: readLoop", sess.sid, err)
			}
			return
		}
		if err := sess.dispatchRaw(raw); err != nil {
			logs.Err.Println("ws: closing on protocol error", sess.sid, err)
			return
		}
	}
}

func (sess *Session) sendMessage(msg []byte) bool {
	statsInc("OutgoingMessagesWebsockTotal", 1)
	if err := wsWrite(sess.ws, websocket.TextMessage, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			logs.Err.Println("ws: writeLoop", sess.sid, err)
		}
		return false
	}
	return true
}

func (sess *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		sess.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				// Channel closed.
				return
			}
			if !sess.sendMessage(msg) {
				return
			}

		case msg := <-sess.stop:
			// Shutdown requested, don't care if the message is delivered.
			if msg != nil {
				wsWrite(sess.ws, websocket.TextMessage, msg)
			}
			return

		case <-ticker.C:
			if err := wsWrite(sess.ws, websocket.PingMessage, nil); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop ping", sess.sid, err)
				}
				return
			}
		}
	}
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg []byte) error {
	if msg == nil {
		msg = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, msg)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveTopicSocket upgrades a verified stream request and hands the
// connection over to a new session. The caller has already rejected invalid
// capability pairs; authLvl is readable or writable.
func serveTopicSocket(wrt http.ResponseWriter, req *http.Request, topic string, authLvl auth.Level) {
	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Err.Println("ws: not a websocket handshake")
		return
	} else if err != nil {
		logs.Err.Println("ws: failed to upgrade", err)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws, topic, authLvl)
	sess.remoteAddr = req.RemoteAddr
	if globals.useXForwardedFor {
		if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
			sess.remoteAddr = fwd
		}
	}

	// Attach before pumping any frames: the session must not publish or miss
	// deliveries while its membership is still in flight.
	done := make(chan struct{})
	globals.hub.join <- &sessionJoin{sess: sess, done: done}
	<-done

	logs.Info.Println("ws: session started", sess.sid, authLvl, sess.remoteAddr, count)

	// Do work in goroutines to return from serveTopicSocket() and release the
	// handler.
	go sess.writeLoop()
	go sess.readLoop()
}
