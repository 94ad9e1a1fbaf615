// The hub owns the topic registry and routes messages between sessions
// attached to the same topic. There is no communication across topics.
//
// All registry and membership mutations happen on the hub's run() goroutine,
// so create-on-first-join and destroy-on-last-leave cannot race with each
// other or with fanout.

package main

import (
	"time"

	"github.com/relaypad/relaypad/server/logs"
)

// Request to attach a session to a topic, creating the topic if needed.
type sessionJoin struct {
	// Session to attach.
	sess *Session
	// Closed by the hub once membership is recorded. The caller must not
	// start pumping frames before then.
	done chan struct{}
}

// Session is detaching from its topic.
type sessionLeave struct {
	// Session which initiated the request.
	sess *Session
}

// Topic is an isolated communication channel. It holds no message history:
// a newly attached session receives only the live stream; historical state
// lives in the snapshot store.
type Topic struct {
	// Routable name of the topic.
	name string
	// Time when the topic was first attached to.
	created time.Time
	// Sessions attached to this topic.
	sessions map[*Session]struct{}
}

// Hub is the core structure which holds topics.
type Hub struct {
	// Topics indexed by name. Accessed only from run().
	topics map[string]*Topic

	// Messages to be routed to topics, buffered.
	route chan *ServerComMessage

	// Attach session to topic, possibly creating the topic, buffered.
	join chan *sessionJoin

	// Detach session from topic, possibly deleting the topic, buffered.
	leave chan *sessionLeave

	// Request to shutdown, unbuffered.
	shutdown chan chan<- bool
}

func newHub() *Hub {
	h := &Hub{
		topics: make(map[string]*Topic),
		// Needs a deep buffer: every attached publisher feeds this queue.
		route:    make(chan *ServerComMessage, 4096),
		join:     make(chan *sessionJoin, 256),
		leave:    make(chan *sessionLeave, 256),
		shutdown: make(chan chan<- bool),
	}

	statsRegisterInt("LiveTopics")
	statsRegisterInt("TotalTopics")
	statsRegisterInt("IncomingMessagesWebsockTotal")
	statsRegisterInt("OutgoingMessagesWebsockTotal")
	statsRegisterInt("DroppedMessagesTotal")
	statsRegisterInt("EvictedSessionsTotal")

	go h.run()

	return h
}

func (h *Hub) run() {
	for {
		select {
		case join := <-h.join:
			h.attach(join)

		case leave := <-h.leave:
			h.detach(leave.sess)

		case msg := <-h.route:
			h.routeMessage(msg)

		case hubdone := <-h.shutdown:
			n := len(h.topics)
			h.topics = make(map[string]*Topic)
			statsSet("LiveTopics", 0)
			logs.Info.Printf("hub: shutdown completed with %d topics", n)
			hubdone <- true
			return
		}
	}
}

// attach adds the session to its topic's membership set, creating the topic
// on first use. Must be called from run() only.
func (h *Hub) attach(join *sessionJoin) {
	sess := join.sess
	t := h.topics[sess.topic]
	if t == nil {
		t = &Topic{
			name:     sess.topic,
			created:  time.Now(),
			sessions: make(map[*Session]struct{}),
		}
		h.topics[sess.topic] = t
		statsInc("LiveTopics", 1)
		statsInc("TotalTopics", 1)
	}
	t.sessions[sess] = struct{}{}
	if join.done != nil {
		close(join.done)
	}
}

// routeMessage fans a message out to every member of the addressed topic
// except the sender. Must be called from run() only.
func (h *Hub) routeMessage(msg *ServerComMessage) {
	t := h.topics[msg.RcptTo]
	if t == nil {
		// Topic died between the sender's attach and this delivery.
		logs.Warn.Println("hub: message to unknown topic", msg.RcptTo)
		statsInc("DroppedMessagesTotal", 1)
		return
	}
	for sess := range t.sessions {
		if sess.sid == msg.SkipSid {
			continue
		}
		if !sess.queueOut(msg.Data) {
			// The send queue overflowed: evict the slow consumer so it
			// cannot hold up the publisher or other members.
			logs.Warn.Println("hub: slow consumer evicted", sess.sid, "topic", t.name)
			statsInc("EvictedSessionsTotal", 1)
			h.detach(sess)
			sess.stopSession(nil)
		}
	}
}

// detach removes the session from its topic's membership set and reclaims the
// topic when the last member is gone. Must be called from run() only.
func (h *Hub) detach(sess *Session) {
	t := h.topics[sess.topic]
	if t == nil {
		return
	}
	if _, attached := t.sessions[sess]; !attached {
		return
	}
	delete(t.sessions, sess)
	if len(t.sessions) == 0 {
		delete(h.topics, t.name)
		statsInc("LiveTopics", -1)
	}
}
