// Definition of the wire envelopes and the messages routed through the hub.
//
// Frames are opaque JSON: the relay never interprets payloads beyond the one
// reserved routing key ('pub') which marks a reaction from a read-only sender.

package main

import "encoding/json"

// ClientComMessage is one inbound frame from a client connection. Only the
// reserved routing key is recognized; everything else is opaque.
type ClientComMessage struct {
	// Reaction sub-payload. Nil when the key is absent.
	Pub json.RawMessage `json:"pub"`
}

// MsgServerPub is the restricted envelope relayed on behalf of a read-only
// sender: the tagged sub-payload plus the sender's opaque session tag, so
// other participants can attribute the reaction without learning anything
// else about the sender.
type MsgServerPub struct {
	UUID string          `json:"uuid"`
	Pub  json.RawMessage `json:"pub"`
}

// ServerComMessage is a frame routed through the hub to every session
// attached to a topic.
type ServerComMessage struct {
	// Routable topic name.
	RcptTo string
	// Serialized frame delivered verbatim to each attached session.
	Data []byte
	// ID of the originating session. The sender does not receive an echo of
	// its own message.
	SkipSid string
}

// MsgTopicCreated is the response to a topic mint request.
type MsgTopicCreated struct {
	TopicID string `json:"topicId"`
	Secret  string `json:"secret"`
	SubPath string `json:"subPath"`
	PubPath string `json:"pubPath"`
}
