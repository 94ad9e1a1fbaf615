// Package auth implements the capability scheme which gates access to topics.
// A topic is identified by a random id; the matching secret is an HMAC tag over
// the id under the process-wide signing key. Whoever presents a valid
// (id, secret) pair may publish to the topic; whoever knows only the id may
// subscribe and relay tagged reactions. Neither the pair nor the verification
// result is ever persisted.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
)

// AuthErr is a structure for reporting an error condition.
type AuthErr string

func (e AuthErr) Error() string {
	return string(e)
}

const (
	// ErrNoSigningKey means the process-wide signing key is not configured.
	ErrNoSigningKey = AuthErr("signing key not set")
	// ErrMalformedKey means the signing key material cannot be decoded.
	ErrMalformedKey = AuthErr("malformed signing key")
	// ErrInternal means the platform RNG failed.
	ErrInternal = AuthErr("internal")
)

// Level is the authorization level of a verified capability pair.
type Level int

const (
	// LevelInvalid - a secret was presented but does not verify.
	LevelInvalid Level = iota
	// LevelReadable - no secret presented; subscribe and react only.
	LevelReadable
	// LevelWritable - the secret verifies; full publish access.
	LevelWritable
)

func (l Level) String() string {
	switch l {
	case LevelReadable:
		return "readable"
	case LevelWritable:
		return "writable"
	default:
		return "invalid"
	}
}

const (
	// Length of the raw topic id in bytes.
	topicIDLength = 12
	// Length of the raw signing key in bytes (256 bits).
	signingKeyLength = 32
)

// Pair is a split capability: the topic id is public, the secret is held by
// the topic owner. Both are URL-safe base64 without padding.
type Pair struct {
	Topic  string `json:"topicId"`
	Secret string `json:"secret"`
}

// Codec mints and verifies capability pairs under a single signing key.
type Codec struct {
	key []byte
}

// NewCodec creates a codec from URL-safe base64 key material, typically the
// value of the HMAC_KEY environment variable. An empty or undecodable key is
// a configuration error: failing here at startup beats minting pairs nobody
// can verify.
func NewCodec(encodedKey string) (*Codec, error) {
	if encodedKey == "" {
		return nil, ErrNoSigningKey
	}
	key, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, ErrMalformedKey
	}
	return &Codec{key: key}, nil
}

// Mint generates a fresh capability pair: a random topic id and its signature.
func (c *Codec) Mint() (Pair, error) {
	topic := make([]byte, topicIDLength)
	if _, err := rand.Read(topic); err != nil {
		return Pair{}, ErrInternal
	}
	return Pair{
		Topic:  base64.RawURLEncoding.EncodeToString(topic),
		Secret: base64.RawURLEncoding.EncodeToString(c.sign(topic)),
	}, nil
}

// Verify computes the authorization level of a pair. Undecodable fields map to
// LevelInvalid, never to an error: a tampered pair must be indistinguishable
// from an unknown one.
func (c *Codec) Verify(pair Pair) Level {
	topic, err := base64.RawURLEncoding.DecodeString(pair.Topic)
	if err != nil {
		return LevelInvalid
	}
	if pair.Secret == "" {
		return LevelReadable
	}
	secret, err := base64.RawURLEncoding.DecodeString(pair.Secret)
	if err != nil {
		return LevelInvalid
	}
	// hmac.Equal is constant-time. Do not replace with bytes.Equal.
	if !hmac.Equal(secret, c.sign(topic)) {
		return LevelInvalid
	}
	return LevelWritable
}

func (c *Codec) sign(topic []byte) []byte {
	hasher := hmac.New(sha512.New, c.key)
	hasher.Write(topic)
	return hasher.Sum(nil)
}

// NewSigningKey generates fresh signing key material, URL-safe base64 encoded.
// Administrative operation, used by the keygen utility at deployment time.
func NewSigningKey() (string, error) {
	key := make([]byte, signingKeyLength)
	if _, err := rand.Read(key); err != nil {
		return "", ErrInternal
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}
