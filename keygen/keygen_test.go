package main

import (
	"encoding/base64"
	"testing"

	"github.com/relaypad/relaypad/server/auth"
)

func TestGeneratedKeyIsUsable(t *testing.T) {
	key, err := auth.NewSigningKey()
	if err != nil {
		t.Fatal("key generation failed:", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		t.Fatal("key is not URL-safe base64:", err)
	}
	if len(raw) != 32 {
		t.Errorf("key length: expected 32 bytes, got %d", len(raw))
	}

	// The key must be accepted by the codec as-is.
	if _, err := auth.NewCodec(key); err != nil {
		t.Error("codec rejected a freshly generated key:", err)
	}
}

func TestGeneratedKeysDiffer(t *testing.T) {
	k1, _ := auth.NewSigningKey()
	k2, _ := auth.NewSigningKey()
	if k1 == k2 {
		t.Error("two generated keys are identical")
	}
}
