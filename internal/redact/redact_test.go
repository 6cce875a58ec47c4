package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretKey(t *testing.T) {
	secret := []string{
		"api_key", "apiKey", "API-KEY", "private_key", "privateKey",
		"passphrase", "authorization", "client_secret", "token",
		"access_token", "ciphertext", "salt", "iv", "tag", "signature",
	}
	for _, k := range secret {
		assert.True(t, SecretKey(k), "expected %q to be secret", k)
	}

	plain := []string{"summary", "to", "content", "chain", "reason"}
	for _, k := range plain {
		assert.False(t, SecretKey(k), "expected %q to be plain", k)
	}
}

func TestStringScrubsBearer(t *testing.T) {
	got := String("request failed: Authorization header was Bearer abc.def-123")
	assert.NotContains(t, got, "abc.def-123")
	assert.Contains(t, got, Placeholder)
}

func TestStringScrubsHexKey(t *testing.T) {
	key := "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	got := String("leaked " + key + " in log")
	assert.NotContains(t, got, key)
	assert.Contains(t, got, Placeholder)
}

func TestStringScrubsNamedHeaders(t *testing.T) {
	got := String(`x-nonce: 12345 signature=deadbeef`)
	assert.NotContains(t, got, "12345")
	assert.NotContains(t, got, "deadbeef")
}

func TestStringLeavesShortHexAlone(t *testing.T) {
	got := String("tx 0xabc123 confirmed")
	assert.Equal(t, "tx 0xabc123 confirmed", got)
}

func TestMapRedactsNested(t *testing.T) {
	in := map[string]any{
		"summary": "ok",
		"api_key": "sk-live-123",
		"nested": map[string]any{
			"passphrase": "hunter22hunter22",
			"note":       "Bearer tok123",
		},
		"list": []any{"Bearer tok456", 7},
	}
	out := Map(in)

	assert.Equal(t, "ok", out["summary"])
	assert.Equal(t, Placeholder, out["api_key"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, Placeholder, nested["passphrase"])
	assert.NotContains(t, nested["note"], "tok123")
	list := out["list"].([]any)
	assert.NotContains(t, list[0], "tok456")
	assert.Equal(t, 7, list[1])

	// input untouched
	assert.Equal(t, "sk-live-123", in["api_key"])
}
