package redis

import "testing"

func TestClientKey_AppliesPrefix(t *testing.T) {
	c := &Client{prefix: "parimarket:"}
	if got := c.key("lock", "market:btc-100k"); got != "parimarket:lock:market:btc-100k" {
		t.Fatalf("unexpected key %s", got)
	}
	bare := &Client{}
	if got := bare.key("market", "m"); got != "market:m" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestHasPattern(t *testing.T) {
	cases := map[string]bool{
		"markets":     false,
		"markets.*":   true,
		"market?":     true,
		"market[ab]":  true,
		"stream:open": false,
	}
	for in, want := range cases {
		if got := hasPattern(in); got != want {
			t.Errorf("hasPattern(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPayloadBytes(t *testing.T) {
	if b, ok := payloadBytes("abc"); !ok || string(b) != "abc" {
		t.Fatalf("string payload: %q %v", b, ok)
	}
	if b, ok := payloadBytes([]byte("xyz")); !ok || string(b) != "xyz" {
		t.Fatalf("bytes payload: %q %v", b, ok)
	}
	if _, ok := payloadBytes(42); ok {
		t.Fatal("expected int payload to be skipped")
	}
}

func TestNewMarketCache_DefaultTTL(t *testing.T) {
	mc := NewMarketCache(&Client{}, 0)
	if mc.ttl != DefaultMarketTTL {
		t.Fatalf("expected default TTL, got %s", mc.ttl)
	}
}
