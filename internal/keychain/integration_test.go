//go:build integration && darwin

package keychain

import (
	"testing"
)

// Integration tests use the real macOS Keychain.
// Run with: go test -tags integration ./internal/keychain/
//
// Requires an unlocked login Keychain and an interactive session
// (first run may prompt for Keychain access approval).

const integrationService = "com.keyitems.test"

func integrationStore(t *testing.T) *Store {
	t.Helper()
	b, err := NewSystemBackend()
	if err != nil {
		t.Fatalf("NewSystemBackend: %v", err)
	}
	s := NewStore(b, integrationService)
	if err := s.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	t.Cleanup(func() { s.RemoveAll() })
	return s
}

func TestKeychainEmpty(t *testing.T) {
	s := integrationStore(t)

	if _, ok := mustGet(t, s, "whatever"); ok {
		t.Error("expected no entry")
	}
	if n := len(mustKeys(t, s)); n != 0 {
		t.Errorf("expected no keys, got %d", n)
	}
}

func TestKeychainSetGetDelete(t *testing.T) {
	s := integrationStore(t)

	if err := s.Set("greeting", []byte("heynow")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok := mustGet(t, s, "greeting")
	if !ok || string(val) != "heynow" {
		t.Errorf("expected heynow, got %q", val)
	}

	if err := s.Delete("greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := mustGet(t, s, "greeting"); ok {
		t.Error("expected entry removed")
	}
}

func TestKeychainRepeatedUpdate(t *testing.T) {
	s := integrationStore(t)

	for _, v := range []string{"first", "second", "third"} {
		if err := s.Set("uuid", []byte(v)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	keys := mustKeys(t, s)
	if len(keys) != 1 || !keys.Has("uuid") {
		t.Errorf("expected only uuid, got %v", keys.Sorted())
	}
	val, _ := mustGet(t, s, "uuid")
	if string(val) != "third" {
		t.Errorf("expected third, got %q", val)
	}
}
