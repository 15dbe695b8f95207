package keychain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
)

// Unit tests run against every portable backend; no macOS Keychain
// interaction is needed.

func testBackends(t *testing.T) map[string]func(t *testing.T) Backend {
	t.Helper()
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		"badger": func(t *testing.T) Backend {
			b, err := OpenBadger(t.TempDir())
			if err != nil {
				t.Fatalf("OpenBadger: %v", err)
			}
			t.Cleanup(func() { b.Close() })
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { b.Close() })
			return b
		},
		"sealed": func(t *testing.T) Backend {
			keyHex, err := GenerateSealKey()
			if err != nil {
				t.Fatalf("GenerateSealKey: %v", err)
			}
			key, err := DecodeSealKey(keyHex)
			if err != nil {
				t.Fatalf("DecodeSealKey: %v", err)
			}
			return NewSealedBackend(NewMemoryBackend(), key)
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	for name, open := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, NewStore(open(t), "com.keyitems.test"))
		})
	}
}

func mustGet(t *testing.T, s *Store, key string) ([]byte, bool) {
	t.Helper()
	val, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return val, ok
}

func mustKeys(t *testing.T, s *Store) KeySet {
	t.Helper()
	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	return keys
}

func TestGetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		if err := s.RemoveAll(); err != nil {
			t.Fatalf("RemoveAll: %v", err)
		}
		if _, ok := mustGet(t, s, "whatever"); ok {
			t.Error("expected no entry for missing key")
		}
	})
}

func TestGreetingScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		if err := s.Set("greeting", []byte("heynow")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		val, ok := mustGet(t, s, "greeting")
		if !ok || string(val) != "heynow" {
			t.Errorf("expected 'heynow', got %q (ok=%v)", val, ok)
		}

		if err := s.Set("greeting", nil); err != nil {
			t.Fatalf("Set nil: %v", err)
		}
		if _, ok := mustGet(t, s, "greeting"); ok {
			t.Error("expected entry removed")
		}
		if mustKeys(t, s).Has("greeting") {
			t.Error("expected greeting absent from keys")
		}
	})
}

func TestMultipleInsertionAndRemoval(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ref := map[string]string{}
		for i := 0; i < 10; i++ {
			key := fmt.Sprint(i)
			value := fmt.Sprintf("value-%d", i)
			if err := s.Set(key, []byte(value)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			ref[key] = value
		}

		for i := 0; i < 10; i++ {
			assertMatches(t, s, ref)
			key := fmt.Sprint(i)
			if err := s.Delete(key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok := mustGet(t, s, key); ok {
				t.Errorf("expected %q removed", key)
			}
			delete(ref, key)
		}

		if n := len(mustKeys(t, s)); n != 0 {
			t.Errorf("expected empty key set, got %d keys", n)
		}
	})
}

func TestRandomOperationsMatchReference(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		rng := rand.New(rand.NewSource(42))
		ref := map[string]string{}
		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("k%d", rng.Intn(12))
			if rng.Intn(3) == 0 {
				if err := s.Delete(key); err != nil {
					t.Fatalf("Delete: %v", err)
				}
				delete(ref, key)
				continue
			}
			value := fmt.Sprintf("v%d", rng.Int())
			if err := s.Set(key, []byte(value)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			ref[key] = value
		}
		assertMatches(t, s, ref)
	})
}

func TestRepeatedUpdate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		for i := 0; i < 20; i++ {
			value := fmt.Sprintf("uuid-%d", i)
			if err := s.Set("uuid", []byte(value)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			val, _ := mustGet(t, s, "uuid")
			if string(val) != value {
				t.Errorf("expected %q, got %q", value, val)
			}
		}

		keys := mustKeys(t, s)
		if len(keys) != 1 || !keys.Has("uuid") {
			t.Errorf("expected only uuid, got %v", keys.Sorted())
		}
	})
}

func TestRemoveAll(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		for _, k := range []string{"a", "b", "c"} {
			s.Set(k, []byte("val"))
		}
		if err := s.RemoveAll(); err != nil {
			t.Fatalf("RemoveAll: %v", err)
		}
		if n := len(mustKeys(t, s)); n != 0 {
			t.Errorf("expected no keys, got %d", n)
		}
	})
}

func TestDeleteNonexistent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		if err := s.Delete("never-existed"); err != nil {
			t.Errorf("Delete nonexistent: %v", err)
		}
	})
}

func TestEmptyKeyRejected(t *testing.T) {
	s := NewMemoryStore("")

	if _, _, err := s.Get(""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Get: expected ErrInvalidKey, got %v", err)
	}
	if err := s.Set("", []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Set: expected ErrInvalidKey, got %v", err)
	}
}

func TestDefaultService(t *testing.T) {
	s := NewMemoryStore("")
	if s.Service() != DefaultService {
		t.Errorf("expected %q, got %q", DefaultService, s.Service())
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	backend := NewMemoryBackend()
	a := NewStore(backend, "com.example.a")
	b := NewStore(backend, "com.example.b")

	a.Set("shared", []byte("from-a"))
	b.Set("shared", []byte("from-b"))
	b.Set("only-b", []byte("x"))

	val, _ := mustGet(t, a, "shared")
	if string(val) != "from-a" {
		t.Errorf("expected from-a, got %q", val)
	}
	if mustKeys(t, a).Has("only-b") {
		t.Error("namespace a should not see only-b")
	}

	if err := a.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if n := len(mustKeys(t, b)); n != 2 {
		t.Errorf("expected namespace b untouched, got %d keys", n)
	}
}

func TestUnexpectedBackendErrorIsReturned(t *testing.T) {
	boom := errors.New("store locked")
	s := NewStore(failingBackend{err: boom}, "")

	if _, err := s.Keys(); !errors.Is(err, boom) {
		t.Errorf("Keys: expected wrapped backend error, got %v", err)
	}
	if _, _, err := s.Get("k"); !errors.Is(err, boom) {
		t.Errorf("Get: expected wrapped backend error, got %v", err)
	}
	if err := s.Set("k", []byte("v")); !errors.Is(err, boom) {
		t.Errorf("Set: expected wrapped backend error, got %v", err)
	}
}

func TestSealedDataIsNotPlaintext(t *testing.T) {
	keyHex, _ := GenerateSealKey()
	key, _ := DecodeSealKey(keyHex)
	inner := NewMemoryBackend()
	s := NewStore(NewSealedBackend(inner, key), "")

	s.Set("token", []byte("plaintext-secret"))

	raw, err := inner.MatchOne(DefaultService, "token")
	if err != nil {
		t.Fatalf("MatchOne: %v", err)
	}
	if string(raw) == "plaintext-secret" {
		t.Error("expected sealed data at rest")
	}

	otherHex, _ := GenerateSealKey()
	otherKey, _ := DecodeSealKey(otherHex)
	wrong := NewStore(NewSealedBackend(inner, otherKey), "")
	if _, _, err := wrong.Get("token"); !errors.Is(err, ErrSealOpen) {
		t.Errorf("expected ErrSealOpen with wrong key, got %v", err)
	}
}

func TestEntriesSealedUnderOldKeyCanBeRemoved(t *testing.T) {
	inner := NewMemoryBackend()
	oldHex, _ := GenerateSealKey()
	oldKey, _ := DecodeSealKey(oldHex)
	before := NewStore(NewSealedBackend(inner, oldKey), "")
	before.Set("greeting", []byte("heynow"))
	before.Set("opinion", []byte("controversial"))

	newHex, _ := GenerateSealKey()
	newKey, _ := DecodeSealKey(newHex)
	after := NewStore(NewSealedBackend(inner, newKey), "")

	if err := after.Delete("greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := after.Set("opinion", []byte("resealed")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok := mustGet(t, after, "opinion")
	if !ok || string(val) != "resealed" {
		t.Errorf("expected resealed, got %q", val)
	}

	if err := after.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if keys := mustKeys(t, after); len(keys) != 0 {
		t.Errorf("expected empty namespace, got %v", keys.Sorted())
	}
}

func TestDecodeSealKeyRejectsShortKey(t *testing.T) {
	if _, err := DecodeSealKey("abcd"); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := DecodeSealKey("not-hex"); err == nil {
		t.Error("expected error for non-hex key")
	}
}

func TestBadgerPersists(t *testing.T) {
	dir := t.TempDir()

	b1, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	NewStore(b1, "").Set("greeting", []byte("heynow"))
	b1.Close()

	b2, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	defer b2.Close()

	val, ok := mustGet(t, NewStore(b2, ""), "greeting")
	if !ok || string(val) != "heynow" {
		t.Errorf("expected heynow after reopen, got %q", val)
	}
}

func TestSQLiteSharedBetweenHandles(t *testing.T) {
	path := SQLitePath(t.TempDir())

	b1, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer b1.Close()
	b2, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("second OpenSQLite on the same file: %v", err)
	}
	defer b2.Close()

	if err := NewStore(b1, "").Set("greeting", []byte("heynow")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok := mustGet(t, NewStore(b2, ""), "greeting")
	if !ok || string(val) != "heynow" {
		t.Errorf("expected heynow through second handle, got %q", val)
	}
}

func TestSQLiteOutlivesOpenContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer b.Close()
	cancel()

	s := NewStore(b, "")
	if err := s.Set("greeting", []byte("heynow")); err != nil {
		t.Fatalf("Set after cancel: %v", err)
	}
	if _, ok := mustGet(t, s, "greeting"); !ok {
		t.Error("expected greeting after cancel")
	}
}

func TestOpenBackendUnknown(t *testing.T) {
	if _, err := OpenBackend(context.Background(), OpenOptions{Kind: "floppy"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestOpenBackendSQLite(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBackend(context.Background(), OpenOptions{Kind: BackendSQLite, DataDir: dir})
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	defer b.Close()

	if WatchPath(BackendSQLite, dir) != dir {
		t.Errorf("expected sqlite watch path %q", dir)
	}
	if WatchPath(BackendBadger, dir) != "" {
		t.Error("expected no watch path for badger")
	}
}

func assertMatches(t *testing.T, s *Store, ref map[string]string) {
	t.Helper()
	keys := mustKeys(t, s)
	if len(keys) != len(ref) {
		t.Fatalf("expected %d keys, got %d (%v)", len(ref), len(keys), keys.Sorted())
	}
	for k, want := range ref {
		got, ok := mustGet(t, s, k)
		if !ok {
			t.Errorf("expected %q present", k)
			continue
		}
		if string(got) != want {
			t.Errorf("%q: expected %q, got %q", k, want, got)
		}
	}
}

type failingBackend struct{ err error }

func (f failingBackend) MatchAll(string) ([]Attributes, error) { return nil, f.err }
func (f failingBackend) MatchOne(string, string) ([]byte, error) { return nil, f.err }
func (f failingBackend) Update(string, string, []byte) error { return f.err }
func (f failingBackend) Add(string, string, []byte) error { return f.err }
func (f failingBackend) Delete(string, string) error { return f.err }
func (f failingBackend) Close() error { return nil }
