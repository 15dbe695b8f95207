package keychain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrKeyRequired is returned when an entry is saved without a key.
	ErrKeyRequired = errors.New("key required: please provide a key for this entry")

	// ErrKeyExists is returned when a new or renamed entry collides with an
	// existing key.
	ErrKeyExists = errors.New("key exists: an entry for this key already exists")

	// ErrValueRequired is returned when an entry is saved with an empty value.
	ErrValueRequired = errors.New("value required: please provide a value for this entry")
)

// SaveEntry stores value under newKey on behalf of an editor that opened the
// entry at oldKey (empty for a new entry). Surrounding whitespace is trimmed
// from newKey. When the key changed, newKey must not already exist and the
// entry at oldKey is removed. Nothing is changed when an error is returned.
func SaveEntry(s KeyValueStore, oldKey, newKey string, value []byte) error {
	newKey = strings.TrimSpace(newKey)
	if newKey == "" {
		return ErrKeyRequired
	}
	if len(value) == 0 {
		return ErrValueRequired
	}

	if newKey != oldKey {
		_, exists, err := s.Get(newKey)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrKeyExists, newKey)
		}
		if oldKey != "" {
			if err := s.Delete(oldKey); err != nil {
				return err
			}
		}
	}

	return s.Set(newKey, value)
}

// SeedEntries are the demonstration entries added to an empty namespace.
var SeedEntries = []struct {
	Key   string
	Value string
}{
	{"greeting", "heynow"},
	{"disposition", "sunny"},
	{"opinion", "controversial"},
}

// Seed adds SeedEntries when the namespace holds no keys. It reports whether
// anything was added.
func Seed(s KeyValueStore) (bool, error) {
	keys, err := s.Keys()
	if err != nil {
		return false, err
	}
	if len(keys) > 0 {
		return false, nil
	}
	for _, e := range SeedEntries {
		if err := s.Set(e.Key, []byte(e.Value)); err != nil {
			return false, fmt.Errorf("seeding %q: %w", e.Key, err)
		}
	}
	return true, nil
}
