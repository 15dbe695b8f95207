// Package keychain provides a key/value facade over a secure credential store.
//
// Entries are stored as generic passwords with:
//   - Class: "genp" (generic password)
//   - Service: the namespace the Store was opened for (default "com.keyitems")
//   - Account: the entry key (e.g. "greeting")
//
// Values are opaque byte slices. Setting an empty value deletes the entry.
// Changes to the set of keys are published to listeners registered with
// Subscribe.
package keychain

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultService is the namespace used when none is configured.
const DefaultService = "com.keyitems"

// ClassGenericPassword is the class selector every entry is stored under.
const ClassGenericPassword = "genp"

var (
	// ErrItemNotFound is returned by a Backend when no entry matches a query.
	ErrItemNotFound = errors.New("item not found")

	// ErrDuplicateItem is returned by a Backend when Add finds an existing entry.
	ErrDuplicateItem = errors.New("duplicate item")

	// ErrInvalidKey is returned when an operation is given an empty key.
	ErrInvalidKey = errors.New("invalid key")

	// ErrUnsupported is returned when a backend is not available on this platform.
	ErrUnsupported = errors.New("backend not supported on this platform")
)

func errDuplicateItem(account string) error {
	return fmt.Errorf("%w: %s", ErrDuplicateItem, account)
}

// Attributes describes a stored entry without its data.
type Attributes struct {
	Class   string
	Service string
	Account string
	Label   string
}

// Backend is the secure-storage primitive the Store is layered on. Each
// method is one query shape; all are scoped by class, service and account.
// Implementations return ErrItemNotFound (possibly wrapped) on absence.
type Backend interface {
	// MatchAll returns the attributes of every entry for service.
	MatchAll(service string) ([]Attributes, error)
	// MatchOne returns the data of the single entry for service and account.
	MatchOne(service, account string) ([]byte, error)
	// Update replaces the data of an existing entry.
	Update(service, account string, data []byte) error
	// Add creates a new entry.
	Add(service, account string, data []byte) error
	// Delete removes an existing entry.
	Delete(service, account string) error
	// Close releases any resources held by the backend.
	Close() error
}

// KeyValueStore is the key/value view of a namespace shared by the Store and
// its wrappers.
type KeyValueStore interface {
	Service() string
	Keys() (KeySet, error)
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	RemoveAll() error
	Subscribe(fn func(Change)) (cancel func())
}

// KeySet is a set of entry keys.
type KeySet map[string]struct{}

// NewKeySet returns a set holding keys.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether key is in the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Sorted returns the keys in lexical order.
func (s KeySet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Store maps a key/value abstraction onto a Backend for one service
// namespace. Calls run synchronously on the caller's goroutine and take no
// locks around the backend; enumeration and mutation are not transactional.
type Store struct {
	service   string
	backend   Backend
	listeners *listeners
}

var _ KeyValueStore = (*Store)(nil)

// NewStore returns a Store for service on top of backend. An empty service
// selects DefaultService.
func NewStore(backend Backend, service string) *Store {
	if service == "" {
		service = DefaultService
	}
	return &Store{
		service:   service,
		backend:   backend,
		listeners: newListeners(),
	}
}

// Service returns the namespace the store is bound to.
func (s *Store) Service() string {
	return s.service
}

// Backend returns the underlying storage primitive.
func (s *Store) Backend() Backend {
	return s.backend
}

// Keys returns every key currently stored for the namespace.
func (s *Store) Keys() (KeySet, error) {
	attrs, err := s.backend.MatchAll(s.service)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return KeySet{}, nil
		}
		return nil, fmt.Errorf("keychain keys: %w", err)
	}
	set := make(KeySet, len(attrs))
	for _, a := range attrs {
		set[a.Account] = struct{}{}
	}
	return set, nil
}

// Get returns the data stored for key. The boolean is false when no entry
// exists.
func (s *Store) Get(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	data, err := s.backend.MatchOne(s.service, key)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("keychain get %q: %w", key, err)
	}
	return data, true, nil
}

// Set stores value under key, updating the entry in place if it exists and
// creating it otherwise. An empty value deletes the entry; deleting an
// absent entry is a no-op. An entry sealed under another key still exists,
// so it can be overwritten or deleted but not read.
func (s *Store) Set(key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}

	_, err := s.backend.MatchOne(s.service, key)
	switch {
	case err == nil, errors.Is(err, ErrSealOpen):
		if len(value) > 0 {
			if err := s.backend.Update(s.service, key, value); err != nil {
				return fmt.Errorf("keychain update %q: %w", key, err)
			}
			return nil
		}
		if err := s.backend.Delete(s.service, key); err != nil {
			return fmt.Errorf("keychain delete %q: %w", key, err)
		}
		s.listeners.publish(Change{Kind: Removed, Key: key})
		return nil

	case errors.Is(err, ErrItemNotFound):
		if len(value) == 0 {
			return nil
		}
		if err := s.backend.Add(s.service, key, value); err != nil {
			return fmt.Errorf("keychain add %q: %w", key, err)
		}
		s.listeners.publish(Change{Kind: Added, Key: key})
		return nil

	default:
		return fmt.Errorf("keychain lookup %q: %w", key, err)
	}
}

// Delete removes the entry for key. It is equivalent to Set(key, nil).
func (s *Store) Delete(key string) error {
	return s.Set(key, nil)
}

// RemoveAll deletes every entry in the namespace.
func (s *Store) RemoveAll() error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys.Sorted() {
		if err := s.Set(k, nil); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers fn to be called after every change to the key set.
// The returned function removes the registration.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	return s.listeners.add(fn)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
