package keychain

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benaskins/keyitems/internal/audit"
)

// EntryMetadata tracks lifecycle timestamps for an entry.
type EntryMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	LastRotated time.Time `json:"last_rotated,omitempty"`
}

// MetadataStore persists entry metadata to a JSON file. An empty path keeps
// metadata in memory only.
type MetadataStore struct {
	mu       sync.RWMutex
	path     string
	metadata map[string]*EntryMetadata
}

// NewMetadataStore loads or creates a metadata file.
func NewMetadataStore(path string) (*MetadataStore, error) {
	ms := &MetadataStore{
		path:     path,
		metadata: make(map[string]*EntryMetadata),
	}
	if path == "" {
		return ms, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, &ms.metadata); jsonErr != nil {
			slog.Warn("corrupt metadata file, starting fresh", "path", path, "error", jsonErr)
		}
	}
	// File not existing is fine, start fresh.

	return ms, nil
}

// Get returns a copy of the metadata for a key, or nil if not tracked.
func (ms *MetadataStore) Get(key string) *EntryMetadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.metadata[key]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Set records metadata for a key and persists to disk.
func (ms *MetadataStore) Set(key string, meta *EntryMetadata) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.metadata[key] = meta
	return ms.save()
}

// Delete removes metadata for a key.
func (ms *MetadataStore) Delete(key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.metadata, key)
	return ms.save()
}

// All returns copies of all metadata entries.
func (ms *MetadataStore) All() map[string]*EntryMetadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make(map[string]*EntryMetadata, len(ms.metadata))
	for k, v := range ms.metadata {
		cp := *v
		result[k] = &cp
	}
	return result
}

func (ms *MetadataStore) touch(key string, created, rotated bool) error {
	now := time.Now().UTC()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.metadata[key]
	if !ok || created {
		m = &EntryMetadata{CreatedAt: now}
		ms.metadata[key] = m
	}
	m.UpdatedAt = now
	if rotated {
		m.LastRotated = now
	}
	return ms.save()
}

func (ms *MetadataStore) save() error {
	if ms.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(ms.metadata, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := ms.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, ms.path)
}

// AuditedStore wraps a KeyValueStore and adds audit logging and metadata
// tracking.
type AuditedStore struct {
	inner    KeyValueStore
	audit    *audit.Logger
	metadata *MetadataStore
	actor    string // e.g. "cli:alice"
}

var _ KeyValueStore = (*AuditedStore)(nil)

// NewAuditedStore wraps an existing store with audit logging.
func NewAuditedStore(inner KeyValueStore, auditLog *audit.Logger, metadata *MetadataStore, actor string) *AuditedStore {
	return &AuditedStore{
		inner:    inner,
		audit:    auditLog,
		metadata: metadata,
		actor:    actor,
	}
}

// log records an audit entry. Audit logging is best-effort: a failure to log
// does not fail the operation.
func (s *AuditedStore) log(e audit.Entry) {
	e.Service = s.inner.Service()
	e.Actor = s.actor
	if err := s.audit.Log(e); err != nil {
		slog.Warn("audit log write failed", "action", e.Action, "key", e.Key, "error", err)
	}
}

func (s *AuditedStore) Service() string {
	return s.inner.Service()
}

func (s *AuditedStore) Keys() (KeySet, error) {
	return s.inner.Keys()
}

func (s *AuditedStore) Get(key string) ([]byte, bool, error) {
	val, ok, err := s.inner.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("audited store get: %w", err)
	}
	if ok {
		s.log(audit.Entry{Action: audit.ActionEntryRead, Key: key})
	}
	return val, ok, nil
}

func (s *AuditedStore) Set(key string, value []byte) error {
	if len(value) == 0 {
		return s.Delete(key)
	}

	existed, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("audited store set: %w", err)
	}
	if err := s.inner.Set(key, value); err != nil {
		return fmt.Errorf("audited store set: %w", err)
	}

	s.log(audit.Entry{Action: audit.ActionEntryWrite, Key: key, Created: !existed})

	if err := s.metadata.touch(key, !existed, false); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	return nil
}

// exists reports whether key has an entry, counting entries that cannot be
// unsealed with the current key.
func (s *AuditedStore) exists(key string) (bool, error) {
	_, ok, err := s.inner.Get(key)
	if errors.Is(err, ErrSealOpen) {
		return true, nil
	}
	return ok, err
}

func (s *AuditedStore) Delete(key string) error {
	if err := s.inner.Delete(key); err != nil {
		return fmt.Errorf("audited store delete: %w", err)
	}

	s.log(audit.Entry{Action: audit.ActionEntryDelete, Key: key})

	if err := s.metadata.Delete(key); err != nil {
		return fmt.Errorf("deleting metadata: %w", err)
	}
	return nil
}

func (s *AuditedStore) RemoveAll() error {
	keys, err := s.inner.Keys()
	if err != nil {
		return fmt.Errorf("audited store remove all: %w", err)
	}
	if err := s.inner.RemoveAll(); err != nil {
		s.log(audit.Entry{Action: audit.ActionEntryClear, Error: err.Error()})
		return fmt.Errorf("audited store remove all: %w", err)
	}

	s.log(audit.Entry{Action: audit.ActionEntryClear})

	for k := range keys {
		if err := s.metadata.Delete(k); err != nil {
			return fmt.Errorf("deleting metadata: %w", err)
		}
	}
	return nil
}

func (s *AuditedStore) Subscribe(fn func(Change)) (cancel func()) {
	return s.inner.Subscribe(fn)
}

// Rotate runs a rotation command, captures its output, stores it as the new
// value for key, and logs the rotation. The previous value is kept if the
// command fails.
func (s *AuditedStore) Rotate(key, command string) error {
	if key == "" {
		return ErrInvalidKey
	}

	output, err := runRotationCommand(command)
	if err != nil {
		s.log(audit.Entry{
			Action:  audit.ActionEntryRotate,
			Key:     key,
			Command: command,
			Error:   err.Error(),
		})
		return fmt.Errorf("rotation command failed: %w", err)
	}
	if output == "" {
		return fmt.Errorf("rotation command for %q produced no output", key)
	}

	existed, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("storing rotated entry: %w", err)
	}
	if err := s.inner.Set(key, []byte(output)); err != nil {
		return fmt.Errorf("storing rotated entry: %w", err)
	}

	s.log(audit.Entry{
		Action:  audit.ActionEntryRotate,
		Key:     key,
		Command: command,
		Created: !existed,
	})

	if err := s.metadata.touch(key, !existed, true); err != nil {
		return fmt.Errorf("saving rotation metadata: %w", err)
	}
	return nil
}

// Metadata returns the metadata store for direct access.
func (s *AuditedStore) Metadata() *MetadataStore {
	return s.metadata
}
