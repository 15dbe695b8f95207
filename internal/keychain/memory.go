package keychain

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v2"
)

// MemoryBackend is an in-memory Backend for tests. Entries do not survive
// the process.
type MemoryBackend struct {
	items *xsync.MapOf[string, []byte]
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: xsync.NewMapOf[[]byte]()}
}

// NewMemoryStore returns a Store for service backed by a fresh MemoryBackend.
func NewMemoryStore(service string) *Store {
	return NewStore(NewMemoryBackend(), service)
}

func memoryKey(service, account string) string {
	return service + "\x00" + account
}

func (b *MemoryBackend) MatchAll(service string) ([]Attributes, error) {
	prefix := service + "\x00"
	var attrs []Attributes
	b.items.Range(func(k string, _ []byte) bool {
		if account, ok := strings.CutPrefix(k, prefix); ok {
			attrs = append(attrs, Attributes{
				Class:   ClassGenericPassword,
				Service: service,
				Account: account,
			})
		}
		return true
	})
	if len(attrs) == 0 {
		return nil, ErrItemNotFound
	}
	return attrs, nil
}

func (b *MemoryBackend) MatchOne(service, account string) ([]byte, error) {
	data, ok := b.items.Load(memoryKey(service, account))
	if !ok {
		return nil, ErrItemNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Update(service, account string, data []byte) error {
	k := memoryKey(service, account)
	if _, ok := b.items.Load(k); !ok {
		return ErrItemNotFound
	}
	b.items.Store(k, append([]byte(nil), data...))
	return nil
}

func (b *MemoryBackend) Add(service, account string, data []byte) error {
	_, loaded := b.items.LoadOrStore(memoryKey(service, account), append([]byte(nil), data...))
	if loaded {
		return errDuplicateItem(account)
	}
	return nil
}

func (b *MemoryBackend) Delete(service, account string) error {
	if _, ok := b.items.LoadAndDelete(memoryKey(service, account)); !ok {
		return ErrItemNotFound
	}
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
