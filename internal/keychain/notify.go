package keychain

import (
	"log/slog"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v2"
)

// ChangeKind describes how the key set changed.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
)

// Change is a single key-set mutation. Updates that leave the key set
// unchanged are not published.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Key  string     `json:"key"`
}

// listeners is the registry of change callbacks. Registration is safe from
// any goroutine; callbacks run on the goroutine that made the change.
type listeners struct {
	next atomic.Uint64
	fns  *xsync.MapOf[uint64, func(Change)]
}

func newListeners() *listeners {
	return &listeners{fns: xsync.NewIntegerMapOf[uint64, func(Change)]()}
}

func (l *listeners) add(fn func(Change)) func() {
	id := l.next.Add(1)
	l.fns.Store(id, fn)
	return func() { l.fns.Delete(id) }
}

func (l *listeners) publish(c Change) {
	l.fns.Range(func(id uint64, fn func(Change)) bool {
		l.call(id, fn, c)
		return true
	})
}

func (l *listeners) call(id uint64, fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("change listener panicked", "listener", id, "key", c.Key, "panic", r)
		}
	}()
	fn(c)
}

func (l *listeners) len() int {
	return l.fns.Size()
}
