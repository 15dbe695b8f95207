package keychain

import (
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerBackend stores entries in an embedded Badger database. Keys are laid
// out as "<class>/<service>\x00<account>".
type BadgerBackend struct {
	db *badger.DB
}

var _ Backend = (*BadgerBackend)(nil)

// OpenBadger opens (or creates) a Badger database in dir. An empty dir opens
// an in-memory database.
func OpenBadger(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: db}, nil
}

func badgerPrefix(service string) []byte {
	return []byte(ClassGenericPassword + "/" + service + "\x00")
}

func badgerKey(service, account string) []byte {
	return append(badgerPrefix(service), account...)
}

func mapBadgerErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrItemNotFound
	}
	return err
}

func (b *BadgerBackend) MatchAll(service string) ([]Attributes, error) {
	prefix := badgerPrefix(service)
	var attrs []Attributes

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		// Key-only iteration.
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			account := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			attrs = append(attrs, Attributes{
				Class:   ClassGenericPassword,
				Service: service,
				Account: account,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, ErrItemNotFound
	}
	return attrs, nil
}

func (b *BadgerBackend) MatchOne(service, account string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(service, account))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return data, nil
}

func (b *BadgerBackend) Update(service, account string, data []byte) error {
	key := badgerKey(service, account)
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	return mapBadgerErr(err)
}

func (b *BadgerBackend) Add(service, account string, data []byte) error {
	key := badgerKey(service, account)
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return errDuplicateItem(account)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, data)
	})
	return err
}

func (b *BadgerBackend) Delete(service, account string) error {
	key := badgerKey(service, account)
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return mapBadgerErr(err)
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
