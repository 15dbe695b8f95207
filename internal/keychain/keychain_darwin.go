//go:build darwin

package keychain

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

// SystemBackend stores entries in the macOS Keychain as generic passwords.
//
// Entries are scoped with kSecAttrAccessibleWhenUnlockedThisDeviceOnly:
// never synced to iCloud, never available when the machine is locked.
type SystemBackend struct{}

var _ Backend = (*SystemBackend)(nil)

// NewSystemBackend returns a Keychain-backed Backend.
func NewSystemBackend() (Backend, error) {
	return &SystemBackend{}, nil
}

func query(service, account string) gokeychain.Item {
	item := gokeychain.NewItem()
	item.SetSecClass(gokeychain.SecClassGenericPassword)
	item.SetService(service)
	if account != "" {
		item.SetAccount(account)
	}
	return item
}

func mapErr(err error) error {
	if errors.Is(err, gokeychain.ErrorItemNotFound) {
		return ErrItemNotFound
	}
	return err
}

func (b *SystemBackend) MatchAll(service string) ([]Attributes, error) {
	q := query(service, "")
	q.SetMatchLimit(gokeychain.MatchLimitAll)
	q.SetReturnAttributes(true)

	results, err := gokeychain.QueryItem(q)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(results) == 0 {
		return nil, ErrItemNotFound
	}

	attrs := make([]Attributes, 0, len(results))
	for _, r := range results {
		attrs = append(attrs, Attributes{
			Class:   ClassGenericPassword,
			Service: r.Service,
			Account: r.Account,
			Label:   r.Label,
		})
	}
	return attrs, nil
}

func (b *SystemBackend) MatchOne(service, account string) ([]byte, error) {
	q := query(service, account)
	q.SetMatchLimit(gokeychain.MatchLimitOne)
	q.SetReturnData(true)

	results, err := gokeychain.QueryItem(q)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(results) == 0 {
		return nil, ErrItemNotFound
	}
	if len(results) > 1 {
		return nil, fmt.Errorf("too many results for %q", account)
	}
	return results[0].Data, nil
}

func (b *SystemBackend) Update(service, account string, data []byte) error {
	update := gokeychain.NewItem()
	update.SetData(data)
	return mapErr(gokeychain.UpdateItem(query(service, account), update))
}

func (b *SystemBackend) Add(service, account string, data []byte) error {
	item := query(service, account)
	item.SetLabel(fmt.Sprintf("%s: %s", service, account))
	item.SetData(data)
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)
	return mapErr(gokeychain.AddItem(item))
}

func (b *SystemBackend) Delete(service, account string) error {
	return mapErr(gokeychain.DeleteItem(query(service, account)))
}

func (b *SystemBackend) Close() error {
	return nil
}
