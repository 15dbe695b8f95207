package keychain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
  class   TEXT NOT NULL,
  service TEXT NOT NULL,
  account TEXT NOT NULL,
  label   TEXT NOT NULL DEFAULT '',
  data    BLOB NOT NULL,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
  updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
  PRIMARY KEY (class, service, account)
)`

// SQLiteBackend stores entries in a single SQLite table keyed by
// (class, service, account). Unlike Badger, the file can be shared by
// several processes at once.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (or creates) the SQLite database at path. Use ":memory:"
// for a private in-memory database. ctx bounds schema creation only.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent and serializes
	// writers within the process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) MatchAll(service string) ([]Attributes, error) {
	rows, err := b.db.Query(
		`SELECT account, label FROM items WHERE class = ? AND service = ? ORDER BY account`,
		ClassGenericPassword, service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []Attributes
	for rows.Next() {
		a := Attributes{Class: ClassGenericPassword, Service: service}
		if err := rows.Scan(&a.Account, &a.Label); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, ErrItemNotFound
	}
	return attrs, nil
}

func (b *SQLiteBackend) MatchOne(service, account string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRow(
		`SELECT data FROM items WHERE class = ? AND service = ? AND account = ?`,
		ClassGenericPassword, service, account).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *SQLiteBackend) Update(service, account string, data []byte) error {
	res, err := b.db.Exec(
		`UPDATE items SET data = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE class = ? AND service = ? AND account = ?`,
		data, ClassGenericPassword, service, account)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (b *SQLiteBackend) Add(service, account string, data []byte) error {
	res, err := b.db.Exec(
		`INSERT INTO items (class, service, account, label, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (class, service, account) DO NOTHING`,
		ClassGenericPassword, service, account, service+": "+account, data)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errDuplicateItem(account)
	}
	return nil
}

func (b *SQLiteBackend) Delete(service, account string) error {
	res, err := b.db.Exec(
		`DELETE FROM items WHERE class = ? AND service = ? AND account = ?`,
		ClassGenericPassword, service, account)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}
