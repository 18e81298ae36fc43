// Package persistence provides SQLite-backed key-value storage with
// singleton database access. Working-model memos, credentials and flow
// snapshots all live here, partitioned by namespace.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/StevenAri1995/RetailAgent/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (namespace, key)
);
`

// Well-known namespaces.
const (
	NamespaceModels      = "models"
	NamespaceCredentials = "credentials"
	NamespaceFlow        = "flow"
)

// Store is a namespaced key-value store over a single SQLite file.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (or creates) the store at path with WAL mode and a busy
// timeout suitable for a single-writer workload.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, logger: logx.NewLogger("persistence")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Put upserts one entry.
func (s *Store) Put(namespace, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv_entries (namespace, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		namespace, key, value)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Fetch returns the value for namespace/key, reporting whether it exists.
func (s *Store) Fetch(namespace, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM kv_entries WHERE namespace = ? AND key = ?`,
		namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

// Delete removes one entry; deleting a missing key is not an error.
func (s *Store) Delete(namespace, key string) error {
	_, err := s.db.Exec(
		`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`,
		namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Keys lists the keys in a namespace in lexical order.
func (s *Store) Keys(namespace string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM kv_entries WHERE namespace = ? ORDER BY key`,
		namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", namespace, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Namespace is a Store view pinned to one namespace. Its Get/Set shape
// matches what the intent resolver expects from a working-model store;
// storage errors are logged and degrade to cache misses rather than
// failing the caller.
type Namespace struct {
	store *Store
	name  string
}

// Namespace returns a view of the store pinned to name.
func (s *Store) Namespace(name string) *Namespace {
	return &Namespace{store: s, name: name}
}

func (n *Namespace) Get(key string) (string, bool) {
	value, ok, err := n.store.Fetch(n.name, key)
	if err != nil {
		n.store.logger.Warn("read of %s/%s failed: %v", n.name, key, err)
		return "", false
	}
	return value, ok
}

func (n *Namespace) Set(key, value string) {
	if err := n.store.Put(n.name, key, value); err != nil {
		n.store.logger.Warn("write of %s/%s failed: %v", n.name, key, err)
	}
}
