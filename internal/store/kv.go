// Package store implements the Coordination Store (spec §4.1): a thin typed
// layer over a shared key-value store offering string get/set/del with TTL,
// set add/remove/cardinality, list append/range, hash set/getall, and time.
//
// The teacher's equivalent (server/store/kvstore) wraps Mattermost's
// pluginapi.Client.KV, which isn't available outside a Mattermost plugin
// host. This backs the same typed-accessor shape with modernc.org/sqlite
// (used elsewhere in the retrieval pack for embedded storage), giving every
// operation here real TTL, set, hash, and list semantics over a handful of
// tables rather than Mattermost's single blob-KV namespace.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// KV is the generic remote key-value primitive the Coordination Store is
// built on (spec §4.1). All operations are idempotent or explicitly
// documented as not.
type KV interface {
	// StringGet returns the value at key, or ("", false, nil) if absent or expired.
	StringGet(ctx context.Context, key string) (string, bool, error)
	// StringSet sets key to value, with an optional TTL (zero means no expiry).
	StringSet(ctx context.Context, key, value string, ttl time.Duration) error
	// Del deletes key. Idempotent: deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// SetAdd adds member to the set at key. Idempotent.
	SetAdd(ctx context.Context, key, member string) error
	// SetRemove removes member from the set at key. Idempotent: removing a
	// non-member is a no-op, not an error.
	SetRemove(ctx context.Context, key, member string) error
	// SetCard returns the cardinality of the set at key.
	SetCard(ctx context.Context, key string) (int, error)
	// SetMembers returns all members of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ListAppend appends value to the end of the list at key, with an
	// optional TTL refreshed on every append. Not idempotent: each call adds
	// a new entry.
	ListAppend(ctx context.Context, key, value string, ttl time.Duration) error
	// ListRange returns all values in the list at key, oldest first.
	ListRange(ctx context.Context, key string) ([]string, error)

	// HashSet sets field to value in the hash at key, with an optional TTL.
	HashSet(ctx context.Context, key, field, value string, ttl time.Duration) error
	// HashGetAll returns every field/value pair in the hash at key.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// Time returns the store's notion of the current time, used so callers
	// never depend on local wall-clock skew for TTL bookkeeping.
	Time(ctx context.Context) (time.Time, error)

	// Close releases underlying resources.
	Close() error
}

// sqliteKV implements KV over a local/shared sqlite database.
type sqliteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (creating if absent) the sqlite-backed coordination
// store at dsn and ensures its schema exists.
func NewSQLiteKV(dsn string) (KV, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening coordination store %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY.

	k := &sqliteKV{db: db}
	if err := k.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return k, nil
}

func (k *sqliteKV) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_string (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS kv_set (
			key TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (key, member)
		)`,
		`CREATE TABLE IF NOT EXISTS kv_list (
			key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			value TEXT NOT NULL,
			expires_at INTEGER,
			PRIMARY KEY (key, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS kv_hash (
			key TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			expires_at INTEGER,
			PRIMARY KEY (key, field)
		)`,
	}
	for _, s := range stmts {
		if _, err := k.db.Exec(s); err != nil {
			return fmt.Errorf("migrating coordination store: %w", err)
		}
	}
	return nil
}

func expiresAt(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: time.Now().Add(ttl).UnixMilli(), Valid: true}
}

func (k *sqliteKV) StringGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expires sql.NullInt64
	row := k.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_string WHERE key = ?`, key)
	if err := row.Scan(&value, &expires); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv string get %q: %w", key, err)
	}
	if expires.Valid && expires.Int64 < time.Now().UnixMilli() {
		_ = k.Del(ctx, key)
		return "", false, nil
	}
	return value, true, nil
}

func (k *sqliteKV) StringSet(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := k.db.ExecContext(ctx,
		`INSERT INTO kv_string (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("kv string set %q: %w", key, err)
	}
	return nil
}

func (k *sqliteKV) Del(ctx context.Context, key string) error {
	for _, table := range []string{"kv_string", "kv_set", "kv_list", "kv_hash"} {
		if _, err := k.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table), key); err != nil {
			return fmt.Errorf("kv del %q from %s: %w", key, table, err)
		}
	}
	return nil
}

func (k *sqliteKV) SetAdd(ctx context.Context, key, member string) error {
	_, err := k.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv_set (key, member) VALUES (?, ?)`, key, member)
	if err != nil {
		return fmt.Errorf("kv set add %q/%q: %w", key, member, err)
	}
	return nil
}

func (k *sqliteKV) SetRemove(ctx context.Context, key, member string) error {
	_, err := k.db.ExecContext(ctx,
		`DELETE FROM kv_set WHERE key = ? AND member = ?`, key, member)
	if err != nil {
		return fmt.Errorf("kv set remove %q/%q: %w", key, member, err)
	}
	return nil
}

func (k *sqliteKV) SetCard(ctx context.Context, key string) (int, error) {
	var n int
	row := k.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_set WHERE key = ?`, key)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("kv set card %q: %w", key, err)
	}
	return n, nil
}

func (k *sqliteKV) SetMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := k.db.QueryContext(ctx, `SELECT member FROM kv_set WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("kv set members %q: %w", key, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (k *sqliteKV) ListAppend(ctx context.Context, key, value string, ttl time.Duration) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv list append %q: %w", key, err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM kv_list WHERE key = ?`, key).Scan(&maxSeq); err != nil {
		return fmt.Errorf("kv list append %q: %w", key, err)
	}
	nextSeq := int64(0)
	if maxSeq.Valid {
		nextSeq = maxSeq.Int64 + 1
	}

	exp := expiresAt(ttl)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv_list (key, seq, value, expires_at) VALUES (?, ?, ?, ?)`,
		key, nextSeq, value, exp); err != nil {
		return fmt.Errorf("kv list append %q: %w", key, err)
	}
	if ttl > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE kv_list SET expires_at = ? WHERE key = ?`, exp, key); err != nil {
			return fmt.Errorf("kv list append refresh ttl %q: %w", key, err)
		}
	}
	return tx.Commit()
}

func (k *sqliteKV) ListRange(ctx context.Context, key string) ([]string, error) {
	rows, err := k.db.QueryContext(ctx,
		`SELECT value, expires_at FROM kv_list WHERE key = ? ORDER BY seq ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("kv list range %q: %w", key, err)
	}
	defer rows.Close()

	now := time.Now().UnixMilli()
	var out []string
	for rows.Next() {
		var v string
		var exp sql.NullInt64
		if err := rows.Scan(&v, &exp); err != nil {
			return nil, err
		}
		if exp.Valid && exp.Int64 < now {
			continue // expired; the row stays in the table until the key is deleted.
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (k *sqliteKV) HashSet(ctx context.Context, key, field, value string, ttl time.Duration) error {
	_, err := k.db.ExecContext(ctx,
		`INSERT INTO kv_hash (key, field, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key, field) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, field, value, expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("kv hash set %q/%q: %w", key, field, err)
	}
	return nil
}

func (k *sqliteKV) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := k.db.QueryContext(ctx,
		`SELECT field, value, expires_at FROM kv_hash WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("kv hash getall %q: %w", key, err)
	}
	defer rows.Close()

	now := time.Now().UnixMilli()
	out := map[string]string{}
	for rows.Next() {
		var f, v string
		var exp sql.NullInt64
		if err := rows.Scan(&f, &v, &exp); err != nil {
			return nil, err
		}
		if exp.Valid && exp.Int64 < now {
			continue
		}
		out[f] = v
	}
	return out, rows.Err()
}

func (k *sqliteKV) Time(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (k *sqliteKV) Close() error {
	return k.db.Close()
}
