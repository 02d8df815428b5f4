package storage

import (
	"context"
	"database/sql"
	"errors"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL used by the repository. It runs against either the
// database or a transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const getValue = `SELECT value FROM kv WHERE key = ?`

func (q *Queries) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := q.db.QueryRowContext(ctx, getValue, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

const setValue = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (q *Queries) SetValue(ctx context.Context, key, value, updatedAt string) error {
	_, err := q.db.ExecContext(ctx, setValue, key, value, updatedAt)
	return err
}

const deleteValue = `DELETE FROM kv WHERE key = ?`

func (q *Queries) DeleteValue(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteValue, key)
	return err
}

const listKeys = `SELECT key FROM kv ORDER BY key`

func (q *Queries) ListKeys(ctx context.Context) ([]string, error) {
	return q.strings(ctx, listKeys)
}

const getCacheStoreID = `SELECT id FROM cache_stores WHERE name = ?`

func (q *Queries) GetCacheStoreID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, getCacheStoreID, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

const createCacheStore = `INSERT INTO cache_stores (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`

func (q *Queries) CreateCacheStore(ctx context.Context, name, createdAt string) error {
	_, err := q.db.ExecContext(ctx, createCacheStore, name, createdAt)
	return err
}

const listCacheStores = `SELECT name FROM cache_stores ORDER BY id`

func (q *Queries) ListCacheStores(ctx context.Context) ([]string, error) {
	return q.strings(ctx, listCacheStores)
}

const deleteCacheEntries = `DELETE FROM cache_entries WHERE store_id = ?`

func (q *Queries) DeleteCacheEntries(ctx context.Context, storeID int64) error {
	_, err := q.db.ExecContext(ctx, deleteCacheEntries, storeID)
	return err
}

const deleteCacheStore = `DELETE FROM cache_stores WHERE id = ?`

func (q *Queries) DeleteCacheStore(ctx context.Context, storeID int64) error {
	_, err := q.db.ExecContext(ctx, deleteCacheStore, storeID)
	return err
}

type CacheEntryRow struct {
	URL      string
	Status   int64
	Header   string
	Body     []byte
	StoredAt string
}

const putCacheEntry = `INSERT INTO cache_entries (store_id, url, status, header, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(store_id, url) DO UPDATE SET
    status = excluded.status,
    header = excluded.header,
    body = excluded.body,
    stored_at = excluded.stored_at`

func (q *Queries) PutCacheEntry(ctx context.Context, storeID int64, row CacheEntryRow) error {
	_, err := q.db.ExecContext(ctx, putCacheEntry, storeID, row.URL, row.Status, row.Header, row.Body, row.StoredAt)
	return err
}

const getCacheEntry = `SELECT url, status, header, body, stored_at FROM cache_entries WHERE store_id = ? AND url = ?`

func (q *Queries) GetCacheEntry(ctx context.Context, storeID int64, url string) (CacheEntryRow, bool, error) {
	return q.entry(ctx, getCacheEntry, storeID, url)
}

const matchCacheEntry = `SELECT e.url, e.status, e.header, e.body, e.stored_at
FROM cache_entries e
JOIN cache_stores s ON s.id = e.store_id
WHERE e.url = ?
ORDER BY s.id
LIMIT 1`

func (q *Queries) MatchCacheEntry(ctx context.Context, url string) (CacheEntryRow, bool, error) {
	return q.entry(ctx, matchCacheEntry, url)
}

const deleteCacheEntry = `DELETE FROM cache_entries WHERE store_id = ? AND url = ?`

func (q *Queries) DeleteCacheEntry(ctx context.Context, storeID int64, url string) error {
	_, err := q.db.ExecContext(ctx, deleteCacheEntry, storeID, url)
	return err
}

// Entries keep their insertion rowid on upsert, so rowid order is insertion order.
const listCacheKeys = `SELECT url FROM cache_entries WHERE store_id = ? ORDER BY rowid`

func (q *Queries) ListCacheKeys(ctx context.Context, storeID int64) ([]string, error) {
	return q.strings(ctx, listCacheKeys, storeID)
}

const countCacheEntries = `SELECT COUNT(*) FROM cache_entries WHERE store_id = ?`

func (q *Queries) CountCacheEntries(ctx context.Context, storeID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countCacheEntries, storeID).Scan(&n)
	return n, err
}

func (q *Queries) entry(ctx context.Context, query string, args ...interface{}) (CacheEntryRow, bool, error) {
	var row CacheEntryRow
	err := q.db.QueryRowContext(ctx, query, args...).Scan(&row.URL, &row.Status, &row.Header, &row.Body, &row.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntryRow{}, false, nil
	}
	if err != nil {
		return CacheEntryRow{}, false, err
	}
	return row, true, nil
}

func (q *Queries) strings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
