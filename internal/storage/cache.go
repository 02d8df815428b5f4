package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sapo/internal/cache"
)

// CacheStorage exposes the repository as a cache.Storage whose generations
// survive restarts.
func (r *SQLiteRepository) CacheStorage() *SQLiteCacheStorage {
	return &SQLiteCacheStorage{repo: r}
}

type SQLiteCacheStorage struct {
	repo *SQLiteRepository
}

type sqliteCacheStore struct {
	repo *SQLiteRepository
	id   int64
	name string
}

// Open implements cache.Storage
func (s *SQLiteCacheStorage) Open(ctx context.Context, name string) (cache.Store, error) {
	q := s.repo.queries
	if err := q.CreateCacheStore(ctx, name, s.repo.timestamp()); err != nil {
		return nil, fmt.Errorf("create cache store %s: %w", name, err)
	}
	id, ok, err := q.GetCacheStoreID(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get cache store %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("cache store %s vanished after creation", name)
	}
	return &sqliteCacheStore{repo: s.repo, id: id, name: name}, nil
}

// Has implements cache.Storage
func (s *SQLiteCacheStorage) Has(ctx context.Context, name string) (bool, error) {
	_, ok, err := s.repo.queries.GetCacheStoreID(ctx, name)
	if err != nil {
		return false, fmt.Errorf("get cache store %s: %w", name, err)
	}
	return ok, nil
}

// Names implements cache.Storage
func (s *SQLiteCacheStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.repo.queries.ListCacheStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache stores: %w", err)
	}
	return names, nil
}

// Delete implements cache.Storage. Entries and the store row go in one
// transaction.
func (s *SQLiteCacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	id, ok, err := s.repo.queries.GetCacheStoreID(ctx, name)
	if err != nil {
		return false, fmt.Errorf("get cache store %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}

	tx, err := s.repo.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := s.repo.queries.WithTx(tx)
	if err := q.DeleteCacheEntries(ctx, id); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	if err := q.DeleteCacheStore(ctx, id); err != nil {
		return false, fmt.Errorf("delete cache store %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Cache store deleted from SQLite", "name", name)
	return true, nil
}

// Match implements cache.Storage
func (s *SQLiteCacheStorage) Match(ctx context.Context, key string) (cache.Entry, bool, error) {
	row, ok, err := s.repo.queries.MatchCacheEntry(ctx, key)
	if err != nil || !ok {
		return cache.Entry{}, false, wrapErr("match "+key, err)
	}
	e, err := entryFromRow(row)
	return e, err == nil, err
}

func (c *sqliteCacheStore) Name() string { return c.name }

func (c *sqliteCacheStore) Put(ctx context.Context, key string, e cache.Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = c.repo.now()
	}
	// The row is keyed by the lookup key, which is the request URL
	row := CacheEntryRow{
		URL:      key,
		Status:   int64(e.Status),
		Header:   string(header),
		Body:     body,
		StoredAt: storedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := c.repo.queries.PutCacheEntry(ctx, c.id, row); err != nil {
		return fmt.Errorf("put %s in %s: %w", key, c.name, err)
	}
	return nil
}

func (c *sqliteCacheStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	row, ok, err := c.repo.queries.GetCacheEntry(ctx, c.id, key)
	if err != nil || !ok {
		return cache.Entry{}, false, wrapErr("get "+key, err)
	}
	e, err := entryFromRow(row)
	return e, err == nil, err
}

func (c *sqliteCacheStore) Delete(ctx context.Context, key string) error {
	if err := c.repo.queries.DeleteCacheEntry(ctx, c.id, key); err != nil {
		return fmt.Errorf("delete %s from %s: %w", key, c.name, err)
	}
	return nil
}

func (c *sqliteCacheStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.repo.queries.ListCacheKeys(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("list keys of %s: %w", c.name, err)
	}
	return keys, nil
}

func (c *sqliteCacheStore) Len(ctx context.Context) (int, error) {
	n, err := c.repo.queries.CountCacheEntries(ctx, c.id)
	if err != nil {
		return 0, fmt.Errorf("count entries of %s: %w", c.name, err)
	}
	return int(n), nil
}

func entryFromRow(row CacheEntryRow) (cache.Entry, error) {
	var header http.Header
	if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
		return cache.Entry{}, fmt.Errorf("decode header of %s: %w", row.URL, err)
	}
	storedAt, err := time.Parse(time.RFC3339Nano, row.StoredAt)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("decode stored_at of %s: %w", row.URL, err)
	}
	return cache.Entry{
		URL:      row.URL,
		Status:   int(row.Status),
		Header:   header,
		Body:     row.Body,
		StoredAt: storedAt,
	}, nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
