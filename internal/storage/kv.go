package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"omnichat/internal/platform"
)

// KVStore keeps per-user key-value entries in the kv_entries table.
type KVStore struct {
	db     *sql.DB
	upsert string
}

func NewKVStore(db *sql.DB, driver string) (*KVStore, error) {
	var upsert string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		upsert = `INSERT INTO kv_entries (owner, entry_key, entry_value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(owner, entry_key) DO UPDATE SET entry_value = excluded.entry_value, updated_at = excluded.updated_at`
	case "mysql":
		upsert = `INSERT INTO kv_entries (owner, entry_key, entry_value, updated_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE entry_value = VALUES(entry_value), updated_at = VALUES(updated_at)`
	default:
		return nil, fmt.Errorf("unsupported driver for kv store: %s", driver)
	}
	return &KVStore{db: db, upsert: upsert}, nil
}

// ForUser binds the store to one owner.
func (s *KVStore) ForUser(uid string) platform.KeyValueStore {
	return &userKV{store: s, owner: uid}
}

type userKV struct {
	store *KVStore
	owner string
}

func (u *userKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := u.store.db.QueryRowContext(ctx,
		`SELECT entry_value FROM kv_entries WHERE owner = ? AND entry_key = ?`, u.owner, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

func (u *userKV) Set(ctx context.Context, key, value string) error {
	if _, err := u.store.db.ExecContext(ctx, u.store.upsert, u.owner, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}
