package redis

import (
	"context"
	"errors"
	"fmt"

	"omnichat/internal/platform"
)

const keyPrefix = "omnichat"

// KVStore keeps per-user values under omnichat:<uid>:<key>.
type KVStore struct {
	client *Client
}

func NewKVStore(client *Client) *KVStore {
	return &KVStore{client: client}
}

func (s *KVStore) ForUser(uid string) platform.KeyValueStore {
	return &userKV{client: s.client, uid: uid}
}

// Key returns the redis key used for one user's entry.
func Key(uid, key string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, uid, key)
}

type userKV struct {
	client *Client
	uid    string
}

func (u *userKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := u.client.Get(ctx, Key(u.uid, key))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (u *userKV) Set(ctx context.Context, key, value string) error {
	if err := u.client.Set(ctx, Key(u.uid, key), value, 0); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
