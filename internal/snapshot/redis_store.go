package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "actrt:snapshot:"

// RedisStore is a distributed, Redis-backed Store suitable for
// multi-instance deployments. Each activity's record is stored as a JSON
// blob under a single key; the version is tracked inside the blob and
// checked client-side via WATCH/MULTI for conditional writes.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed snapshot store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(activityID string) string {
	return redisKeyPrefix + activityID
}

func (s *RedisStore) Get(ctx context.Context, activityID string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(activityID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Put performs a conditional write via Redis WATCH/MULTI when
// opts.ExpectedVersion is set, so concurrent writers from different hosts
// cannot silently clobber each other's version.
func (s *RedisStore) Put(ctx context.Context, activityID string, state json.RawMessage, opts *PutOptions) (*Record, error) {
	key := s.key(activityID)
	var result *Record

	txf := func(tx *redis.Tx) error {
		current := int64(0)
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			var existing Record
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			current = existing.Version
		}

		if opts != nil && opts.ExpectedVersion != 0 && current != opts.ExpectedVersion {
			return ErrVersionConflict
		}

		r := &Record{
			ActivityID: activityID,
			Version:    current + 1,
			State:      append(json.RawMessage(nil), state...),
			UpdatedAt:  time.Now(),
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	if err := s.client.Watch(ctx, txf, key); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) Delete(ctx context.Context, activityID string) error {
	return s.client.Del(ctx, s.key(activityID)).Err()
}

// List scans for activity snapshots matching opts.Prefix. Uses SCAN rather
// than KEYS to avoid blocking the Redis event loop on large keyspaces.
func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*Record, error) {
	prefix := ""
	limit := 0
	if opts != nil {
		prefix = opts.Prefix
		limit = opts.Limit
	}

	match := redisKeyPrefix + prefix + "*"
	var out []*Record
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			raw, err := s.client.Get(ctx, k).Bytes()
			if err != nil {
				continue
			}
			var r Record
			if err := json.Unmarshal(raw, &r); err != nil {
				continue
			}
			out = append(out, &r)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sortRecords(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
