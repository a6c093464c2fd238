package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "notifier:delivery:"
	maxTxRetries       = 16
)

// RedisStore shares delivery records between processes. Updates run as
// WATCH/MULTI transactions so concurrent merges of one record serialise.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a Redis backed store. An empty prefix uses the default.
func NewRedisStore(rdb redis.UniversalClient, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("tracker: redis client is required")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + "record:" + id
}

func (s *RedisStore) createdKey() string {
	return s.prefix + "created"
}

func (s *RedisStore) sentKey() string {
	return s.prefix + "sent"
}

func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tracker: encode record: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.recordKey(rec.MessageID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("tracker: create record: %w", err)
	}
	if !ok {
		return ErrExists
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.createdKey(), redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.MessageID})
		if !rec.SentAt.IsZero() {
			pipe.ZAdd(ctx, s.sentKey(), redis.Z{Score: float64(rec.SentAt.UnixMilli()), Member: rec.MessageID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tracker: index record: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Record, bool, error) {
	key := s.recordKey(id)
	var (
		result  *Record
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		rec := &Record{}
		if err := json.Unmarshal(raw, rec); err != nil {
			return fmt.Errorf("tracker: decode record %s: %w", id, err)
		}
		changed, err = fn(rec)
		if err != nil {
			return err
		}
		result = rec
		if !changed {
			return nil
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("tracker: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if !rec.SentAt.IsZero() {
				pipe.ZAdd(ctx, s.sentKey(), redis.Z{Score: float64(rec.SentAt.UnixMilli()), Member: id})
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, false, err
			}
			return nil, false, fmt.Errorf("tracker: update record %s: %w", id, err)
		}
		return result, changed, nil
	}
	return nil, false, fmt.Errorf("tracker: update record %s: too much contention", id)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: get record %s: %w", id, err)
	}
	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("tracker: decode record %s: %w", id, err)
	}
	return rec, nil
}

func (s *RedisStore) ListSent(ctx context.Context, from, to time.Time) ([]*Record, error) {
	lo, hi := "-inf", "+inf"
	if !from.IsZero() {
		lo = strconv.FormatInt(from.UnixMilli(), 10)
	}
	if !to.IsZero() {
		hi = "(" + strconv.FormatInt(to.UnixMilli(), 10)
	}
	ids, err := s.rdb.ZRangeByScore(ctx, s.sentKey(), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, fmt.Errorf("tracker: list sent: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("tracker: load sent records: %w", err)
	}
	out := make([]*Record, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec := &Record{}
		if err := json.Unmarshal([]byte(str), rec); err != nil {
			return nil, fmt.Errorf("tracker: decode record %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	hi := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	ids, err := s.rdb.ZRangeByScore(ctx, s.createdKey(), &redis.ZRangeBy{Min: "-inf", Max: hi}).Result()
	if err != nil {
		return 0, fmt.Errorf("tracker: list expired: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
		members[i] = id
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.createdKey(), members...)
		pipe.ZRem(ctx, s.sentKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tracker: delete expired: %w", err)
	}
	return len(ids), nil
}
