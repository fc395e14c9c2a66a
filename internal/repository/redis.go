package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"todoapp/internal/models"
	"todoapp/pkg/logger"
)

const (
	fieldDescription = "description"
	fieldCompleted   = "completed"
	fieldVersion     = "version"
)

// RedisStore keeps each task record in a hash and indexes row keys in a per-partition sorted set.
// WATCH/MULTI transactions implement the concurrency token check; writes with ETagAny skip it.
type RedisStore struct {
	client   *redis.Client
	pageSize int64
}

// NewRedisClient parses url, applies the pool size and pings the server.
func NewRedisClient(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.PoolSize = poolSize
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info(ctx, "Redis client initialized", "pool_size", poolSize)
	return client, nil
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client *redis.Client, pageSize int) *RedisStore {
	return &RedisStore{client: client, pageSize: int64(pageSize)}
}

func recordKey(partition, row string) string {
	return "todo:" + partition + ":" + row
}

func indexKey(partition string) string {
	return "todos:" + partition
}

// replaceAny overwrites an existing record and bumps its version without watching the key.
var replaceAny = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'description', ARGV[1], 'completed', ARGV[2])
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

func decodeHash(partition, row string, h map[string]string) (models.TaskRecord, error) {
	version, err := strconv.ParseInt(h[fieldVersion], 10, 64)
	if err != nil {
		return models.TaskRecord{}, fmt.Errorf("corrupt record %s: %w", row, err)
	}
	return models.TaskRecord{
		PartitionKey:    partition,
		RowKey:          row,
		TaskDescription: h[fieldDescription],
		IsCompleted:     h[fieldCompleted] == "1",
		ETag:            versionETag(version),
	}, nil
}

func completedFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// txError maps an aborted optimistic transaction to ErrConflict.
func txError(err error, row string) error {
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", ErrConflict, row)
	}
	return err
}

func (s *RedisStore) Insert(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error) {
	key := recordKey(rec.PartitionKey, rec.RowKey)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.RowKey)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldDescription, rec.TaskDescription,
				fieldCompleted, completedFlag(rec.IsCompleted),
				fieldVersion, 1)
			pipe.ZAdd(ctx, indexKey(rec.PartitionKey), redis.Z{Score: 0, Member: rec.RowKey})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return models.TaskRecord{}, txError(err, rec.RowKey)
	}
	rec.ETag = versionETag(1)
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, partition, row string) (models.TaskRecord, error) {
	h, err := s.client.HGetAll(ctx, recordKey(partition, row)).Result()
	if err != nil {
		return models.TaskRecord{}, err
	}
	if len(h) == 0 {
		return models.TaskRecord{}, fmt.Errorf("%w: %s", ErrNotFound, row)
	}
	return decodeHash(partition, row, h)
}

// checkVersion reads the stored version inside a watched transaction and compares it with etag.
func checkVersion(ctx context.Context, tx *redis.Tx, key, row, etag string) (int64, error) {
	current, err := tx.HGet(ctx, key, fieldVersion).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, row)
	}
	if err != nil {
		return 0, err
	}
	if etag != versionETag(current) {
		return 0, fmt.Errorf("%w: %s", ErrConflict, row)
	}
	return current, nil
}

func (s *RedisStore) Replace(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error) {
	key := recordKey(rec.PartitionKey, rec.RowKey)
	if rec.ETag == ETagAny {
		next, err := replaceAny.Run(ctx, s.client, []string{key},
			rec.TaskDescription, completedFlag(rec.IsCompleted)).Int64()
		if err != nil {
			return models.TaskRecord{}, err
		}
		if next < 0 {
			return models.TaskRecord{}, fmt.Errorf("%w: %s", ErrNotFound, rec.RowKey)
		}
		rec.ETag = versionETag(next)
		return rec, nil
	}
	var next int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := checkVersion(ctx, tx, key, rec.RowKey, rec.ETag)
		if err != nil {
			return err
		}
		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldDescription, rec.TaskDescription,
				fieldCompleted, completedFlag(rec.IsCompleted),
				fieldVersion, next)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return models.TaskRecord{}, txError(err, rec.RowKey)
	}
	rec.ETag = versionETag(next)
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, partition, row, etag string) error {
	key := recordKey(partition, row)
	if etag == ETagAny {
		var removed *redis.IntCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			removed = pipe.Del(ctx, key)
			pipe.ZRem(ctx, indexKey(partition), row)
			return nil
		})
		if err != nil {
			return err
		}
		if removed.Val() == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, row)
		}
		return nil
	}
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		if _, err := checkVersion(ctx, tx, key, row, etag); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, indexKey(partition), row)
			return nil
		})
		return err
	}, key)
	return txError(err, row)
}

func (s *RedisStore) FirstPage(ctx context.Context) ([]models.TaskRecord, error) {
	// Equal scores keep the index in lexicographic row key order.
	rows, err := s.client.ZRange(ctx, indexKey(models.PartitionKey), 0, s.pageSize-1).Result()
	if err != nil {
		return nil, err
	}
	cmds := make([]*redis.MapStringStringCmd, len(rows))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, row := range rows {
			cmds[i] = pipe.HGetAll(ctx, recordKey(models.PartitionKey, row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	records := make([]models.TaskRecord, 0, len(rows))
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			// deleted between the index read and the fetch
			continue
		}
		rec, err := decodeHash(models.PartitionKey, rows[i], h)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// EnsureSchema is a no-op; keys are created on first write.
func (s *RedisStore) EnsureSchema(ctx context.Context) error {
	return nil
}
