package repository

import (
	"context"
	"errors"
	"fmt"

	"todoapp/internal/config"
	"todoapp/internal/database"
	"todoapp/internal/models"
)

// ETagAny matches any concurrency token; used for unconditional deletes and replaces.
const ETagAny = "*"

var (
	// ErrNotFound is returned when no record exists for the partition and row key.
	ErrNotFound = errors.New("task record not found")

	// ErrConflict is returned when the supplied concurrency token no longer
	// matches the stored record.
	ErrConflict = errors.New("task record was modified concurrently")

	// ErrAlreadyExists is returned by Insert when the row key is taken.
	ErrAlreadyExists = errors.New("task record already exists")
)

// TaskStore is a key-partitioned table of task records.
type TaskStore interface {
	// Insert adds a new record and returns it with its concurrency token set.
	Insert(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error)
	// Get looks a record up by partition and row key.
	Get(ctx context.Context, partition, row string) (models.TaskRecord, error)
	// Replace overwrites the record if rec.ETag still matches and returns it with the new token.
	Replace(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error)
	// Delete removes the record if etag matches; ETagAny deletes unconditionally.
	Delete(ctx context.Context, partition, row, etag string) error
	// FirstPage returns the first page of records of the shared partition, ordered by row key.
	FirstPage(ctx context.Context) ([]models.TaskRecord, error)
	// EnsureSchema creates the backing table if it does not exist yet.
	EnsureSchema(ctx context.Context) error
}

// Open builds the TaskStore selected by cfg.TaskStoreDriver.
func Open(ctx context.Context, cfg *config.Config) (TaskStore, error) {
	switch cfg.TaskStoreDriver {
	case config.StoreTable:
		s, err := NewTableStore(cfg.StorageConnectionString, cfg.TasksTable, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePostgres:
		db := database.DB(ctx)
		if db == nil {
			return nil, errors.New("database not available")
		}
		return NewPostgresStore(db, cfg.PageSize), nil
	case config.StoreRedis:
		client, err := NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPoolSize)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.PageSize), nil
	default:
		return nil, fmt.Errorf("unknown task store driver %q", cfg.TaskStoreDriver)
	}
}
