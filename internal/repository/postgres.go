package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"todoapp/internal/database"
	"todoapp/internal/models"
	"todoapp/pkg/logger"
)

const uniqueViolation = "23505"

// PostgresStore keeps task records in Postgres, using a version column as the concurrency token.
type PostgresStore struct {
	db       *sql.DB
	pageSize int
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB, pageSize int) *PostgresStore {
	return &PostgresStore{db: db, pageSize: pageSize}
}

func versionETag(v int64) string {
	return `W/"` + strconv.FormatInt(v, 10) + `"`
}

func parseVersionETag(etag string) (int64, bool) {
	s := strings.TrimPrefix(etag, "W/")
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (partition_key, row_key, task_description, is_completed, version)
		 VALUES ($1, $2, $3, $4, 1)`,
		rec.PartitionKey, rec.RowKey, rec.TaskDescription, rec.IsCompleted)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return models.TaskRecord{}, fmt.Errorf("%w: %s", ErrAlreadyExists, rec.RowKey)
		}
		logger.Error(ctx, "Repository Insert failed", "error", err, "id", rec.RowKey)
		return models.TaskRecord{}, err
	}
	rec.ETag = versionETag(1)
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, partition, row string) (models.TaskRecord, error) {
	rec := models.TaskRecord{PartitionKey: partition, RowKey: row}
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT task_description, is_completed, version FROM todos WHERE partition_key = $1 AND row_key = $2`,
		partition, row).Scan(&rec.TaskDescription, &rec.IsCompleted, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TaskRecord{}, fmt.Errorf("%w: %s", ErrNotFound, row)
	}
	if err != nil {
		return models.TaskRecord{}, err
	}
	rec.ETag = versionETag(version)
	return rec, nil
}

func (s *PostgresStore) Replace(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error) {
	var (
		version int64
		err     error
	)
	if rec.ETag == ETagAny {
		err = s.db.QueryRowContext(ctx,
			`UPDATE todos SET task_description = $1, is_completed = $2, version = version + 1
			 WHERE partition_key = $3 AND row_key = $4 RETURNING version`,
			rec.TaskDescription, rec.IsCompleted, rec.PartitionKey, rec.RowKey).Scan(&version)
	} else {
		expected, ok := parseVersionETag(rec.ETag)
		if !ok {
			return models.TaskRecord{}, fmt.Errorf("%w: malformed token %q", ErrConflict, rec.ETag)
		}
		err = s.db.QueryRowContext(ctx,
			`UPDATE todos SET task_description = $1, is_completed = $2, version = version + 1
			 WHERE partition_key = $3 AND row_key = $4 AND version = $5 RETURNING version`,
			rec.TaskDescription, rec.IsCompleted, rec.PartitionKey, rec.RowKey, expected).Scan(&version)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.TaskRecord{}, s.missOrConflict(ctx, rec.PartitionKey, rec.RowKey)
	}
	if err != nil {
		logger.Error(ctx, "Repository Replace failed", "error", err, "id", rec.RowKey)
		return models.TaskRecord{}, err
	}
	rec.ETag = versionETag(version)
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, partition, row, etag string) error {
	var (
		res sql.Result
		err error
	)
	if etag == ETagAny {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM todos WHERE partition_key = $1 AND row_key = $2`, partition, row)
	} else {
		expected, ok := parseVersionETag(etag)
		if !ok {
			return fmt.Errorf("%w: malformed token %q", ErrConflict, etag)
		}
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM todos WHERE partition_key = $1 AND row_key = $2 AND version = $3`, partition, row, expected)
	}
	if err != nil {
		logger.Error(ctx, "Repository Delete failed", "error", err, "id", row)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if etag == ETagAny {
			return fmt.Errorf("%w: %s", ErrNotFound, row)
		}
		return s.missOrConflict(ctx, partition, row)
	}
	return nil
}

// missOrConflict tells apart a vanished row from a stale token after a guarded write hit no rows.
func (s *PostgresStore) missOrConflict(ctx context.Context, partition, row string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM todos WHERE partition_key = $1 AND row_key = $2`, partition, row).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", ErrNotFound, row)
	case err != nil:
		return err
	default:
		return fmt.Errorf("%w: %s", ErrConflict, row)
	}
}

func (s *PostgresStore) FirstPage(ctx context.Context) ([]models.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_key, task_description, is_completed, version FROM todos
		 WHERE partition_key = $1 ORDER BY row_key LIMIT $2`,
		models.PartitionKey, s.pageSize)
	if err != nil {
		logger.Error(ctx, "Repository FirstPage failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	records := []models.TaskRecord{}
	for rows.Next() {
		rec := models.TaskRecord{PartitionKey: models.PartitionKey}
		var version int64
		if err := rows.Scan(&rec.RowKey, &rec.TaskDescription, &rec.IsCompleted, &version); err != nil {
			logger.Error(ctx, "Repository scan task failed", "error", err)
			return nil, err
		}
		rec.ETag = versionETag(version)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return database.MigrateOrCreateSchema(ctx, s.db)
}
