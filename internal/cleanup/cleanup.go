package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"todoapp/internal/models"
	"todoapp/internal/repository"
	"todoapp/pkg/logger"
)

// Job deletes completed task records from the first page of the store.
type Job struct {
	store repository.TaskStore
}

// NewJob returns a cleanup job over store.
func NewJob(store repository.TaskStore) *Job {
	return &Job{store: store}
}

// Run sweeps one page and returns how many records it deleted. A failed delete
// does not stop the sweep; all failures are returned joined.
func (j *Job) Run(ctx context.Context) (int, error) {
	logger.Info(ctx, "Cleanup job started", "at", time.Now().Format(time.RFC3339))
	records, err := j.store.FirstPage(ctx)
	if err != nil {
		return 0, fmt.Errorf("read first page: %w", err)
	}
	var (
		deleted int
		errs    []error
	)
	for _, rec := range records {
		if !rec.IsCompleted {
			continue
		}
		err := j.store.Delete(ctx, models.PartitionKey, rec.RowKey, repository.ETagAny)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, repository.ErrNotFound):
			// already gone
		default:
			logger.Error(ctx, "Cleanup delete failed", "id", rec.RowKey, "error", err)
			errs = append(errs, fmt.Errorf("delete %s: %w", rec.RowKey, err))
		}
	}
	logger.Info(ctx, "Cleanup job finished", "deleted", deleted, "failed", len(errs), "at", time.Now().Format(time.RFC3339))
	return deleted, errors.Join(errs...)
}
