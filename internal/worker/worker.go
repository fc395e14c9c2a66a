package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"todoapp/internal/archive"
	"todoapp/internal/models"
	"todoapp/internal/queue"
	"todoapp/pkg/logger"
)

// Archiver writes the description of every newly created todo to the archive store.
type Archiver struct {
	store     archive.Store
	processed atomic.Int64
}

// NewArchiver returns an Archiver writing to store.
func NewArchiver(store archive.Store) *Archiver {
	return &Archiver{store: store}
}

// BlobName is the archive blob name for a todo.
func BlobName(id string) string {
	return id + ".txt"
}

// Handle archives one todo. Running it twice for the same todo leaves the same blob behind.
func (a *Archiver) Handle(ctx context.Context, todo models.Todo) error {
	if payload, err := json.Marshal(todo); err == nil {
		logger.Info(ctx, "Queue message received", "payload", string(payload))
	}
	if err := a.store.EnsureContainer(ctx); err != nil {
		return err
	}
	if err := a.store.PutBlob(ctx, BlobName(todo.ID), []byte(todo.TaskDescription)); err != nil {
		return err
	}
	a.processed.Add(1)
	return nil
}

// Processed reports how many messages were archived since start.
func (a *Archiver) Processed() int64 {
	return a.processed.Load()
}

// Run consumes the work queue and archives every message until ctx is done.
// One consumer per process; scale by running more replicas.
func Run(ctx context.Context, consumer queue.Consumer, a *Archiver) error {
	err := consumer.Consume(ctx, a.Handle)
	logger.Info(ctx, "Archive worker stopped", "processed", a.Processed())
	return err
}
