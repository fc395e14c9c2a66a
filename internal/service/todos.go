package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"todoapp/internal/models"
	"todoapp/internal/queue"
	"todoapp/internal/repository"
	"todoapp/pkg/logger"
)

// ErrValidation marks requests that fail presence checks.
var ErrValidation = errors.New("invalid request")

// TodoService implements the todo CRUD operations over a task store.
// Create additionally publishes the new todo to the work queue.
type TodoService struct {
	store     repository.TaskStore
	publisher queue.Publisher
	listGroup singleflight.Group
}

// NewTodoService returns a service backed by store and publisher.
func NewTodoService(store repository.TaskStore, publisher queue.Publisher) *TodoService {
	return &TodoService{store: store, publisher: publisher}
}

func (s *TodoService) Create(ctx context.Context, description string) (models.Todo, error) {
	if description == "" {
		return models.Todo{}, fmt.Errorf("%w: taskDescription is required", ErrValidation)
	}
	logger.Info(ctx, "Creating new todo list item")
	todo := models.NewTodo(description)
	if _, err := s.store.Insert(ctx, todo.ToRecord()); err != nil {
		return models.Todo{}, fmt.Errorf("insert todo %s: %w", todo.ID, err)
	}
	if err := s.publisher.PublishTodo(ctx, todo); err != nil {
		return models.Todo{}, fmt.Errorf("publish todo %s: %w", todo.ID, err)
	}
	return todo, nil
}

// List returns the todos of the store's first page. Concurrent calls share one store query.
func (s *TodoService) List(ctx context.Context) ([]models.Todo, error) {
	logger.Info(ctx, "Get list of todos")
	v, err, _ := s.listGroup.Do("first-page", func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		records, err := s.store.FirstPage(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return models.ToTodos(records), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	shared := v.([]models.Todo)
	todos := make([]models.Todo, len(shared))
	copy(todos, shared)
	return todos, nil
}

func (s *TodoService) Get(ctx context.Context, id string) (models.Todo, error) {
	logger.Info(ctx, "Get todo", "id", id)
	rec, err := s.store.Get(ctx, models.PartitionKey, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info(ctx, "Item not found", "id", id)
		}
		return models.Todo{}, err
	}
	return rec.ToTodo(), nil
}

// Update overwrites the completion flag, and the description when a non-empty one is given.
// The write is guarded by the token read with the record; a concurrent change yields ErrConflict.
func (s *TodoService) Update(ctx context.Context, id string, upd models.TodoUpdate) (models.Todo, error) {
	logger.Info(ctx, "Update todo", "id", id)
	rec, err := s.store.Get(ctx, models.PartitionKey, id)
	if err != nil {
		return models.Todo{}, err
	}
	rec.IsCompleted = upd.IsCompleted
	if upd.TaskDescription != "" {
		rec.TaskDescription = upd.TaskDescription
	}
	saved, err := s.store.Replace(ctx, rec)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			logger.Warn(ctx, "Todo changed concurrently", "id", id)
		}
		return models.Todo{}, err
	}
	return saved.ToTodo(), nil
}

// Delete removes the todo regardless of its concurrency token.
func (s *TodoService) Delete(ctx context.Context, id string) error {
	logger.Info(ctx, "Delete todo", "id", id)
	return s.store.Delete(ctx, models.PartitionKey, id, repository.ETagAny)
}
