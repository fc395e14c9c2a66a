package models

import "github.com/google/uuid"

// PartitionKey is shared by every task record; the store is a flat collection keyed by id.
const PartitionKey = "TODO"

// Todo represents a todo item.
type Todo struct {
	ID              string `json:"id"`
	TaskDescription string `json:"taskDescription"`
	IsCompleted     bool   `json:"isCompleted"`
}

// NewTodo returns an incomplete todo with a freshly generated id.
func NewTodo(description string) Todo {
	return Todo{
		ID:              uuid.New().String(),
		TaskDescription: description,
	}
}

// TodoCreate is the request body for creating a todo.
type TodoCreate struct {
	TaskDescription string `json:"taskDescription" binding:"required"`
}

// TodoUpdate is the request body for updating a todo. An empty description keeps the old one.
type TodoUpdate struct {
	TaskDescription string `json:"taskDescription"`
	IsCompleted     bool   `json:"isCompleted"`
}

// TaskRecord is the persisted form of a Todo.
type TaskRecord struct {
	PartitionKey    string
	RowKey          string
	TaskDescription string
	IsCompleted     bool
	// ETag is the opaque concurrency token assigned by the store.
	ETag string
}

// ToRecord maps the todo to a record in the shared partition.
func (t Todo) ToRecord() TaskRecord {
	return TaskRecord{
		PartitionKey:    PartitionKey,
		RowKey:          t.ID,
		TaskDescription: t.TaskDescription,
		IsCompleted:     t.IsCompleted,
	}
}

// ToTodo maps the record back to its todo.
func (r TaskRecord) ToTodo() Todo {
	return Todo{
		ID:              r.RowKey,
		TaskDescription: r.TaskDescription,
		IsCompleted:     r.IsCompleted,
	}
}

// ToTodos maps a page of records, never returning nil.
func ToTodos(records []TaskRecord) []Todo {
	todos := make([]Todo, 0, len(records))
	for _, r := range records {
		todos = append(todos, r.ToTodo())
	}
	return todos
}
