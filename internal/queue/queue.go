package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"todoapp/internal/config"
	"todoapp/internal/models"
)

// Publisher emits newly created todos to the work queue.
type Publisher interface {
	PublishTodo(ctx context.Context, todo models.Todo) error
}

// Handler processes one delivered todo. A non-nil error leaves the message for redelivery.
type Handler func(ctx context.Context, todo models.Todo) error

// Consumer delivers queued todos at least once to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// Queue is both ends of one work queue.
type Queue interface {
	Publisher
	Consumer
	// Ensure creates the queue or topic if it does not exist yet.
	Ensure(ctx context.Context) error
	Close() error
}

// Open builds the queue selected by cfg.QueueDriver.
func Open(cfg *config.Config) (Queue, error) {
	switch cfg.QueueDriver {
	case config.QueueAzure:
		q, err := NewAzureQueue(cfg.StorageConnectionString, cfg.TodoQueue, AzureOptions{
			MaxDequeue:        cfg.QueueMaxDequeue,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			PollIntervalMS:    cfg.QueuePollInterval,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.QueueKafka:
		return NewKafkaQueue(KafkaOptions{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.KafkaTopic,
			Partitions:  cfg.KafkaPartitions,
			GroupID:     cfg.KafkaGroupID,
			MaxAttempts: cfg.QueueMaxDequeue,
		}), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

func encodeTodo(todo models.Todo) ([]byte, error) {
	return json.Marshal(todo)
}

// decodeTodo accepts plain JSON and base64-wrapped JSON, the encoding Functions hosts use by default.
// A message without an id is undecodable.
func decodeTodo(body []byte) (models.Todo, error) {
	todo, err := unmarshalTodo(body)
	if err == nil {
		return todo, nil
	}
	raw, decErr := base64.StdEncoding.DecodeString(string(body))
	if decErr != nil {
		return models.Todo{}, err
	}
	return unmarshalTodo(raw)
}

func unmarshalTodo(b []byte) (models.Todo, error) {
	var todo models.Todo
	if err := json.Unmarshal(b, &todo); err != nil {
		return models.Todo{}, fmt.Errorf("decode todo message: %w", err)
	}
	if todo.ID == "" {
		return models.Todo{}, errors.New("decode todo message: missing id")
	}
	return todo, nil
}
