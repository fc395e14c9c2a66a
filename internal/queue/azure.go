package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"todoapp/internal/models"
	"todoapp/pkg/logger"
)

// AzureOptions tunes the Storage Queue consumer.
type AzureOptions struct {
	// MaxDequeue is the delivery count after which a failing message is moved to the poison queue.
	MaxDequeue int
	// VisibilityTimeout hides a dequeued message for this many seconds.
	VisibilityTimeout int
	// PollIntervalMS is the pause after an empty dequeue.
	PollIntervalMS int
}

type message struct {
	id           string
	popReceipt   string
	text         string
	dequeueCount int64
}

// messageStore is the slice of a storage queue the consumer needs.
type messageStore interface {
	create(ctx context.Context) error
	enqueue(ctx context.Context, text string) error
	// dequeue returns nil when the queue is empty.
	dequeue(ctx context.Context, visibility int32) (*message, error)
	delete(ctx context.Context, m *message) error
}

// AzureQueue is a work queue on Azure Storage Queues with a "-poison" side queue.
type AzureQueue struct {
	name   string
	main   messageStore
	poison messageStore
	opts   AzureOptions
}

// NewAzureQueue connects to queue name and its poison queue using a storage connection string.
func NewAzureQueue(connStr, name string, opts AzureOptions) (*AzureQueue, error) {
	clientOpts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	main, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &clientOpts)
	if err != nil {
		return nil, fmt.Errorf("queue client: %w", err)
	}
	poison, err := azqueue.NewQueueClientFromConnectionString(connStr, name+"-poison", &clientOpts)
	if err != nil {
		return nil, fmt.Errorf("poison queue client: %w", err)
	}
	return newAzureQueue(name, &storageQueue{client: main}, &storageQueue{client: poison}, opts), nil
}

func newAzureQueue(name string, main, poison messageStore, opts AzureOptions) *AzureQueue {
	if opts.MaxDequeue <= 0 {
		opts.MaxDequeue = 5
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30
	}
	if opts.PollIntervalMS <= 0 {
		opts.PollIntervalMS = 1000
	}
	return &AzureQueue{name: name, main: main, poison: poison, opts: opts}
}

func (q *AzureQueue) Ensure(ctx context.Context) error {
	if err := q.main.create(ctx); err != nil {
		return err
	}
	if err := q.poison.create(ctx); err != nil {
		return err
	}
	logger.Info(ctx, "Queue ensured", "queue", q.name)
	return nil
}

func (q *AzureQueue) PublishTodo(ctx context.Context, todo models.Todo) error {
	payload, err := encodeTodo(todo)
	if err != nil {
		return err
	}
	return q.main.enqueue(ctx, string(payload))
}

func (q *AzureQueue) Consume(ctx context.Context, h Handler) error {
	idle := time.Duration(q.opts.PollIntervalMS) * time.Millisecond
	logger.Info(ctx, "Queue consumer started", "queue", q.name)
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := q.main.dequeue(ctx, int32(q.opts.VisibilityTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "Queue receive failed", "error", err)
			sleep(ctx, idle)
			continue
		}
		if msg == nil {
			sleep(ctx, idle)
			continue
		}
		q.process(ctx, msg, h)
	}
}

// process runs the handler for one message and settles it: delete on success,
// leave for redelivery on failure, or move to the poison queue once retries are spent.
func (q *AzureQueue) process(ctx context.Context, msg *message, h Handler) {
	ctx = logger.With(ctx, "message_id", msg.id, "dequeue_count", msg.dequeueCount)
	todo, err := decodeTodo([]byte(msg.text))
	if err == nil {
		err = h(ctx, todo)
		if err == nil {
			if err := q.main.delete(ctx, msg); err != nil {
				logger.Error(ctx, "Queue delete failed", "error", err)
			}
			return
		}
		if msg.dequeueCount < int64(q.opts.MaxDequeue) {
			logger.Warn(ctx, "Message handling failed; leaving for redelivery", "error", err)
			return
		}
	}
	logger.Error(ctx, "Moving message to poison queue", "error", err, "queue", q.name+"-poison")
	if err := q.poison.enqueue(ctx, msg.text); err != nil {
		logger.Error(ctx, "Poison enqueue failed", "error", err)
		return
	}
	if err := q.main.delete(ctx, msg); err != nil {
		logger.Error(ctx, "Queue delete failed", "error", err)
	}
}

func (q *AzureQueue) Close() error { return nil }

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type storageQueue struct {
	client *azqueue.QueueClient
}

func (s *storageQueue) create(ctx context.Context) error {
	_, err := s.client.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
			return nil
		}
		return err
	}
	return nil
}

func (s *storageQueue) enqueue(ctx context.Context, text string) error {
	_, err := s.client.EnqueueMessage(ctx, text, nil)
	return err
}

func (s *storageQueue) dequeue(ctx context.Context, visibility int32) (*message, error) {
	resp, err := s.client.DequeueMessage(ctx, &azqueue.DequeueMessageOptions{VisibilityTimeout: &visibility})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	out := &message{}
	if m.MessageID != nil {
		out.id = *m.MessageID
	}
	if m.PopReceipt != nil {
		out.popReceipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		out.text = *m.MessageText
	}
	if m.DequeueCount != nil {
		out.dequeueCount = *m.DequeueCount
	}
	return out, nil
}

func (s *storageQueue) delete(ctx context.Context, m *message) error {
	_, err := s.client.DeleteMessage(ctx, m.id, m.popReceipt, nil)
	return err
}
