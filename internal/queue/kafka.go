package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"todoapp/internal/models"
	"todoapp/pkg/logger"
)

// KafkaOptions configures the Kafka work queue.
type KafkaOptions struct {
	Brokers    []string
	Topic      string
	Partitions int
	GroupID    string
	// MaxAttempts is how often one offset is handed to the handler before it is committed as poison.
	MaxAttempts int
}

// KafkaQueue is a work queue on a Kafka topic consumed by a consumer group.
type KafkaQueue struct {
	opts         KafkaOptions
	writer       *kafka.Writer
	newReader    func() messageReader
	restartDelay time.Duration
}

// messageReader is the part of *kafka.Reader the consume loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaQueue creates the producer side eagerly; readers are opened by Consume.
func NewKafkaQueue(opts KafkaOptions) *KafkaQueue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}
	return &KafkaQueue{
		opts: opts,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(opts.Brokers...),
			Topic:        opts.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		newReader: func() messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:  opts.Brokers,
				Topic:    opts.Topic,
				GroupID:  opts.GroupID,
				MinBytes: 1,
				MaxBytes: 10e6,
			})
		},
		restartDelay: time.Second,
	}
}

// Ensure creates the topic with the configured partitions (idempotent).
func (q *KafkaQueue) Ensure(ctx context.Context) error {
	if len(q.opts.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", q.opts.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka dial: %w", err)
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup: %w", err)
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("kafka controller dial: %w", err)
	}
	defer ctrlConn.Close()
	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             q.opts.Topic,
		NumPartitions:     q.opts.Partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("kafka create topic: %w", err)
	}
	logger.Info(ctx, "Kafka topic ensured", "topic", q.opts.Topic, "partitions", q.opts.Partitions)
	return nil
}

func (q *KafkaQueue) PublishTodo(ctx context.Context, todo models.Todo) error {
	payload, err := encodeTodo(todo)
	if err != nil {
		return err
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(todo.ID),
		Value: payload,
	})
}

// Consume reads the topic as part of the consumer group. A handler failure reopens
// the reader so the uncommitted message is fetched again.
func (q *KafkaQueue) Consume(ctx context.Context, h Handler) error {
	tracker := newAttempts(q.opts.MaxAttempts)
	logger.Info(ctx, "Kafka consumer started", "topic", q.opts.Topic, "group", q.opts.GroupID)
	for ctx.Err() == nil {
		reader := q.newReader()
		err := q.drain(ctx, reader, h, tracker)
		_ = reader.Close()
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn(ctx, "Kafka reader restarting from last committed offset", "error", err)
		sleep(ctx, q.restartDelay)
	}
	return nil
}

func (q *KafkaQueue) drain(ctx context.Context, reader messageReader, h Handler, tracker *attempts) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		mctx := logger.With(ctx, "partition", msg.Partition, "offset", msg.Offset)
		todo, err := decodeTodo(msg.Value)
		if err != nil {
			logger.Error(mctx, "Undecodable message committed as poison", "error", err, "payload", string(msg.Value))
		} else if err := h(mctx, todo); err != nil {
			if !tracker.fail(msg.Partition, msg.Offset) {
				return fmt.Errorf("handle offset %d: %w", msg.Offset, err)
			}
			logger.Error(mctx, "Message failed too often; committed as poison", "error", err, "payload", string(msg.Value))
		} else {
			tracker.clear(msg.Partition, msg.Offset)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}

type offsetKey struct {
	partition int
	offset    int64
}

// attempts counts handler failures per offset across reader restarts.
type attempts struct {
	limit  int
	counts map[offsetKey]int
}

func newAttempts(limit int) *attempts {
	return &attempts{limit: limit, counts: map[offsetKey]int{}}
}

// fail records a failure and reports whether the offset has used up its attempts.
func (a *attempts) fail(partition int, offset int64) bool {
	k := offsetKey{partition, offset}
	a.counts[k]++
	if a.counts[k] >= a.limit {
		delete(a.counts, k)
		return true
	}
	return false
}

func (a *attempts) clear(partition int, offset int64) {
	delete(a.counts, offsetKey{partition, offset})
}
