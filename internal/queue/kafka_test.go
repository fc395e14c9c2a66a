package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoapp/internal/models"
)

func TestNewKafkaQueueDefaults(t *testing.T) {
	q := NewKafkaQueue(KafkaOptions{Brokers: []string{"localhost:9092"}, Topic: "todo-messages"})

	assert.Equal(t, 5, q.opts.MaxAttempts)
	assert.Equal(t, 1, q.opts.Partitions)
	assert.Equal(t, "todo-messages", q.writer.Topic)
	assert.IsType(t, &kafka.Hash{}, q.writer.Balancer)
}

func TestAttemptsPoisonAfterLimit(t *testing.T) {
	a := newAttempts(3)

	assert.False(t, a.fail(0, 10))
	assert.False(t, a.fail(0, 10))
	assert.False(t, a.fail(1, 10), "partitions are tracked separately")
	assert.True(t, a.fail(0, 10))

	// counter is reset once the offset is given up on
	assert.False(t, a.fail(0, 10))
}

func TestAttemptsClear(t *testing.T) {
	a := newAttempts(2)

	assert.False(t, a.fail(0, 7))
	a.clear(0, 7)
	assert.False(t, a.fail(0, 7))
	assert.Empty(t, a.counts[offsetKey{1, 7}])
}

// fakeLog is a single-partition topic with one consumer group offset.
// Every reader starts at the committed offset, like a rejoining group member.
type fakeLog struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed int64
	commits   []int64
	readers   int
}

func (l *fakeLog) append(value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, kafka.Message{Offset: int64(len(l.messages)), Value: []byte(value)})
}

func (l *fakeLog) open() messageReader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readers++
	return &fakeReader{log: l, next: l.committed}
}

func (l *fakeLog) snapshot() (committed int64, commits []int64, readers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed, append([]int64(nil), l.commits...), l.readers
}

type fakeReader struct {
	log  *fakeLog
	next int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.log.mu.Lock()
		if r.next < int64(len(r.log.messages)) {
			msg := r.log.messages[r.next]
			r.next++
			r.log.mu.Unlock()
			return msg, nil
		}
		r.log.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	for _, m := range msgs {
		r.log.commits = append(r.log.commits, m.Offset)
		r.log.committed = m.Offset + 1
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func newTestKafkaQueue(maxAttempts int) (*KafkaQueue, *fakeLog) {
	q := NewKafkaQueue(KafkaOptions{Brokers: []string{"localhost:9092"}, Topic: "todo-messages", MaxAttempts: maxAttempts})
	log := &fakeLog{}
	q.newReader = log.open
	q.restartDelay = time.Millisecond
	return q, log
}

func consumeKafkaUntil(t *testing.T, q *KafkaQueue, h Handler, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- q.Consume(ctx, h) }()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestKafkaFailedMessageIsRedeliveredUncommitted(t *testing.T) {
	q, log := newTestKafkaQueue(5)
	log.append(`{"id":"a","taskDescription":"buy milk"}`)
	log.append(`{"id":"b","taskDescription":"walk dog"}`)

	var (
		mu   sync.Mutex
		seen []string
	)
	consumeKafkaUntil(t, q, func(ctx context.Context, td models.Todo) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, td.ID)
		if td.ID == "a" && len(seen) < 3 {
			// nothing may be committed while "a" keeps failing
			committed, _, _ := log.snapshot()
			assert.Zero(t, committed)
			return errors.New("blob unavailable")
		}
		return nil
	}, func() bool {
		committed, _, _ := log.snapshot()
		return committed == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "a", "a", "b"}, seen)
	_, commits, readers := log.snapshot()
	assert.Equal(t, []int64{0, 1}, commits)
	assert.Equal(t, 3, readers)
}

func TestKafkaMessageCommittedAsPoisonAfterMaxAttempts(t *testing.T) {
	q, log := newTestKafkaQueue(3)
	log.append(`{"id":"a","taskDescription":"buy milk"}`)
	log.append(`{"id":"b","taskDescription":"walk dog"}`)

	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)
	consumeKafkaUntil(t, q, func(ctx context.Context, td models.Todo) error {
		mu.Lock()
		defer mu.Unlock()
		calls[td.ID]++
		if td.ID == "a" {
			return errors.New("blob unavailable")
		}
		return nil
	}, func() bool {
		committed, _, _ := log.snapshot()
		return committed == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"a": 3, "b": 1}, calls)
	_, commits, readers := log.snapshot()
	assert.Equal(t, []int64{0, 1}, commits)
	assert.Equal(t, 3, readers)
}

func TestKafkaUndecodableMessageSkipsHandler(t *testing.T) {
	q, log := newTestKafkaQueue(3)
	log.append(`{}`)
	log.append(`%%% not a todo`)

	called := false
	consumeKafkaUntil(t, q, func(ctx context.Context, td models.Todo) error {
		called = true
		return nil
	}, func() bool {
		committed, _, _ := log.snapshot()
		return committed == 2
	})
	assert.False(t, called)
}
