package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/testutil"
)

func newMockLogger() logging.Logger { return testutil.NewMockLogger() }

// queueReader serves queued messages, then blocks until cancelled.
type queueReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *queueReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *queueReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []*ProducerMessage
}

func (p *capturePublisher) Publish(_ context.Context, msg *ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturePublisher) sent() []*ProducerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*ProducerMessage(nil), p.msgs...)
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "workers",
		Topics:  []string{"jobs"},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			DeadLetterTopic: "jobs.dlq",
		},
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(testConsumerConfig()))

	for name, mutate := range map[string]func(*ConsumerConfig){
		"no brokers":   func(c *ConsumerConfig) { c.Brokers = nil },
		"no group":     func(c *ConsumerConfig) { c.GroupID = "" },
		"no topics":    func(c *ConsumerConfig) { c.Topics = nil },
		"bad offset":   func(c *ConsumerConfig) { c.AutoOffsetReset = "middle" },
		"neg. retries": func(c *ConsumerConfig) { c.RetryConfig.MaxRetries = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConsumerConfig()
			mutate(&cfg)
			assert.Error(t, ValidateConsumerConfig(cfg))
		})
	}
}

func TestConsumer_ProcessesAndCommits(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{
		{Topic: "jobs", Offset: 1, Value: []byte("a"), Headers: []kafka.Header{{Key: "job_id", Value: []byte("j1")}}},
		{Topic: "jobs", Offset: 2, Value: []byte("b")},
	}}
	c := newConsumerWithReader(reader, testConsumerConfig(), nil, nil)

	var mu sync.Mutex
	var seen []string
	c.Subscribe("jobs", func(_ context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Value)+":"+msg.Headers["job_id"])
		return nil
	})
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, []string{"a:j1", "b:"}, seen)
	assert.Equal(t, []int64{1, 2}, reader.commits())
	assert.Equal(t, int64(2), c.Processed())
	assert.True(t, reader.closed)
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Topic: "jobs", Offset: 7, Value: []byte("x")}}}
	dlq := &capturePublisher{}
	c := newConsumerWithReader(reader, testConsumerConfig(), dlq, nil)

	var calls atomic.Int32
	c.Subscribe("jobs", func(context.Context, *Message) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, dlq.sent())
	assert.Equal(t, int64(1), c.Processed())
}

func TestConsumer_DeadLettersAfterRetries(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Topic: "jobs", Offset: 3, Key: []byte("k"), Value: []byte("x")}}}
	dlq := &capturePublisher{}
	c := newConsumerWithReader(reader, testConsumerConfig(), dlq, nil)

	var calls atomic.Int32
	c.Subscribe("jobs", func(context.Context, *Message) error {
		calls.Add(1)
		return errors.New("always")
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(3), calls.Load())
	sent := dlq.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jobs.dlq", sent[0].Topic)
	assert.Equal(t, []byte("k"), sent[0].Key)
	assert.Equal(t, "jobs", sent[0].Headers[HeaderOriginalTopic])
	assert.Equal(t, "always", sent[0].Headers[HeaderError])
	assert.Equal(t, "3", sent[0].Headers[HeaderAttempts])
	assert.Equal(t, int64(1), c.DeadLettered())
	assert.Equal(t, int64(1), c.Failed())
}

func TestConsumer_NonRetryableGoesStraightToDLQ(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Topic: "jobs", Offset: 1, Value: []byte("x")}}}
	dlq := &capturePublisher{}
	cfg := testConsumerConfig()
	permanent := errors.New("bad input")
	cfg.RetryConfig.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
	c := newConsumerWithReader(reader, cfg, dlq, nil)

	var calls atomic.Int32
	c.Subscribe("jobs", func(context.Context, *Message) error {
		calls.Add(1)
		return permanent
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(dlq.sent()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), calls.Load())
}

func TestConsumer_UnknownTopicIsCommitted(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Topic: "other", Offset: 9}}}
	log := testutil.NewMockLogger()
	c := newConsumerWithReader(reader, testConsumerConfig(), nil, log)
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	assert.True(t, log.HasMessage("warn", "no handler for topic"))
}

func TestConsumer_ShutdownLeavesFailedMessageUncommitted(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Topic: "jobs", Offset: 5, Value: []byte("x")}}}
	cfg := testConsumerConfig()
	cfg.RetryConfig.RetryBackoff = time.Hour
	c := newConsumerWithReader(reader, cfg, &capturePublisher{}, nil)

	attempted := make(chan struct{}, 1)
	c.Subscribe("jobs", func(context.Context, *Message) error {
		select {
		case attempted <- struct{}{}:
		default:
		}
		return errors.New("transient")
	})
	require.NoError(t, c.Start(context.Background()))
	<-attempted
	require.NoError(t, c.Close())
	assert.Empty(t, reader.commits())
}

func TestConsumer_HandlerTimeout(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Topic: "jobs", Offset: 1}}}
	cfg := testConsumerConfig()
	cfg.HandlerTimeout = 10 * time.Millisecond
	cfg.RetryConfig.MaxRetries = 0
	c := newConsumerWithReader(reader, cfg, nil, nil)

	c.Subscribe("jobs", func(ctx context.Context, _ *Message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	assert.Equal(t, int64(1), c.Failed())
}
