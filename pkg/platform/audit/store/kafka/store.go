// Package kafka ships access log events to a Kafka topic. Append never blocks
// on the broker: events queue in a bounded ring and a background loop flushes
// them in batches with ProduceSync.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"steward/pkg/platform/audit"
	"steward/pkg/platform/audit/buffer"
)

// Producer is the subset of *kgo.Client the store needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store queues events and publishes them to topic.
type Store struct {
	producer      Producer
	topic         string
	ring          *buffer.Ring
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures the Store.
type Option func(*Store)

// WithBatchSize bounds records per ProduceSync call.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithFlushInterval sets how often the background loop flushes.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithCapacity bounds the in-memory queue.
func WithCapacity(n int) Option {
	return func(s *Store) {
		s.ring = buffer.NewRing(n)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store. Call Start to begin background flushing.
func New(producer Producer, topic string, opts ...Option) *Store {
	s := &Store{
		producer:      producer,
		topic:         topic,
		ring:          buffer.NewRing(10000),
		batchSize:     256,
		flushInterval: time.Second,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append queues an event for publication.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if s.ring.Enqueue(event) {
		s.logger.WarnContext(ctx, "audit queue full, dropped oldest event", "dropped_total", s.ring.Dropped())
	}
	return nil
}

// Pending returns the number of queued events.
func (s *Store) Pending() int { return s.ring.Len() }

// Flush publishes queued events until the queue is empty or a batch fails.
// A failed batch is requeued in order.
func (s *Store) Flush(ctx context.Context) error {
	for {
		batch := s.ring.DequeueBatch(s.batchSize)
		if len(batch) == 0 {
			return nil
		}
		records := make([]*kgo.Record, 0, len(batch))
		for _, e := range batch {
			value, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode audit event: %w", err)
			}
			records = append(records, &kgo.Record{
				Topic: s.topic,
				Key:   []byte(e.UserID),
				Value: value,
			})
		}
		if err := s.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			s.ring.Requeue(batch)
			return fmt.Errorf("produce audit batch: %w", err)
		}
	}
}

// Start runs the flush loop until Close.
func (s *Store) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Flush(ctx); err != nil {
					s.logger.WarnContext(ctx, "audit flush failed", "error", err, "pending", s.ring.Len())
				}
			}
		}
	}()
}

// Close stops the loop and makes a final flush attempt.
func (s *Store) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
	return s.Flush(ctx)
}

// Dial creates a franz-go client for brokers.
func Dial(brokers []string, clientID string) (*kgo.Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return cl, nil
}

// EnsureTopic creates topic if it does not exist.
func EnsureTopic(ctx context.Context, cl *kgo.Client, topic string, partitions int32, replicas int16) error {
	adm := kadm.NewClient(cl)
	resp, err := adm.CreateTopic(ctx, partitions, replicas, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}
