package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes events to Kafka/RedPanda, one topic per event class.
// Produce is asynchronous; delivery errors are logged, never surfaced to the
// detection path.
type KafkaSink struct {
	client      *kgo.Client
	topicPrefix string

	mu     sync.RWMutex
	closed bool
}

// KafkaSinkOption configures a KafkaSink.
type KafkaSinkOption func(*kafkaSinkConfig)

type kafkaSinkConfig struct {
	instanceID         string
	topicPrefix        string
	maxBufferedRecords int
	linger             time.Duration
}

// WithInstanceID sets the Kafka ClientID.
func WithInstanceID(id string) KafkaSinkOption {
	return func(c *kafkaSinkConfig) { c.instanceID = id }
}

// WithTopicPrefix sets the prefix prepended to every event topic.
func WithTopicPrefix(prefix string) KafkaSinkOption {
	return func(c *kafkaSinkConfig) { c.topicPrefix = prefix }
}

// WithLinger sets the batching linger.
func WithLinger(d time.Duration) KafkaSinkOption {
	return func(c *kafkaSinkConfig) { c.linger = d }
}

// NewKafkaSink creates a Kafka-backed event sink.
func NewKafkaSink(brokers []string, opts ...KafkaSinkOption) (*KafkaSink, error) {
	cfg := &kafkaSinkConfig{
		instanceID:         "sentinel-events",
		topicPrefix:        "sentinel.",
		maxBufferedRecords: 10000,
		linger:             5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.instanceID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.linger),
		kgo.MaxBufferedRecords(cfg.maxBufferedRecords),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka event sink: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("topic_prefix", cfg.topicPrefix).
		Msg("kafka event sink created (franz-go)")

	return &KafkaSink{client: client, topicPrefix: cfg.topicPrefix}, nil
}

// Emit publishes the event asynchronously, keyed by token so all events for
// one token land on one partition in order.
func (s *KafkaSink) Emit(ctx context.Context, event Event) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("kafka sink is closed")
	}
	s.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventName(), err)
	}

	record := &kgo.Record{
		Topic:     s.topicPrefix + event.EventName(),
		Key:       []byte(event.Token()),
		Value:     payload,
		Timestamp: time.Now(),
	}

	s.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			log.Error().
				Err(err).
				Str("topic", r.Topic).
				Str("token", string(r.Key)).
				Msg("kafka event sink: delivery failed")
		}
	})
	return nil
}

// Close flushes buffered records and shuts the client down.
func (s *KafkaSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("kafka event sink: flush on close failed")
	}
	s.client.Close()
}
