package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hermeslog/hermes"
)

var kafkaPublishDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "hermes_kafka_sink_publish_seconds",
		Help:    "Time spent publishing a replayed record to Kafka.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// KafkaSink is a Subscriber that forwards every record it receives to an
// external Kafka topic as a JSON-encoded value keyed by the record's id,
// mirroring the producer pattern the teacher's ingest service uses.
type KafkaSink struct {
	NoopSubscriber
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// KafkaSinkConfig configures a new KafkaSink.
type KafkaSinkConfig struct {
	Brokers  []string
	Topic    string
	Logger   *slog.Logger
	LogLevel kgo.LogLevel
}

// NewKafkaSink dials brokers and returns a sink ready to subscribe to a
// MessageBus.
func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.WithLogger(NewKgoSlogLogger(logger.With("component", "kafka-sink"), cfg.LogLevel)),
		kgo.ProducerBatchMaxBytes(1000*1000),
		kgo.ProducerLinger(100*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("pubsub: dialing kafka brokers: %w", err)
	}

	return &KafkaSink{client: client, topic: cfg.Topic, logger: logger}, nil
}

func (s *KafkaSink) produce(kind string, key []byte, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshaling record for kafka sink", "kind", kind, "error", err)
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := s.client.ProduceSync(ctx, &kgo.Record{Topic: s.topic, Key: key, Value: data})
	kafkaPublishDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err := res.FirstErr(); err != nil {
		s.logger.Error("publishing record to kafka", "kind", kind, "error", err)
	}
}

func (s *KafkaSink) OnEvent(_ string, e *hermes.Event) {
	s.produce("event", []byte(fmt.Sprintf("%d", e.ID())), e)
}

func (s *KafkaSink) OnTransaction(_ string, t *hermes.Transaction) {
	s.produce("transaction", []byte(fmt.Sprintf("%d", t.ID())), t)
}

func (s *KafkaSink) OnTransactionGroup(_ string, g *hermes.TransactionGroup) {
	s.produce("transaction_group", []byte(fmt.Sprintf("%d", g.ID())), g)
}

// Stop closes the underlying Kafka client, flushing any buffered
// records first.
func (s *KafkaSink) Stop() {
	s.client.Close()
}
