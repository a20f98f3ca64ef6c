package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer with JSON encoding and metrics.
type Producer struct {
	writer Writer
	comp   string
	m      *producerMetrics
}

// Message is one record of a batch publish.
type Message struct {
	Key   []byte
	Value interface{}
}

// NewProducer creates a producer. reg may be nil.
func NewProducer(reg prometheus.Registerer, opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "snappy",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchSize:    100,
		BatchTimeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	bal := kafka.Balancer(&kafka.LeastBytes{})
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return NewProducerWithWriter(w, cfg.Compression, reg), nil
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w Writer, compression string, reg prometheus.Registerer) *Producer {
	return &Producer{writer: w, comp: compression, m: newProducerMetrics(reg)}
}

// Publish sends one message to topic.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishMessage satisfies logger.Publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

// PublishBatch sends messages to topic in a single write.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	start := time.Now()
	msgs := make([]kafka.Message, 0, len(messages))
	var total int
	for _, m := range messages {
		v, err := encode(m.Value)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Topic: topic, Key: m.Key, Value: v, Time: start})
		total += len(v)
	}
	err := p.writer.WriteMessages(ctx, msgs...)
	p.m.observe(topic, p.comp, total, len(msgs), time.Since(start), err)
	return err
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return b, nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

type producerMetrics struct {
	msgs    *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	m := &producerMetrics{
		msgs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_kafka_producer_messages_total",
			Help: "Messages published to Kafka",
		}, []string{"topic", "compression", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_kafka_producer_bytes_total",
			Help: "Payload bytes published",
		}, []string{"topic"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_kafka_producer_publish_seconds",
			Help:    "Publish latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
	if reg != nil {
		reg.MustRegister(m.msgs, m.bytes, m.latency)
	}
	return m
}

func (m *producerMetrics) observe(topic, comp string, bytes, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.msgs.WithLabelValues(topic, comp, result).Add(float64(count))
	m.bytes.WithLabelValues(topic).Add(float64(bytes))
	m.latency.WithLabelValues(topic).Observe(dur.Seconds())
}
