package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"AutoTrader/pkg/logger"
)

// MessageHandler handles messages from one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads registered topics and fans messages out to a worker pool.
// Messages of one partition are handled one at a time.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	msgCh    chan kafka.Message
	dlq      *kafka.Writer

	partMu    sync.Mutex
	partLocks map[string]*sync.Mutex

	latency *prometheus.HistogramVec
	failed  *prometheus.CounterVec
}

// NewConsumer creates a consumer. reg may be nil.
func NewConsumer(log *logger.Logger, reg prometheus.Registerer, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "autotrader",
		WorkerCount: 1,
		BufferSize:  64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:       cfg,
		log:       log,
		readers:   make(map[string]*kafka.Reader),
		handlers:  make(map[string]MessageHandler),
		stopCh:    make(chan struct{}),
		msgCh:     make(chan kafka.Message, cfg.BufferSize),
		partLocks: make(map[string]*sync.Mutex),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "autotrader_kafka_consumer_handle_seconds",
			Help: "Handling time per message",
		}, []string{"topic"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_kafka_consumer_failed_total",
			Help: "Messages whose handler failed after all retries",
		}, []string{"topic"}),
	}
	if reg != nil {
		reg.MustRegister(c.latency, c.failed)
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler registers h for its topic. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("kafka handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
	}
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	for topic, r := range c.readers {
		c.wg.Add(1)
		go c.fetch(topic, r)
	}
	c.log.Info("kafka consumer started",
		logger.Int("workers", c.cfg.WorkerCount),
		logger.Int("topics", len(c.readers)))
	return nil
}

// Stop stops readers and workers, waiting until ctx expires.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		close(c.stopCh)

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				c.log.Warn("close kafka reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	})
	return stopErr
}

func (c *Consumer) fetch(topic string, r *kafka.Reader) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := r.FetchMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				c.log.Warn("kafka fetch", logger.String("topic", topic), logger.Error(err))
			}
			continue
		}
		select {
		case c.msgCh <- msg:
		case <-c.stopCh:
			return
		}
	}
}

func (c *Consumer) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case msg := <-c.msgCh:
			c.handle(msg)
		}
	}
}

func (c *Consumer) handle(msg kafka.Message) {
	h, ok := c.handlers[msg.Topic]
	if !ok {
		return
	}
	start := time.Now()
	pl := c.partitionLock(msg.Topic, msg.Partition)
	pl.Lock()
	defer pl.Unlock()

	err := c.handleWithRetry(h, msg.Value)
	if err != nil {
		c.failed.WithLabelValues(msg.Topic).Inc()
		c.log.Error("kafka handler failed",
			logger.String("topic", msg.Topic),
			logger.Int64("offset", msg.Offset),
			logger.Error(err))
		if c.dlq != nil {
			if dlqErr := c.dlq.WriteMessages(context.Background(), kafka.Message{
				Topic:   c.cfg.DLQTopic,
				Value:   msg.Value,
				Time:    time.Now(),
				Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.Topic)}},
			}); dlqErr != nil {
				c.log.Error("kafka dlq write", logger.Error(dlqErr))
			}
		}
	}

	// Commit on success, or after dead-lettering so a poison message does
	// not block the partition.
	if err == nil || c.dlq != nil {
		if r := c.readers[msg.Topic]; r != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if cerr := r.CommitMessages(ctx, msg); cerr != nil {
				c.log.Warn("kafka commit", logger.String("topic", msg.Topic), logger.Error(cerr))
			}
			cancel()
		}
	}
	c.latency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) handleWithRetry(h MessageHandler, data []byte) (err error) {
	for attempt := 1; ; attempt++ {
		err = func() (herr error) {
			defer func() {
				if r := recover(); r != nil {
					herr = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return h.Handle(context.Background(), data)
		}()
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-c.stopCh:
			return err
		}
	}
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", topic, partition)
	c.partMu.Lock()
	defer c.partMu.Unlock()
	l, ok := c.partLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.partLocks[key] = l
	}
	return l
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	// up to 50% jitter
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}
