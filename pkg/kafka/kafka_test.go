package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestProducerEncodesValues(t *testing.T) {
	w := &captureWriter{}
	p := NewProducerWithWriter(w, "snappy", prometheus.NewRegistry())

	require.NoError(t, p.Publish(context.Background(), "audit", []byte("KRW-BTC"), map[string]string{"kind": "order"}))
	require.NoError(t, p.PublishMessage(context.Background(), "logs", "raw"))
	require.NoError(t, p.PublishBatch(context.Background(), "audit", nil))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "audit", w.msgs[0].Topic)
	assert.Equal(t, []byte("KRW-BTC"), w.msgs[0].Key)
	assert.JSONEq(t, `{"kind":"order"}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
}

func TestProducerPropagatesWriteError(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "snappy", nil)
	assert.Error(t, p.Publish(context.Background(), "audit", nil, "x"))
}

func TestProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil)
	assert.Error(t, err)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.LessOrEqual(t, backoffWithJitter(100*time.Millisecond, time.Second, 1), 100*time.Millisecond)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Gzip, parseCompression("gzip"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Snappy, parseCompression(""))
}
