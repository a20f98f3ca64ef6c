package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	mid "AutoTrader/internal/middleware"
	pkgkafka "AutoTrader/pkg/kafka"
)

// KafkaTickHandler feeds ticks published by an upstream collector into the
// pipeline.
type KafkaTickHandler struct {
	topic   string
	pipe    *mid.RealtimePipeline
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaTickHandler)(nil)

func NewKafkaTickHandler(topic string, pipe *mid.RealtimePipeline, metrics domrepo.Metrics) *KafkaTickHandler {
	return &KafkaTickHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaTickHandler) Topic() string { return h.topic }

// tickMessage is {market, price, volume, ts}; ts is epoch milliseconds.
type tickMessage struct {
	Market string  `json:"market"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	TS     int64   `json:"ts"`
}

// Handle decodes one message. Downstream failures are buffered by the
// pipeline, so only malformed messages are returned as errors.
func (h *KafkaTickHandler) Handle(ctx context.Context, b []byte) error {
	var m tickMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("tick_unmarshal")
		return fmt.Errorf("decode tick: %w", err)
	}
	ts := time.UnixMilli(m.TS).UTC()
	if m.TS < 1e11 { // seconds
		ts = time.Unix(m.TS, 0).UTC()
	}
	h.metrics.RecordLatency("tick_ingest_lag", time.Since(ts).Seconds())

	err := h.pipe.Process(ctx, &models.Tick{Market: m.Market, Price: m.Price, Volume: m.Volume, Timestamp: ts})
	if errors.Is(err, mid.ErrDownstream) {
		return nil
	}
	return err
}
