package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	pkgkafka "AutoTrader/pkg/kafka"
	applogger "AutoTrader/pkg/logger"
)

// CHAuditSink appends audit events to a ClickHouse table.
type CHAuditSink struct {
	db    *sql.DB
	table string
}

var _ domrepo.AuditSink = (*CHAuditSink)(nil)

func NewCHAuditSink(db *sql.DB, table string) *CHAuditSink {
	return &CHAuditSink{db: db, table: table}
}

// AuditSchema returns the DDL for the audit table.
func AuditSchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         String,
		ts         DateTime64(3),
		kind       LowCardinality(String),
		market     LowCardinality(String),
		cadence    LowCardinality(String),
		action     LowCardinality(String),
		confidence Float64,
		reason     String,
		payload    String
	) ENGINE = MergeTree
	ORDER BY (market, ts)`, table)}
}

func (s *CHAuditSink) Record(ctx context.Context, e models.AuditEvent) error {
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT INTO %s (id, ts, kind, market, cadence, action, confidence, reason, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, q,
		e.ID, e.Timestamp.UTC(), string(e.Kind), e.Market, string(e.Cadence),
		string(e.Action), e.Confidence, e.Reason, payload,
	); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func encodePayload(p map[string]interface{}) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode audit payload: %w", err)
	}
	return string(b), nil
}

// KafkaAuditSink publishes audit events keyed by market.
type KafkaAuditSink struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.AuditSink = (*KafkaAuditSink)(nil)

func NewKafkaAuditSink(producer *pkgkafka.Producer, topic string) *KafkaAuditSink {
	return &KafkaAuditSink{producer: producer, topic: topic}
}

func (s *KafkaAuditSink) Record(ctx context.Context, e models.AuditEvent) error {
	return s.producer.Publish(ctx, s.topic, []byte(e.Market), e)
}

// LogAuditSink writes audit events to the structured log.
type LogAuditSink struct {
	l *applogger.Logger
}

func NewLogAuditSink(l *applogger.Logger) *LogAuditSink { return &LogAuditSink{l: l} }

func (s *LogAuditSink) Record(_ context.Context, e models.AuditEvent) error {
	fields := []applogger.Field{
		applogger.String("audit_id", e.ID),
		applogger.String("kind", string(e.Kind)),
		applogger.Market(e.Market),
		applogger.String("reason", e.Reason),
	}
	if e.Cadence != "" {
		fields = append(fields, applogger.String("cadence", string(e.Cadence)))
	}
	if e.Action != "" {
		fields = append(fields,
			applogger.String("action", string(e.Action)),
			applogger.Float64("confidence", e.Confidence))
	}
	if len(e.Payload) > 0 {
		fields = append(fields, applogger.Any("payload", e.Payload))
	}
	if e.Kind == models.AuditCorrectnessAlert {
		s.l.Warn("audit", fields...)
		return nil
	}
	s.l.Info("audit", fields...)
	return nil
}

// MultiAuditSink fans an event out to every sink and joins their errors.
type MultiAuditSink []domrepo.AuditSink

func (m MultiAuditSink) Record(ctx context.Context, e models.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
