package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink streams records to an analytics topic, keyed by session so one
// attempt's events stay ordered within a partition.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

// Ingest writes one message per record.
func (s *KafkaSink) Ingest(ctx context.Context, ev model.ViolationEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.SessionID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(ev.Category)},
			{Key: "student_id", Value: []byte(strconv.Itoa(ev.StudentID))},
		},
		Time: ev.RecordedAt,
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
