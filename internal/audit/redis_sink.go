package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// RedisSink queues records for the violation worker and publishes them to
// the exam's live monitor channel in one round trip.
type RedisSink struct {
	rdb redis.Cmdable
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(rdb redis.Cmdable) *RedisSink {
	return &RedisSink{rdb: rdb}
}

// monitorMessage is the SSE payload forwarded verbatim by the monitor handler.
type monitorMessage struct {
	Type string               `json:"type"`
	Data model.ViolationEvent `json:"data"`
}

// Ingest pushes ev onto the persistence queue and the monitor channel.
func (s *RedisSink) Ingest(ctx context.Context, ev model.ViolationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	live, err := json.Marshal(monitorMessage{Type: "violation", Data: ev})
	if err != nil {
		return fmt.Errorf("marshal monitor message: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), live)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue violation: %w", err)
	}
	return nil
}
