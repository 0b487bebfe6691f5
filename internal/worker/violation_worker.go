package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// violationStore is the subset of ViolationRepository the worker writes through.
type violationStore interface {
	CopyBatch(ctx context.Context, batch []model.ViolationEvent) (int64, error)
	Insert(ctx context.Context, ev *model.ViolationEvent) error
}

// ViolationWorker drains the violation queue filled by the audit Redis sink
// into PostgreSQL in batches.
type ViolationWorker struct {
	store violationStore
	rdb   redis.Cmdable
	log   zerolog.Logger
	pause time.Duration
}

func NewViolationWorker(store violationStore, rdb redis.Cmdable, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "violation_worker").Logger(),
		pause: 2 * time.Second,
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.ViolationEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				continue // shutdown is handled at the top of the loop
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		// 4. Process Data
		ev, ok := w.decode(result[1])
		if ok {
			buffer = append(buffer, ev)
		}
	}
}

// decode parses one queued record. Malformed records cannot be retried and
// are discarded.
func (w *ViolationWorker) decode(raw string) (model.ViolationEvent, bool) {
	var ev model.ViolationEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed violation record")
		return ev, false
	}
	if ev.SessionID == uuid.Nil || ev.Category == "" {
		w.log.Error().Str("data", raw).Msg("Discarding incomplete violation record")
		return ev, false
	}
	return ev, true
}

// flushSafe attempts a COPY, then row-by-row inserts, then requeues what
// still failed.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationEvent) {
	if len(batch) == 0 {
		return
	}
	_, err := w.store.CopyBatch(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk copy failed, attempting row-by-row recovery")

	var requeue []model.ViolationEvent
	for i := range batch {
		if err := w.store.Insert(ctx, &batch[i]); err != nil {
			w.log.Error().Err(err).
				Int("student_id", batch[i].StudentID).
				Str("session_id", batch[i].SessionID.String()).
				Msg("Insert failed, requeueing")
			requeue = append(requeue, batch[i])
		}
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []model.ViolationEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violations to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations back to Redis")
	// Avoid thrashing while the database is down.
	time.Sleep(w.pause)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationEvent) {
	w.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}
