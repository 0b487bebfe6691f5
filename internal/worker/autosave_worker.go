package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const upsertAnswerSQL = `INSERT INTO student_answers (exam_id, student_id, question_id, answer)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (exam_id, student_id, question_id) DO UPDATE
	SET answer = EXCLUDED.answer, updated_at = NOW()`

// AutosaveWorker persists answers autosaved during a proctored attempt.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "autosave_worker").Logger(),
	}
}

type answerPayload struct {
	StudentID int    `json:"student_id"`
	ExamID    string `json:"exam_id"`
	QID       string `json:"q_id"`
	Answer    string `json:"answer"`
}

type answerRow struct {
	examID     uuid.UUID
	questionID uuid.UUID
	studentID  int
	answer     string
}

// parseAnswer validates the IDs of a queued answer.
func parseAnswer(p answerPayload) (answerRow, error) {
	examID, err := uuid.Parse(p.ExamID)
	if err != nil {
		return answerRow{}, err
	}
	questionID, err := uuid.Parse(p.QID)
	if err != nil {
		return answerRow{}, err
	}
	return answerRow{examID: examID, questionID: questionID, studentID: p.StudentID, answer: p.Answer}, nil
}

// Start pops up to BatchSize answers at a time and upserts them in one
// round trip. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AutosaveWorker started")

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("AutosaveWorker stopped")
			return
		default:
		}

		first, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(first) < 2 {
			continue
		}

		raws := []string{first[1]}
		more, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistAnswersQueue, BatchSize-1).Result()
		if err == nil {
			raws = append(raws, more...)
		}

		if err := w.persist(ctx, raws); err != nil {
			w.log.Error().Err(err).Int("count", len(raws)).Msg("Persist error, requeueing and retrying in 5s")
			w.requeue(ctx, raws)
			time.Sleep(5 * time.Second)
		}
	}
}

// persist upserts a batch of raw queue items. Malformed items are dropped.
func (w *AutosaveWorker) persist(ctx context.Context, raws []string) error {
	batch := &pgx.Batch{}
	for _, raw := range raws {
		var p answerPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed answer")
			continue
		}
		row, err := parseAnswer(p)
		if err != nil {
			w.log.Error().Err(err).Str("data", raw).Msg("Discarding answer with invalid IDs")
			continue
		}
		batch.Queue(upsertAnswerSQL, row.examID, row.studentID, row.questionID, row.answer)
	}
	if batch.Len() == 0 {
		return nil
	}
	return w.pool.SendBatch(ctx, batch).Close()
}

func (w *AutosaveWorker) requeue(ctx context.Context, raws []string) {
	items := make([]interface{}, len(raws))
	for i, r := range raws {
		items[i] = r
	}
	if err := w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, items...).Err(); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue answers to Redis. Data loss occurred.")
	}
}

// drain persists whatever is still queued before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raws, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistAnswersQueue, BatchSize).Result()
		if err != nil || len(raws) == 0 {
			break
		}
		if err := w.persist(ctx, raws); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.requeue(ctx, raws)
			break
		}
		drained += len(raws)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining answers")
	}
}
