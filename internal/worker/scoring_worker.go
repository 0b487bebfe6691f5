package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const (
	ScoreBatchSize    = 50
	ScoreBatchTimeout = 2 * time.Second
	ScorePollTimeout  = 1 * time.Second
)

// ScoringWorker finalizes graded attempts queued by manual and automatic
// submission.
type ScoringWorker struct {
	pool        *pgxpool.Pool
	sessionRepo *repository.ExamSessionRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

func NewScoringWorker(pool *pgxpool.Pool, sessionRepo *repository.ExamSessionRepository, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		pool:        pool,
		sessionRepo: sessionRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "scoring_worker").Logger(),
	}
}

type scorePayload struct {
	StudentID int                `json:"student_id"`
	ExamID    string             `json:"exam_id"`
	Score     float64            `json:"score"`
	Reason    model.SubmitReason `json:"reason"`
}

func (p *scorePayload) reason() model.SubmitReason {
	if p.Reason == "" {
		return model.SubmitReasonManual
	}
	return p.Reason
}

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")

	batch := make([]*scorePayload, 0, ScoreBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ScoreBatchSize || time.Since(lastFlush) >= ScoreBatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(shutdownCtx, batch)
			cancel()
			return

		default:
			item, err := w.rdb.BLPop(ctx, ScorePollTimeout, config.WorkerKey.PersistScoresQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var p scorePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, &p)
		}
	}
}

func (w *ScoringWorker) flushSafe(ctx context.Context, batch []*scorePayload) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkComplete(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("Bulk score update failed, using fallback")

		for _, p := range batch {
			examID, err := uuid.Parse(p.ExamID)
			if err != nil {
				w.log.Error().Str("exam_id", p.ExamID).Msg("Dropping score with invalid exam ID")
				continue
			}
			if _, err := w.sessionRepo.Complete(ctx, examID, p.StudentID, p.Score, p.reason()); err != nil {
				w.log.Error().Err(err).Int("student_id", p.StudentID).Msg("Complete failed, requeueing")
				raw, _ := json.Marshal(p)
				w.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw)
			}
		}
	}

	w.clearLiveState(ctx, batch)
}

// bulkComplete finalizes every in-progress session in the batch in one
// statement. Sessions already completed keep their first result.
func (w *ScoringWorker) bulkComplete(ctx context.Context, batch []*scorePayload) error {
	n := len(batch)
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	scores := make([]float64, 0, n)
	reasons := make([]string, 0, n)

	for _, p := range batch {
		eID, err := uuid.Parse(p.ExamID)
		if err != nil {
			return err
		}
		examIDs = append(examIDs, eID)
		students = append(students, p.StudentID)
		scores = append(scores, p.Score)
		reasons = append(reasons, string(p.reason()))
	}

	_, err := w.pool.Exec(ctx, `
		UPDATE exam_sessions AS s
		SET status = 'COMPLETED',
		    final_score = t.score,
		    submit_reason = t.reason,
		    finished_at = NOW()
		FROM UNNEST($1::uuid[], $2::int[], $3::float8[], $4::text[])
		     AS t (exam_id, student_id, score, reason)
		WHERE s.exam_id = t.exam_id
		  AND s.student_id = t.student_id
		  AND s.status = 'IN_PROGRESS'
	`, examIDs, students, scores, reasons)
	return err
}

// clearLiveState deletes autosave buffers and warning counts of finished attempts.
func (w *ScoringWorker) clearLiveState(ctx context.Context, batch []*scorePayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range batch {
		pipe.Del(ctx,
			config.CacheKey.StudentAnswersKey(p.ExamID, p.StudentID),
			config.CacheKey.StudentWarningsKey(p.ExamID, p.StudentID),
		)
	}
	_, _ = pipe.Exec(ctx)
}
