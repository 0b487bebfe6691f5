package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamSessionRepository handles exam attempt data access. Attempts are
// created by the quiz flow; this service only reads and completes them.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// GetByExamAndStudent retrieves a session for a specific exam-student combination.
func (r *ExamSessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, started_at, finished_at, status, final_score, submit_reason
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.FinishedAt, &s.Status, &s.FinalScore, &s.SubmitReason)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Complete marks a session as completed with a final score. An already
// completed session is left untouched, so a late manual submit cannot
// overwrite an auto-submit or the other way round.
func (r *ExamSessionRepository) Complete(ctx context.Context, examID uuid.UUID, studentID int, score float64, reason model.SubmitReason) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, final_score = $2, finished_at = $3, submit_reason = $4
		 WHERE exam_id = $5 AND student_id = $6 AND status = $7`,
		model.SessionStatusCompleted, score, time.Now(), reason, examID, studentID, model.SessionStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListInProgressStudentIDs returns all student IDs with an active session for the given exam.
func (r *ExamSessionRepository) ListInProgressStudentIDs(ctx context.Context, examID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id FROM exam_sessions WHERE exam_id = $1 AND status = $2`,
		examID, model.SessionStatusInProgress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
