package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationRepository reads and writes the append-only proctoring log.
// Rows are never updated or deleted.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

var violationColumns = []string{
	"session_id", "exam_id", "student_id", "category", "description",
	"question_number", "user_agent", "recorded_at",
}

// CopyBatch bulk-inserts a batch with the COPY protocol.
func (r *ViolationRepository) CopyBatch(ctx context.Context, batch []model.ViolationEvent) (int64, error) {
	return r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctoring_violations"},
		violationColumns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			ev := batch[i]
			return []any{
				ev.SessionID, ev.ExamID, ev.StudentID, ev.Category, ev.Description,
				ev.QuestionNumber, ev.UserAgent, ev.RecordedAt,
			}, nil
		}),
	)
}

// Insert writes a single record.
func (r *ViolationRepository) Insert(ctx context.Context, ev *model.ViolationEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctoring_violations
		   (session_id, exam_id, student_id, category, description, question_number, user_agent, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.SessionID, ev.ExamID, ev.StudentID, ev.Category, ev.Description,
		ev.QuestionNumber, ev.UserAgent, ev.RecordedAt,
	)
	return err
}

// ListByExam returns one page of an exam's violations, newest first.
func (r *ViolationRepository) ListByExam(ctx context.Context, examID uuid.UUID, f model.ViolationFilter) ([]model.StoredViolation, int64, error) {
	where := ` FROM proctoring_violations WHERE exam_id = $1`
	args := []any{examID}

	if f.StudentID != nil {
		args = append(args, *f.StudentID)
		where += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	if f.Category != nil && *f.Category != "" {
		args = append(args, *f.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, session_id, exam_id, student_id, category, description,
	                 question_number, user_agent, recorded_at` + where +
		fmt.Sprintf(" ORDER BY recorded_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.StoredViolation
	for rows.Next() {
		var v model.StoredViolation
		if err := rows.Scan(
			&v.ID, &v.SessionID, &v.ExamID, &v.StudentID, &v.Category, &v.Description,
			&v.QuestionNumber, &v.UserAgent, &v.RecordedAt,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// CountsByStudent returns the number of violations recorded for each student in the exam.
func (r *ViolationRepository) CountsByStudent(ctx context.Context, examID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM proctoring_violations
		 WHERE exam_id = $1
		 GROUP BY student_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}

// CountsByCategory returns the exam-wide breakdown per category.
func (r *ViolationRepository) CountsByCategory(ctx context.Context, examID uuid.UUID) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT category, COUNT(*)
		 FROM proctoring_violations
		 WHERE exam_id = $1
		 GROUP BY category`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		counts[category] = count
	}
	return counts, rows.Err()
}
