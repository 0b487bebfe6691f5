package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// Exam session errors.
var (
	ErrSessionNotActive  = errors.New("exam session is not in progress")
	ErrAnswerKeyNotFound = errors.New("answer key not found in cache")
)

// ExamSessionService is the quiz-taking side of an attempt: autosave,
// grading and finalization. Proctoring only ever calls Submit.
type ExamSessionService struct {
	sessionRepo *repository.ExamSessionRepository
	rdb         *redis.Client
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(sessionRepo *repository.ExamSessionRepository, rdb *redis.Client) *ExamSessionService {
	return &ExamSessionService{sessionRepo: sessionRepo, rdb: rdb}
}

// SubmitResult summarizes a graded attempt.
type SubmitResult struct {
	Score   float64            `json:"score"`
	Correct int                `json:"correct"`
	Total   int                `json:"total"`
	Reason  model.SubmitReason `json:"reason"`
}

// VerifyActiveSession checks that a student has an active (IN_PROGRESS) session
// for the given exam.
func (s *ExamSessionService) VerifyActiveSession(ctx context.Context, examID uuid.UUID, studentID int) error {
	sess, err := s.sessionRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return fmt.Errorf("no active session: %w", err)
	}
	if sess.Status != model.SessionStatusInProgress {
		return ErrSessionNotActive
	}
	return nil
}

// Autosave stores one answer in Redis and queues it for persistence.
func (s *ExamSessionService) Autosave(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID, answer string) error {
	key := config.CacheKey.StudentAnswersKey(examID.String(), studentID)
	if err := s.rdb.HSet(ctx, key, questionID.String(), answer).Err(); err != nil {
		return fmt.Errorf("autosave: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"student_id": studentID,
		"exam_id":    examID.String(),
		"q_id":       questionID.String(),
		"answer":     answer,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		return fmt.Errorf("queue answer: %w", err)
	}
	return nil
}

// Submit grades the attempt from the autosaved answers and queues the score
// for the scoring worker, which completes the session row.
func (s *ExamSessionService) Submit(ctx context.Context, examID uuid.UUID, studentID int, reason model.SubmitReason) (*SubmitResult, error) {
	answerKey, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(answerKey) == 0 {
		return nil, ErrAnswerKeyNotFound
	}

	answers, err := s.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get student answers: %w", err)
	}

	correct, total, score := Grade(answerKey, answers)

	payload, _ := json.Marshal(map[string]interface{}{
		"student_id": studentID,
		"exam_id":    examID.String(),
		"score":      score,
		"reason":     reason,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, payload).Err(); err != nil {
		return nil, fmt.Errorf("queue score: %w", err)
	}

	return &SubmitResult{Score: score, Correct: correct, Total: total, Reason: reason}, nil
}

// Grade compares answers against the key and returns a 0–100 score.
func Grade(answerKey, answers map[string]string) (correct, total int, score float64) {
	total = len(answerKey)
	for qID, correctAns := range answerKey {
		if ans, ok := answers[qID]; ok && ans == correctAns {
			correct++
		}
	}
	if total > 0 {
		score = (float64(correct) / float64(total)) * 100
	}
	return correct, total, score
}
