package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// MonitorService serves the admin dashboard's view of the proctoring log.
type MonitorService struct {
	violationRepo *repository.ViolationRepository
	sessionRepo   *repository.ExamSessionRepository
	rdb           *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(violationRepo *repository.ViolationRepository, sessionRepo *repository.ExamSessionRepository, rdb *redis.Client) *MonitorService {
	return &MonitorService{violationRepo: violationRepo, sessionRepo: sessionRepo, rdb: rdb}
}

// StudentProgressSnapshot holds live answer progress and violation counts.
type StudentProgressSnapshot struct {
	AnsweredCounts  map[int]int64            `json:"answered_counts"`  // student_id → answered questions
	ViolationCounts map[int]int64            `json:"violation_counts"` // student_id → recorded violations
	Warnings        map[int]map[string]int64 `json:"warnings"`         // student_id → category → warnings
	ByCategory      map[string]int64         `json:"by_category"`
	TotalViolations int64                    `json:"total_violations"`
}

// GetStudentProgress gathers Redis progress and PostgreSQL counts concurrently.
// Answer progress is critical; violation counts are best-effort.
func (s *MonitorService) GetStudentProgress(ctx context.Context, examID uuid.UUID) (*StudentProgressSnapshot, error) {
	snapshot := &StudentProgressSnapshot{
		AnsweredCounts:  make(map[int]int64),
		ViolationCounts: make(map[int]int64),
		Warnings:        make(map[int]map[string]int64),
		ByCategory:      make(map[string]int64),
	}

	var (
		liveErr, countErr, categoryErr error
		violationCounts                map[int]int64
		byCategory                     map[string]int64
		wg                             sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		liveErr = s.fillLiveProgress(ctx, examID, snapshot)
	}()
	go func() {
		defer wg.Done()
		violationCounts, countErr = s.violationRepo.CountsByStudent(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		byCategory, categoryErr = s.violationRepo.CountsByCategory(ctx, examID)
	}()
	wg.Wait()

	if liveErr != nil {
		return nil, liveErr
	}
	if countErr == nil {
		snapshot.ViolationCounts = violationCounts
		for _, n := range violationCounts {
			snapshot.TotalViolations += n
		}
	}
	if categoryErr == nil {
		snapshot.ByCategory = byCategory
	}
	return snapshot, nil
}

// fillLiveProgress reads answered counts and warning hashes for every
// in-progress student in one pipeline.
func (s *MonitorService) fillLiveProgress(ctx context.Context, examID uuid.UUID, snap *StudentProgressSnapshot) error {
	ids, err := s.sessionRepo.ListInProgressStudentIDs(ctx, examID)
	if err != nil {
		return fmt.Errorf("list in-progress students: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	answered := make(map[int]*redis.IntCmd, len(ids))
	warnings := make(map[int]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		answered[id] = pipe.HLen(ctx, config.CacheKey.StudentAnswersKey(examID.String(), id))
		warnings[id] = pipe.HGetAll(ctx, config.CacheKey.StudentWarningsKey(examID.String(), id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("read live progress: %w", err)
	}

	for _, id := range ids {
		snap.AnsweredCounts[id] = answered[id].Val()
		if w := warnings[id].Val(); len(w) > 0 {
			snap.Warnings[id] = parseCounts(w)
		}
	}
	return nil
}

// ListViolations returns a page of the exam's violation log.
func (s *MonitorService) ListViolations(ctx context.Context, examID uuid.UUID, f model.ViolationFilter) ([]model.StoredViolation, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 50
	}
	return s.violationRepo.ListByExam(ctx, examID, f)
}

func parseCounts(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out
}
