package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationEvent is one proctoring record. It is created once per detected
// signal and never mutated afterwards.
type ViolationEvent struct {
	SessionID      uuid.UUID `json:"session_id"`
	ExamID         uuid.UUID `json:"exam_id"`
	StudentID      int       `json:"student_id"`
	Category       string    `json:"category"`
	Description    string    `json:"description"`
	QuestionNumber int       `json:"question_number"`
	UserAgent      string    `json:"user_agent"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// StoredViolation is a ViolationEvent read back from PostgreSQL.
type StoredViolation struct {
	ID int64 `json:"id"`
	ViolationEvent
}

// ViolationFilter narrows an admin violation listing.
type ViolationFilter struct {
	StudentID *int    `form:"student_id"`
	Category  *string `form:"category" binding:"omitempty,max=32"`
	Page      int     `form:"page" binding:"omitempty,min=1"`
	PerPage   int     `form:"per_page" binding:"omitempty,min=1,max=200"`
}
