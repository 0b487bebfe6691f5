package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// SubmitReason records why an attempt was finalized.
type SubmitReason string

const (
	SubmitReasonManual     SubmitReason = "MANUAL"
	SubmitReasonAutoSubmit SubmitReason = "AUTO_SUBMIT"
)

// ExamSession represents a student's exam attempt.
type ExamSession struct {
	ID           uuid.UUID     `json:"id"`
	ExamID       uuid.UUID     `json:"exam_id"`
	StudentID    int           `json:"student_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	Status       SessionStatus `json:"status"`
	FinalScore   *float64      `json:"final_score,omitempty"`
	SubmitReason *SubmitReason `json:"submit_reason,omitempty"`
}

// SignalBeaconRequest carries native events posted with navigator.sendBeacon
// while the page unloads. The WebSocket may already be gone; the attempt's
// proctor keeps accepting beacons for PROCTOR_BEACON_LINGER after it drops.
type SignalBeaconRequest struct {
	SessionID string           `json:"session_id" binding:"required,uuid"`
	Events    []BeaconRawEvent `json:"events" binding:"required,min=1,max=32,dive"`
}

// BeaconRawEvent mirrors proctor.RawEvent for request binding.
type BeaconRawEvent struct {
	Kind       string `json:"kind" binding:"required,proctor_kind"`
	Hidden     bool   `json:"hidden"`
	Fullscreen bool   `json:"fullscreen"`
	Key        string `json:"key" binding:"max=32"`
	Ctrl       bool   `json:"ctrl"`
	Meta       bool   `json:"meta"`
	Alt        bool   `json:"alt"`
	Shift      bool   `json:"shift"`
}
