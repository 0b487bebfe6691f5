package websocket

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal          Action = "signal"
	ActionQuestion        Action = "question"
	ActionAutosave        Action = "autosave"
	ActionSubmit          Action = "submit"
	ActionFullscreenError Action = "fullscreen_error"
	ActionPing            Action = "ping"
)

// RequestPayload is the union of every client action. Fields unused by an
// action are left empty.
type RequestPayload struct {
	Action Action `json:"action"`

	// signal
	Seq   int64             `json:"seq,omitempty"`
	Event *proctor.RawEvent `json:"event,omitempty"`

	// question
	Number int `json:"number,omitempty"`

	// autosave
	QID    string `json:"q_id,omitempty"`
	Answer string `json:"ans,omitempty"`

	// fullscreen_error
	Reason string `json:"reason,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventActivated     Event = "activated"
	EventVerdict       Event = "verdict"
	EventWarning       Event = "warning"
	EventNotice        Event = "notice"
	EventTerminated    Event = "terminated"
	EventAutoSubmitted Event = "auto_submitted"
	EventUI            Event = "ui"
	EventError         Event = "error"
	EventSuccess       Event = "success"
	EventGraded        Event = "graded"
	EventPong          Event = "pong"
)

// UI commands carried by EventUI.
const (
	UIDisableSelection  = "disable_selection"
	UIEnableSelection   = "enable_selection"
	UIRequestFullscreen = "request_fullscreen"
	UIExitFullscreen    = "exit_fullscreen"
)

type ActivatedResponse struct {
	Event           Event     `json:"event"`
	SessionID       string    `json:"session_id"`
	ActivatedAt     time.Time `json:"activated_at"`
	AutoSubmitDelay int64     `json:"auto_submit_delay_ms"`
}

// VerdictResponse tells the client whether to cancel the default action of
// the signal with the same seq.
type VerdictResponse struct {
	Event    Event  `json:"event"`
	Seq      int64  `json:"seq"`
	Prevent  bool   `json:"prevent"`
	Category string `json:"category,omitempty"`
	State    string `json:"state,omitempty"`
}

type WarningResponse struct {
	Event    Event  `json:"event"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Warnings int    `json:"warnings"`
}

type NoticeResponse struct {
	Event    Event  `json:"event"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

type TerminatedResponse struct {
	Event    Event     `json:"event"`
	Reason   string    `json:"reason"`
	Message  string    `json:"message"`
	SubmitAt time.Time `json:"submit_at"`
}

type AutoSubmittedResponse struct {
	Event  Event   `json:"event"`
	Status string  `json:"status"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score"`
}

type UIResponse struct {
	Event   Event  `json:"event"`
	Command string `json:"command"`
}

type SuccessResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type GradedResponse struct {
	Event  Event   `json:"event"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
