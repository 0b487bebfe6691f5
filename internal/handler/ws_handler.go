package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const submitTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionService is the quiz side the stream drives.
type SessionService interface {
	VerifyActiveSession(ctx context.Context, examID uuid.UUID, studentID int) error
	Autosave(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID, answer string) error
	Submit(ctx context.Context, examID uuid.UUID, studentID int, reason model.SubmitReason) (*service.SubmitResult, error)
}

// WSHandler hosts one proctored attempt per WebSocket connection.
type WSHandler struct {
	sessionService SessionService
	proctorService *service.ProctorService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService SessionService, proctorService *service.ProctorService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		proctorService: proctorService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// attempt is the per-connection host state.
type attempt struct {
	conn      *ws.Conn
	proctor   *proctor.Proctor
	identity  proctor.Identity
	log       zerolog.Logger
	submitted atomic.Bool
}

// ProctorStream godoc
// WS /ws/v1/student/exams/:exam_id/proctor?token=...&question=N
// Activates proctoring for the attempt, streams signals in and verdicts,
// warnings and UI commands out. The attempt ends on manual submit,
// auto-submit or disconnect.
func (h *WSHandler) ProctorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	question, err := strconv.Atoi(c.DefaultQuery("question", "1"))
	if err != nil || question < 1 {
		question = 1
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	studentID := claims.UserID

	// SECURITY: Validate the student has an active session before proctoring.
	if err := h.sessionService.VerifyActiveSession(c.Request.Context(), examID, studentID); err != nil {
		conn.WriteError("no active session for this exam")
		return
	}

	a := &attempt{
		conn: conn,
		identity: proctor.Identity{
			StudentID: studentID,
			ExamID:    examID,
			UserAgent: c.Request.UserAgent(),
		},
		log: h.log.With().Int("student_id", studentID).Str("exam_id", examID.String()).Logger(),
	}

	p, sessionID := h.proctorService.Open(a.identity, question, ws.NewNotifier(conn, a.log), func(as proctor.AutoSubmit) {
		h.autoSubmit(a, as)
	})
	a.proctor = p
	defer func() {
		if a.submitted.Load() {
			h.proctorService.Close(a.identity, p)
			return
		}
		// The page may still post unload signals over the beacon.
		h.proctorService.Release(a.identity, p)
	}()

	snap := p.Snapshot()
	conn.WriteTyped(ws.ActivatedResponse{
		Event:           ws.EventActivated,
		SessionID:       sessionID.String(),
		ActivatedAt:     snap.ActivatedAt,
		AutoSubmitDelay: h.autoSubmitDelayMillis(),
	})

	a.log.Info().Str("session_id", sessionID.String()).Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				a.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionSignal:
			h.handleSignal(a, &msg)
		case ws.ActionQuestion:
			if msg.Number > 0 {
				p.RecordQuestionNumber(msg.Number)
			}
		case ws.ActionFullscreenError:
			p.ReportFullscreenUnavailable(msg.Reason)
		case ws.ActionAutosave:
			h.handleAutosave(a, &msg)
		case ws.ActionSubmit:
			if h.handleSubmit(a) {
				return
			}
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			a.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

func (h *WSHandler) autoSubmitDelayMillis() int64 {
	return h.proctorService.Config().AutoSubmitDelay.Milliseconds()
}

// handleSignal feeds one native event and answers with its verdict.
func (h *WSHandler) handleSignal(a *attempt, msg *ws.RequestPayload) {
	if msg.Event == nil {
		a.conn.WriteError("event is required")
		return
	}

	v := a.proctor.Feed(*msg.Event)
	resp := ws.VerdictResponse{
		Event:    ws.EventVerdict,
		Seq:      msg.Seq,
		Prevent:  v.Prevent,
		Category: string(v.Category),
	}
	if v.Transition != nil {
		resp.State = string(v.Transition.To)
	}
	a.conn.WriteTyped(resp)
}

// handleAutosave saves a single answer to Redis and queues it for persistence.
func (h *WSHandler) handleAutosave(a *attempt, msg *ws.RequestPayload) {
	if msg.QID == "" || msg.Answer == "" {
		a.conn.WriteError("q_id and ans are required")
		return
	}

	// SECURITY: Validate QID is a well-formed UUID to prevent Redis key injection.
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		a.conn.WriteError("invalid q_id format")
		return
	}

	if a.submitted.Load() {
		a.conn.WriteError("attempt already submitted")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	if err := h.sessionService.Autosave(ctx, a.identity.ExamID, a.identity.StudentID, qid, msg.Answer); err != nil {
		a.log.Error().Err(err).Msg("Autosave error")
		a.conn.WriteError("save failed")
		return
	}

	a.conn.WriteTyped(ws.SuccessResponse{Event: ws.EventSuccess, Status: "saved"})
}

// handleSubmit grades a manual submission. It reports whether the
// connection should close.
func (h *WSHandler) handleSubmit(a *attempt) bool {
	if !a.submitted.CompareAndSwap(false, true) {
		a.conn.WriteError("attempt already submitted")
		return false
	}

	res, err := h.submit(a, model.SubmitReasonManual)
	if err != nil {
		a.submitted.Store(false)
		a.conn.WriteError("grading failed")
		return false
	}

	a.conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Status: "completed", Score: res.Score})
	return true
}

// autoSubmit runs on the proctor's trigger once the termination delay
// elapses. A manual submit that got there first wins.
func (h *WSHandler) autoSubmit(a *attempt, as proctor.AutoSubmit) {
	if !a.submitted.CompareAndSwap(false, true) {
		a.log.Info().Str("session_id", as.SessionID.String()).Msg("Auto-submit skipped, attempt already submitted")
		return
	}

	res, err := h.submit(a, model.SubmitReasonAutoSubmit)
	if err != nil {
		a.conn.WriteError("auto-submit failed")
		a.conn.Close()
		return
	}

	a.conn.WriteTyped(ws.AutoSubmittedResponse{
		Event:  ws.EventAutoSubmitted,
		Status: "completed",
		Reason: as.Reason,
		Score:  res.Score,
	})
	// Unblocks the read loop, which closes the proctor.
	a.conn.Close()
}

func (h *WSHandler) submit(a *attempt, reason model.SubmitReason) (*service.SubmitResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	res, err := h.sessionService.Submit(ctx, a.identity.ExamID, a.identity.StudentID, reason)
	if err != nil {
		if errors.Is(err, service.ErrAnswerKeyNotFound) {
			a.log.Error().Err(err).Msg("Answer key missing from cache")
		} else {
			a.log.Error().Err(err).Str("reason", string(reason)).Msg("Submit failed")
		}
		return nil, err
	}

	a.log.Info().
		Float64("score", res.Score).
		Int("correct", res.Correct).
		Int("total", res.Total).
		Str("reason", string(reason)).
		Msg("Exam submitted and graded")
	return res, nil
}
