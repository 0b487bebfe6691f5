package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live proctoring activity to invigilators.
type MonitorHandler struct {
	rdb            *redis.Client
	monitorService *service.MonitorService
	proctorService *service.ProctorService
	log            zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, monitorService *service.MonitorService, proctorService *service.ProctorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		monitorService: monitorService,
		proctorService: proctorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
// Sends a snapshot, then forwards every violation published for the exam
// and a periodic progress refresh.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if !h.sendProgress(c, reqCtx, examID, "snapshot") {
		return
	}

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refresh queries until something happened on the exam.
	dirty := false

	h.log.Info().Str("exam_id", examID.String()).Msg("Admin attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payload is already JSON; forward it untouched.
			writeSSEData(c, []byte(msg.Payload))
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendProgress(c, reqCtx, examID, "refresh")

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

// sendProgress writes one progress event. The first snapshot failing ends
// the stream; later refresh failures are only logged.
func (h *MonitorHandler) sendProgress(c *gin.Context, parentCtx context.Context, examID uuid.UUID, kind string) bool {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetStudentProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to fetch student progress")
		if kind == "snapshot" {
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return false
		}
		return true
	}

	c.SSEvent("message", map[string]interface{}{
		"type":             kind,
		"live_proctors":    h.proctorService.LiveCount(),
		"total_violations": progress.TotalViolations,
		"by_category":      progress.ByCategory,
		"answered_counts":  progress.AnsweredCounts,
		"violations":       progress.ViolationCounts,
		"warnings":         progress.Warnings,
	})
	c.Writer.Flush()
	return true
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
