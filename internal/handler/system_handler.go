package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	metricsInterval = 7 * time.Second
	healthTimeout   = 2 * time.Second
)

// AuditStats exposes the audit recorder's loss counters.
type AuditStats interface {
	Dropped() int64
	Failed() int64
}

// SystemHandler reports service health and proctoring runtime metrics.
type SystemHandler struct {
	db        *pgxpool.Pool
	rdb       *redis.Client
	proctors  *service.ProctorService
	audit     AuditStats
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(db *pgxpool.Pool, rdb *redis.Client, proctors *service.ProctorService, audit AuditStats, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		proctors:  proctors,
		audit:     audit,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := gin.H{"postgres": "ok", "redis": "ok"}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	if status != http.StatusOK {
		h.log.Warn().Interface("checks", checks).Msg("Health check failed")
		response.Fail(c, status, response.ErrInternal)
		return
	}
	response.Success(c, status, gin.H{"status": "ok", "checks": checks})
}

// ---------- SSE Endpoint ----------

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`

	// Proctoring
	LiveProctors    int   `json:"live_proctors"`
	AuditDropped    int64 `json:"audit_dropped"`
	AuditFailed     int64 `json:"audit_failed"`
	QueueViolations int64 `json:"queue_violations"`
	QueueAnswers    int64 `json:"queue_answers"`
	QueueScores     int64 `json:"queue_scores"`
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Admin connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	// Send immediately on connect, then every tick
	h.writeMetrics(c)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Admin disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	writeSSEData(c, data)
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := systemMetrics{
		Timestamp:    time.Now().UnixMilli(),
		Uptime:       formatDuration(time.Since(h.startTime)),
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    mem.HeapAlloc,
		HeapSys:      mem.HeapSys,
		NumGC:        mem.NumGC,
		GoVersion:    runtime.Version(),
		LiveProctors: h.proctors.LiveCount(),
		AuditDropped: h.audit.Dropped(),
		AuditFailed:  h.audit.Failed(),
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	pipe := h.rdb.Pipeline()
	violations := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	answers := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	scores := pipe.LLen(ctx, config.WorkerKey.PersistScoresQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Debug().Err(err).Msg("Queue length lookup failed")
	}
	m.QueueViolations = violations.Val()
	m.QueueAnswers = answers.Val()
	m.QueueScores = scores.Val()
	return m
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
