package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SignalHandler accepts proctoring signals over plain HTTP.
type SignalHandler struct {
	proctorService *service.ProctorService
	log            zerolog.Logger
}

func NewSignalHandler(proctorService *service.ProctorService, log zerolog.Logger) *SignalHandler {
	return &SignalHandler{
		proctorService: proctorService,
		log:            log.With().Str("component", "signal_handler").Logger(),
	}
}

type beaconVerdict struct {
	Kind     string `json:"kind"`
	Prevent  bool   `json:"prevent"`
	Category string `json:"category,omitempty"`
	State    string `json:"state,omitempty"`
}

// PostSignals godoc
// POST /api/v1/student/exams/:exam_id/proctor/signals
// Feeds beacon events into the live proctor of the caller's attempt.
func (h *SignalHandler) PostSignals(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SignalBeaconRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.Invalid(c, fields)
		return
	}
	sessionID := uuid.MustParse(req.SessionID)

	events := make([]proctor.RawEvent, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, proctor.RawEvent{
			Kind:       proctor.Kind(e.Kind),
			Hidden:     e.Hidden,
			Fullscreen: e.Fullscreen,
			Key:        e.Key,
			Ctrl:       e.Ctrl,
			Meta:       e.Meta,
			Alt:        e.Alt,
			Shift:      e.Shift,
		})
	}

	verdicts, err := h.proctorService.FeedBeacon(examID, claims.UserID, sessionID, events)
	if errors.Is(err, service.ErrProctorNotLive) {
		response.Fail(c, http.StatusConflict, response.ErrProctorNotLive)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("Beacon dispatch failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	out := make([]beaconVerdict, len(verdicts))
	for i, v := range verdicts {
		out[i] = beaconVerdict{Kind: req.Events[i].Kind, Prevent: v.Prevent, Category: string(v.Category)}
		if v.Transition != nil {
			out[i].State = string(v.Transition.To)
		}
	}
	response.Success(c, http.StatusAccepted, gin.H{"verdicts": out})
}
