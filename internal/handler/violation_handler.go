package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ViolationHandler serves the persisted proctoring log to administrators.
type ViolationHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewViolationHandler(monitorService *service.MonitorService, log zerolog.Logger) *ViolationHandler {
	return &ViolationHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "violation_handler").Logger(),
	}
}

// ListViolations godoc
// GET /api/v1/admin/exams/:id/violations?student_id=&category=&page=&per_page=
func (h *ViolationHandler) ListViolations(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var filter model.ViolationFilter
	if fields := validator.BindQuery(c, &filter); fields != nil {
		response.Invalid(c, fields)
		return
	}

	items, total, err := h.monitorService.ListViolations(c.Request.Context(), examID, filter)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to list violations")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}

	response.Paged(c, items, response.NewPagination(page, perPage, total))
}
