package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every proctoring API answer is wrapped in.
type Response struct {
	Data       interface{} `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody carries a stable code, the localized message and, for
// validation failures, the offending fields.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination describes one page of the violation log.
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalItems int64 `json:"total_items"`
	TotalPages int64 `json:"total_pages"`
}

// NewPagination computes the page count for total items.
func NewPagination(page, perPage int, total int64) *Pagination {
	if perPage < 1 {
		perPage = 1
	}
	return &Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + int64(perPage) - 1) / int64(perPage),
	}
}

// Metadata ties a response to its request ID.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Success writes data with the given status.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Data: data, Metadata: metadata(c)})
}

// Paged writes one page of items with its pagination block.
func Paged(c *gin.Context, items interface{}, p *Pagination) {
	c.JSON(http.StatusOK, Response{Data: items, Pagination: p, Metadata: metadata(c)})
}

// Fail writes an error envelope for code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, failure(c, code, nil))
}

// Invalid writes a 400 VALIDATION_ERROR with per-field messages.
func Invalid(c *gin.Context, fields map[string]string) {
	c.JSON(http.StatusBadRequest, failure(c, ErrValidation, fields))
}

// AbortFail stops the middleware chain with an error envelope.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, failure(c, code, nil))
}

func failure(c *gin.Context, code ErrCode, fields map[string]string) Response {
	return Response{
		Error:    &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields},
		Metadata: metadata(c),
	}
}

func metadata(c *gin.Context) Metadata {
	return Metadata{
		RequestID: RequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
