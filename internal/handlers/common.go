package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/db"
	"github.com/flowbill/flowbill-api/internal/logger"
	"github.com/flowbill/flowbill-api/internal/middleware"
)

// CommonServices holds the dependencies shared across handlers.
type CommonServices struct {
	db     db.Querier
	logger *zap.Logger
}

func NewCommonServices(queries db.Querier, log *zap.Logger) *CommonServices {
	if log == nil {
		log = logger.Log
	}
	return &CommonServices{
		db:     queries,
		logger: log,
	}
}

// GetDB returns the database querier.
func (s *CommonServices) GetDB() db.Querier {
	return s.db
}

// GetLogger returns the logger.
func (s *CommonServices) GetLogger() *zap.Logger {
	return s.logger
}

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents a standard success response.
type SuccessResponse struct {
	Message string `json:"message"`
}

// sendError logs the error and sends a JSON error response carrying the
// request's correlation ID.
func sendError(c *gin.Context, statusCode int, message string, err error) {
	correlationID := middleware.GetCorrelationID(c)

	logger.Error(message,
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("correlation_id", correlationID),
	)

	response := struct {
		Error         string `json:"error"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}{
		Error:         message,
		CorrelationID: correlationID,
	}

	c.JSON(statusCode, response)
}

// handleDBError maps database errors to HTTP status codes.
func handleDBError(c *gin.Context, err error, notFoundMsg string) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		sendError(c, http.StatusNotFound, notFoundMsg, err)
	default:
		sendError(c, http.StatusInternalServerError, "Internal server error", err)
	}
}

// sendSuccess sends a success response.
func sendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// validatePaginationParams returns limit and offset query parameters with
// sane defaults and a hard cap.
func validatePaginationParams(c *gin.Context) (limit int32, offset int32) {
	const maxLimit int32 = 100
	limit = 50
	offset = 0

	if parsed, ok := parseInt32Query(c, "limit"); ok && parsed > 0 {
		limit = parsed
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	if parsed, ok := parseInt32Query(c, "offset"); ok && parsed >= 0 {
		offset = parsed
	}
	return limit, offset
}

func parseInt32Query(c *gin.Context, name string) (int32, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(parsed), true
}
