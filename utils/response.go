package utils

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SendErrorResponse sends an error response. logger may be nil, in which
// case nothing is logged; callers that already log err themselves with
// richer fields should pass nil here to avoid a duplicate line.
func SendErrorResponse(c *gin.Context, logger *zap.Logger, statusCode int, message string, err error) {
	response := ErrorResponse{
		Success: false,
		Error:   message,
	}

	if err != nil {
		response.Details = err.Error()
		if logger != nil {
			logger.Warn(message, zap.Error(err))
		}
	}

	c.JSON(statusCode, response)
}

// SendSuccessResponse sends a success response
func SendSuccessResponse(c *gin.Context, statusCode int, data interface{}, message string) {
	response := SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	}

	c.JSON(statusCode, response)
}
