package response

import (
	"errors"

	"github.com/gin-gonic/gin"

	"marketplace/internal/pkg/apperr"
)

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// FromError writes the envelope for a service error and records it on the
// gin context so ErrorLogger can log it.
func FromError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code := apperr.HTTPStatus(err)

	var payErr *apperr.PaymentError
	if errors.As(err, &payErr) {
		Error(c, status, code, payErr.UserMessage())
		return
	}
	if status >= 500 {
		Error(c, status, code, "Request could not be completed")
		return
	}
	Error(c, status, code, err.Error())
}
