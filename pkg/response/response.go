package response

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Envelope is the body of every JSON API response. Code is 0 on success and
// the HTTP status otherwise.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success writes data with status 200
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: 0, Message: "success", Data: data})
}

// Error writes an error envelope with the given status
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Code: status, Message: message})
}

// Abort writes an error envelope and stops the handler chain
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{Code: status, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// Unauthorized aborts with 401
func Unauthorized(c *gin.Context, message string) {
	Abort(c, http.StatusUnauthorized, message)
}

// TooManyRequests aborts with 429 and a Retry-After rounded up to whole seconds
func TooManyRequests(c *gin.Context, retryAfter time.Duration) {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	Abort(c, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}
