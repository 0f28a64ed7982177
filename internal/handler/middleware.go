package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"payledger/internal/metrics"
	"payledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		c.Next()

		log.Info("http request",
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
		)
	}
}

// RecoveryMiddleware turns a panic into a 500 response.
func RecoveryMiddleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered", "error", err, "path", c.Request.URL.Path)
				response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "internal error")
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, "+HeaderUserID+", "+HeaderIdempotencyKey)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimitMiddleware limits each caller, identified by X-User-ID or else
// by client IP. When redis is unavailable requests are let through.
func RateLimitMiddleware(limiter *RateLimiter, rec *metrics.Recorder, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, err := callerID(c); err == nil && userID != 0 {
			identifier = "user:" + strconv.FormatInt(userID, 10)
		}

		decision, err := limiter.Allow(c.Request.Context(), identifier)
		if err != nil {
			log.Warn("rate limit check failed, allowing request", "identifier", identifier, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			rec.IncRateLimited()
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
			response.Abort(c, http.StatusTooManyRequests, response.CodeTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		c.Next()
	}
}
