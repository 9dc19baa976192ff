package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/service"
)

const (
	requestIDKey    = "request_id"
	userIDKey       = "user_id"
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
)

// RequestIDMiddleware tags each request with an id, reusing the caller's if present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// LoggerMiddleware logs every request once it completes.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// RecoveryMiddleware turns a panic into a 500 reply.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("request_id", c.GetString(requestIDKey)).
					Str("path", c.Request.URL.Path).
					Msg("Recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
					Code:    service.CodeInternal,
					Message: "internal error",
				})
			}
		}()
		c.Next()
	}
}

// AuthMiddleware reads the user id set by the upstream auth proxy.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(headerUserID), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Code:    "UNAUTHORIZED",
				Message: "missing or invalid " + headerUserID + " header",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// AdminMiddleware lets only admin users through. It must run after AuthMiddleware.
func AdminMiddleware(isAdmin func(int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c.GetInt64(userIDKey)) {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{
				Code:    service.CodeForbidden,
				Message: "admin only",
			})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}
