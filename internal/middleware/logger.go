package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns a middleware that logs HTTP requests without bodies or
// query strings.
func Logger() gin.HandlerFunc {
	return LoggerWith(log.Logger)
}

func LoggerWith(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// queries are dropped; the websocket ticket travels there
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		ctx := base.With().
			Str("request_id", RequestIDFrom(c)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent())
		if id := UserIDFrom(c); id != uuid.Nil {
			ctx = ctx.Str("user_id", id.String())
		}
		logger := ctx.Logger()

		switch {
		case statusCode >= 500:
			evt := logger.Error()
			if len(c.Errors) > 0 {
				evt = evt.Err(c.Errors.Last().Err)
			}
			evt.Msg("Server error")
		case statusCode >= 400:
			logger.Warn().Msg("Client error")
		default:
			logger.Info().Msg("Request processed")
		}
	}
}
