package log

import (
	"time"

	"github.com/gin-gonic/gin"
)

const hijackedKey = "connection_hijacked"

// MarkHijacked must run before a websocket upgrade. Once the connection is
// hijacked the request logger must not read c.Writer.
func MarkHijacked(c *gin.Context) {
	c.Set(hijackedKey, true)
}

func isHijacked(c *gin.Context) bool {
	return c.GetBool(hijackedKey)
}

var httpLogger = GetLogger("HTTP")

// GinLogger logs one line per request. Websocket sessions are logged at
// debug level when the socket closes.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}

		c.Next()

		if isHijacked(c) {
			httpLogger.Debug().Str("path", path).Dur("duration", time.Since(start)).Msg("websocket closed")
			return
		}

		status := c.Writer.Status()
		event := httpLogger.Info()
		switch {
		case status >= 500:
			event = httpLogger.Error()
		case status >= 400:
			event = httpLogger.Warn()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start))
		if route := c.FullPath(); route != "" {
			event = event.Str("route", route)
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			event = event.Str("error", msg)
		}
		event.Msg("request")
	}
}
