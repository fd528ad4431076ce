// Package logging wires logrus as the process-wide logger. It provides the
// shared log formatter, rotating file output, request and correlation id
// propagation, per-exchange request dumps and the Gin middleware used by the
// OAuth2 callback listener.
package logging

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/odatalink/odatalink/internal/util"
	log "github.com/sirupsen/logrus"
)

// GinLogrusLogger logs one line per callback request. The request id is taken
// from a valid inbound X-CorrelationID, or minted, and is echoed back in that
// header. OAuth2 query values (code, state, tokens) are masked.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := InboundCorrelationID(c.Request.Header)
		requestID := correlationID
		if requestID == "" {
			requestID = NewRequestID()
		}
		c.Set(ginRequestIDKey, requestID)
		c.Request = c.Request.WithContext(ContextWithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderCorrelationID, requestID)

		c.Next()

		target := c.Request.URL.Path
		if masked := util.MaskSensitiveQuery(c.Request.URL.RawQuery); masked != "" {
			target += "?" + masked
		}
		status := c.Writer.Status()
		fields := log.Fields{
			FieldRequestID: requestID,
			"status":       status,
			"latency":      roundLatency(time.Since(start)),
			"client_ip":    c.ClientIP(),
		}
		if correlationID != "" {
			fields[FieldCorrelationID] = correlationID
		}
		if errMsg := c.Errors.ByType(gin.ErrorTypePrivate).String(); errMsg != "" {
			fields["error"] = errMsg
		}
		entry := log.WithFields(fields)
		line := c.Request.Method + " " + target

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

func roundLatency(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Truncate(time.Second)
	}
	return d.Truncate(time.Millisecond)
}

// GinLogrusRecovery turns a handler panic into a 500 and an error log line
// carrying the request id and stack.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			// net/http aborts the connection quietly for this sentinel.
			panic(http.ErrAbortHandler)
		}

		log.WithFields(log.Fields{
			FieldRequestID: GinRequestID(c),
			"panic":        recovered,
			"stack":        string(debug.Stack()),
			"path":         c.Request.URL.Path,
		}).Error("callback handler panicked")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
