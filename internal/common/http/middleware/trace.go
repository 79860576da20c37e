package middleware

import (
	"context"
	"strings"

	"codejudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"
	UserIDHeader    = "X-User-Id"
)

// TraceContextMiddleware puts trace/request ids (generated when absent) and the
// caller's user id into the request context and echoes them as response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = propagate(c, ctx, TraceIDHeader, string(contextkey.TraceID), contextkey.TraceID, true)
		ctx = propagate(c, ctx, RequestIDHeader, string(contextkey.RequestID), contextkey.RequestID, true)
		ctx = propagate(c, ctx, UserIDHeader, string(contextkey.UserID), contextkey.UserID, false)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func propagate(c *gin.Context, ctx context.Context, header, ginKey string, ctxKey interface{}, generate bool) context.Context {
	value := strings.TrimSpace(c.GetHeader(header))
	if value == "" {
		if !generate {
			return ctx
		}
		value = uuid.NewString()
	}
	c.Set(ginKey, value)
	c.Writer.Header().Set(header, value)
	return context.WithValue(ctx, ctxKey, value)
}

// UserID returns the caller id placed by TraceContextMiddleware, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(string(contextkey.UserID)); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
