package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 请求 ID 的头部名称。
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RequestID 透传或生成请求 ID，并写回响应头。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestIDFrom 返回当前请求的 ID。
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
