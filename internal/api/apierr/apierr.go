package apierr

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"volunteerhub/internal/pkg/validate"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
)

// Status 把引擎错误类别映射为 HTTP 状态码。
func Status(kind service.Kind) int {
	switch kind {
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Write 输出 {"error", "kind"}。内部错误只记录日志，响应中使用固定文案。
func Write(c *gin.Context, logger *slog.Logger, err error) {
	kind := service.KindOf(err)
	status := Status(kind)
	msg := err.Error()
	if kind == service.KindInternal {
		if logger != nil {
			logger.Error("request failed",
				slog.String("method", c.Request.Method),
				slog.String("path", c.FullPath()),
				slog.String("error", err.Error()))
		}
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}

// Abort 以指定类别直接中止请求。
func Abort(c *gin.Context, kind service.Kind, msg string) {
	c.AbortWithStatusJSON(Status(kind), gin.H{"error": msg, "kind": kind})
}

// BindFailed 处理请求体解析失败：未知字段、类型不匹配、缺失请求体都按 400 返回。
func BindFailed(c *gin.Context, err error) {
	msg := validate.Describe(err)
	if errors.Is(err, io.EOF) {
		msg = "request body is required"
	}
	Abort(c, service.KindBadRequest, msg)
}
