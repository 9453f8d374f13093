package middleware

import (
	"strings"

	"volunteerhub/internal/api/apierr"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// Verifier 把凭证解析为调用者身份。
type Verifier interface {
	Verify(token string) (service.Actor, error)
}

// AuthMiddleware 要求请求携带有效的 Bearer 凭证，并将调用者身份写入上下文。
func AuthMiddleware(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apierr.Abort(c, service.KindUnauthorized, "missing authorization")
			return
		}
		tokenStr, ok := bearer(authHeader)
		if !ok {
			apierr.Abort(c, service.KindUnauthorized, "invalid authorization header")
			return
		}
		actor, err := verifier.Verify(tokenStr)
		if err != nil {
			apierr.Abort(c, service.KindUnauthorized, "invalid token")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// OptionalAuth 凭证存在且有效时解析身份，否则按匿名处理。
// 携带了无效凭证同样返回 401，避免静默降级为匿名。
func OptionalAuth(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		tokenStr, ok := bearer(authHeader)
		if !ok {
			apierr.Abort(c, service.KindUnauthorized, "invalid authorization header")
			return
		}
		actor, err := verifier.Verify(tokenStr)
		if err != nil {
			apierr.Abort(c, service.KindUnauthorized, "invalid token")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom 读取中间件写入的调用者身份，未认证时返回匿名。
func ActorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(service.Actor); ok {
			return actor
		}
	}
	return service.Anonymous()
}

// SetActor 写入调用者身份（测试用）。
func SetActor(c *gin.Context, actor service.Actor) {
	c.Set(actorKey, actor)
}

func bearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
