package api

import (
	"net/http"

	"volunteerhub/internal/api/apierr"
	"volunteerhub/internal/api/middleware"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
)

// handleGetMe 返回当前登录账号。
func (s *Server) handleGetMe(c *gin.Context) {
	actor := middleware.ActorFrom(c)
	user, err := s.engine.GetAccount(c.Request.Context(), actor, actor.UserID)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleUpdateMe(c *gin.Context) {
	var req service.ProfilePatch
	if !bindJSON(c, &req) {
		return
	}
	user, err := s.engine.UpdateProfile(c.Request.Context(), middleware.ActorFrom(c), req)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
