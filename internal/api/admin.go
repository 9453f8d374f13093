package api

import (
	"log/slog"
	"net/http"

	"volunteerhub/internal/api/apierr"
	"volunteerhub/internal/api/middleware"
	"volunteerhub/internal/model"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
)

// moderationRequest 支持两种写法：{"status": "verified"} 或 {"verified": true, "rejected": false}。
type moderationRequest struct {
	Status   *model.ModerationStatus `json:"status"`
	Verified *bool                   `json:"verified"`
	Rejected *bool                   `json:"rejected"`
}

func (s *Server) handleListUsers(c *gin.Context) {
	page, ok := pageQuery(c)
	if !ok {
		return
	}
	filter := service.UserFilter{Role: model.Role(c.Query("role")), Page: page}
	users, err := s.engine.ListUsers(c.Request.Context(), middleware.ActorFrom(c), filter)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	actor := middleware.ActorFrom(c)
	if err := s.engine.DeleteAccount(c.Request.Context(), actor, id); err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	s.logger.Info("account deleted",
		slog.Uint64("user_id", uint64(id)),
		slog.Uint64("admin_id", uint64(actor.UserID)))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListOrganizations(c *gin.Context) {
	page, ok := pageQuery(c)
	if !ok {
		return
	}
	status := model.ModerationStatus(c.Query("status"))
	orgs, err := s.engine.ListOrganizations(c.Request.Context(), middleware.ActorFrom(c), status, page)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

func (s *Server) handleModerateOrganization(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req moderationRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	actor := middleware.ActorFrom(c)
	var (
		org *model.User
		err error
	)
	switch {
	case req.Status != nil && (req.Verified != nil || req.Rejected != nil):
		apierr.Abort(c, service.KindBadRequest, "use either status or verified/rejected, not both")
		return
	case req.Status != nil:
		org, err = s.engine.SetOrganizationModeration(ctx, actor, id, *req.Status)
	case req.Verified != nil || req.Rejected != nil:
		org, err = s.engine.SetOrganizationFlags(ctx, actor, id, deref(req.Verified), deref(req.Rejected))
	default:
		apierr.Abort(c, service.KindBadRequest, "status is required")
		return
	}
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org, "status": org.Moderation()})
}

func deref(b *bool) bool {
	return b != nil && *b
}
