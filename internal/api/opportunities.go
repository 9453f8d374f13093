package api

import (
	"net/http"

	"volunteerhub/internal/api/apierr"
	"volunteerhub/internal/api/middleware"
	"volunteerhub/internal/model"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleCreateOpportunity(c *gin.Context) {
	var req service.OpportunityInput
	if !bindJSON(c, &req) {
		return
	}
	opp, err := s.engine.CreateOpportunity(c.Request.Context(), middleware.ActorFrom(c), req)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, opp)
}

func (s *Server) handleListOpportunities(c *gin.Context) {
	orgID, ok := queryUint(c, "organization_id")
	if !ok {
		return
	}
	page, ok := pageQuery(c)
	if !ok {
		return
	}
	filter := service.OpportunityFilter{
		Status:               model.OpportunityStatus(c.Query("status")),
		OrganizationID:       orgID,
		Type:                 model.OpportunityType(c.Query("type")),
		Skill:                c.Query("skill"),
		AccessibilityFeature: c.Query("accessibility_feature"),
		Query:                c.Query("q"),
		Page:                 page,
	}
	opps, err := s.engine.ListOpportunities(c.Request.Context(), middleware.ActorFrom(c), filter)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": opps})
}

func (s *Server) handleGetOpportunity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := s.engine.GetOpportunity(c.Request.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleUpdateOpportunity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.OpportunityPatch
	if !bindJSON(c, &req) {
		return
	}
	opp, err := s.engine.UpdateOpportunity(c.Request.Context(), middleware.ActorFrom(c), id, req)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, opp)
}

func (s *Server) handleDeleteOpportunity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.engine.DeleteOpportunity(c.Request.Context(), middleware.ActorFrom(c), id); err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleTransitionOpportunity 管理员审核机会。
func (s *Server) handleTransitionOpportunity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	opp, err := s.engine.TransitionOpportunity(c.Request.Context(), middleware.ActorFrom(c), id, model.OpportunityStatus(req.Status))
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, opp)
}
