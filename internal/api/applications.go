package api

import (
	"net/http"

	"volunteerhub/internal/api/apierr"
	"volunteerhub/internal/api/middleware"
	"volunteerhub/internal/model"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
)

type applyRequest struct {
	OpportunityID uint   `json:"opportunity_id"`
	Message       string `json:"message"`
}

func (s *Server) handleApply(c *gin.Context) {
	var req applyRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.OpportunityID == 0 {
		apierr.Abort(c, service.KindBadRequest, "opportunity_id is required")
		return
	}
	app, err := s.engine.Apply(c.Request.Context(), middleware.ActorFrom(c), req.OpportunityID, req.Message)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

func (s *Server) handleListApplications(c *gin.Context) {
	var filter service.ApplicationFilter
	var ok bool
	if filter.VolunteerID, ok = queryUint(c, "volunteer_id"); !ok {
		return
	}
	if filter.OpportunityID, ok = queryUint(c, "opportunity_id"); !ok {
		return
	}
	if filter.OrganizationID, ok = queryUint(c, "organization_id"); !ok {
		return
	}
	if filter.Page, ok = pageQuery(c); !ok {
		return
	}
	filter.Status = model.ApplicationStatus(c.Query("status"))

	apps, err := s.engine.ListApplications(c.Request.Context(), middleware.ActorFrom(c), filter)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps})
}

func (s *Server) handleGetApplication(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	app, err := s.engine.GetApplication(c.Request.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) handleSetApplicationStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	app, err := s.engine.SetApplicationStatus(c.Request.Context(), middleware.ActorFrom(c), id, model.ApplicationStatus(req.Status))
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) handleDeleteApplication(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.engine.DeleteApplication(c.Request.Context(), middleware.ActorFrom(c), id); err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
