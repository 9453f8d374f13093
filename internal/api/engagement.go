package api

import (
	"net/http"

	"volunteerhub/internal/api/apierr"
	"volunteerhub/internal/api/middleware"

	"github.com/gin-gonic/gin"
)

type commentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleToggleLike(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	state, err := s.engine.ToggleLike(c.Request.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleLikeStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	state, err := s.engine.LikeStatus(c.Request.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleAddComment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req commentRequest
	if !bindJSON(c, &req) {
		return
	}
	comment, err := s.engine.AddComment(c.Request.Context(), middleware.ActorFrom(c), id, req.Content)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (s *Server) handleListComments(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	page, ok := pageQuery(c)
	if !ok {
		return
	}
	comments, err := s.engine.ListComments(c.Request.Context(), middleware.ActorFrom(c), id, page)
	if err != nil {
		apierr.Write(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}
