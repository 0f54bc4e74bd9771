package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
)

func (s *Server) AddReceiver(c *gin.Context) {
	var req splitconfigdomain.ReceiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.configSvc.AddReceiver(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateReceiver(c *gin.Context) {
	var req splitconfigdomain.ReceiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.configSvc.UpdateReceiver(c.Request.Context(), c.Param("id"), c.Param("receiverId"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) RemoveReceiver(c *gin.Context) {
	if err := s.configSvc.RemoveReceiver(c.Request.Context(), c.Param("id"), c.Param("receiverId")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) AddRule(c *gin.Context) {
	var req splitconfigdomain.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.configSvc.AddRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateRule(c *gin.Context) {
	var req splitconfigdomain.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.configSvc.UpdateRule(c.Request.Context(), c.Param("id"), c.Param("ruleId"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) RemoveRule(c *gin.Context) {
	if err := s.configSvc.RemoveRule(c.Request.Context(), c.Param("id"), c.Param("ruleId")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
