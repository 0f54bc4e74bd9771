package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
)

func (s *Server) ListBillingCycles(c *gin.Context) {
	var req billingcycledomain.ListCyclesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.cycleSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetCurrentBillingCycle(c *gin.Context) {
	var req billingcycledomain.CurrentCycleRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.cycleSvc.GetOrCreateCurrent(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetBillingCycle(c *gin.Context) {
	resp, err := s.cycleSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) CloseBillingCycle(c *gin.Context) {
	resp, err := s.cycleSvc.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListBillingCycleCharges(c *gin.Context) {
	charges, err := s.chargeSvc.ListByCycle(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"charges": charges})
}
