package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rentfolio/rentfolio/internal/actorctx"
	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	"github.com/rentfolio/rentfolio/internal/splitcalc"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
)

func (s *Server) CreateConfiguration(c *gin.Context) {
	var req splitconfigdomain.CreateConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.configSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListConfigurations(c *gin.Context) {
	var req splitconfigdomain.ListConfigurationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.configSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetConfiguration(c *gin.Context) {
	resp, err := s.configSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateConfiguration(c *gin.Context) {
	var req splitconfigdomain.UpdateConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.configSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteConfiguration(c *gin.Context) {
	if err := s.configSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ArchiveConfiguration(c *gin.Context) {
	resp, err := s.configSvc.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ValidateConfiguration(c *gin.Context) {
	resp, err := s.configSvc.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ActivateConfiguration(c *gin.Context) {
	resp, err := s.configSvc.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeactivateConfiguration(c *gin.Context) {
	resp, err := s.configSvc.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateConfigurationVersion(c *gin.Context) {
	resp, err := s.configSvc.CreateNewVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type calculateSplitRequest struct {
	Amount     int64   `json:"amount"`
	ChargeType *string `json:"charge_type"`
}

// CalculateSplit is a dry run against one configuration: the breakdown
// comes back with is_valid and errors so callers can inspect drafts,
// and nothing is persisted.
func (s *Server) CalculateSplit(c *gin.Context) {
	if _, err := actorctx.Require(c.Request.Context(), actorctx.CapConfigRead); err != nil {
		AbortWithError(c, err)
		return
	}

	var req calculateSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount < 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be at least 0"))
		return
	}

	chargeType, err := parseChargeTypeFilter(req.ChargeType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	model, err := s.configSvc.GetModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result := splitcalc.Calculate(model, req.Amount, chargeType)
	c.JSON(http.StatusOK, result)
}

func (s *Server) ListConfigurationAuditLogs(c *gin.Context) {
	var req auditdomain.ListEntriesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ConfigurationID = c.Param("id")

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) VerifyConfigurationAuditLogs(c *gin.Context) {
	var req auditdomain.VerifyRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ConfigurationID = c.Param("id")

	resp, err := s.auditSvc.Verify(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseChargeTypeFilter(raw *string) (*splitconfigdomain.ChargeType, error) {
	if raw == nil {
		return nil, nil
	}
	trimmed := strings.ToUpper(strings.TrimSpace(*raw))
	if trimmed == "" {
		return nil, nil
	}
	chargeType := splitconfigdomain.ChargeType(trimmed)
	if !splitconfigdomain.ValidChargeType(chargeType) {
		return nil, splitconfigdomain.ErrInvalidChargeType
	}
	return &chargeType, nil
}
