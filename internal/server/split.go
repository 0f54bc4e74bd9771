package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentfolio/rentfolio/internal/actorctx"
	"github.com/rentfolio/rentfolio/internal/splitcalc"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
)

type previewSplitRequest struct {
	AgencyID   *string `json:"agency_id"`
	OwnerID    *string `json:"owner_id"`
	ContractID *string `json:"contract_id"`
	PropertyID *string `json:"property_id"`
	Amount     int64   `json:"amount"`
	ChargeType *string `json:"charge_type"`
}

type previewSplitResponse struct {
	ConfigurationID string                      `json:"configuration_id"`
	Code            string                      `json:"code"`
	Version         int                         `json:"version"`
	ScopeKind       splitconfigdomain.ScopeKind `json:"scope_kind"`
	Result          splitcalc.Result            `json:"result"`
}

// PreviewSplit resolves the configuration that would govern a charge at
// the given scope and dry-runs the breakdown against it. PER_CONTRACT
// wins over PER_PROPERTY wins over GLOBAL.
func (s *Server) PreviewSplit(c *gin.Context) {
	if _, err := actorctx.Require(c.Request.Context(), actorctx.CapConfigRead); err != nil {
		AbortWithError(c, err)
		return
	}

	var req previewSplitRequest
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

	model, err := s.configSvc.ResolveActive(c.Request.Context(), splitconfigdomain.ResolveScopeRequest{
		AgencyID:   req.AgencyID,
		OwnerID:    req.OwnerID,
		ContractID: req.ContractID,
		PropertyID: req.PropertyID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result := splitcalc.Calculate(model, req.Amount, chargeType)
	c.JSON(http.StatusOK, previewSplitResponse{
		ConfigurationID: model.ID.String(),
		Code:            model.Code,
		Version:         model.Version,
		ScopeKind:       model.ScopeKind,
		Result:          result,
	})
}
