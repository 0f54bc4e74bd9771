package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/rentfolio/rentfolio/internal/scopectx"
	usagedomain "github.com/rentfolio/rentfolio/internal/usage/domain"
)

type trackUsageResponse struct {
	ID             string    `json:"id"`
	AgencyID       *string   `json:"agency_id,omitempty"`
	OwnerID        *string   `json:"owner_id,omitempty"`
	Feature        string    `json:"feature"`
	Quantity       int64     `json:"quantity"`
	BillingMonth   string    `json:"billing_month"`
	IdempotencyKey string    `json:"idempotency_key"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (s *Server) TrackUsage(c *gin.Context) {
	var req usagedomain.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// The limiter key is the tenant scope, which rides in the body, so
	// the check happens after binding rather than in a middleware.
	scope, err := scopectx.Parse(req.AgencyID, req.OwnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.allowTrack(c, scope) {
		return
	}

	event, err := s.usageSvc.Track(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, trackUsageResponse{
		ID:             event.ID.String(),
		AgencyID:       idString(event.AgencyID),
		OwnerID:        idString(event.OwnerID),
		Feature:        event.Feature,
		Quantity:       event.Quantity,
		BillingMonth:   event.BillingMonth,
		IdempotencyKey: event.IdempotencyKey,
		OccurredAt:     event.OccurredAt,
	})
}

func (s *Server) GetUsageOverage(c *gin.Context) {
	var req usagedomain.OverageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usageSvc.Overage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func idString(id *snowflake.ID) *string {
	if id == nil {
		return nil
	}
	v := id.String()
	return &v
}
