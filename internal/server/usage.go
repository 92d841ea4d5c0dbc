package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"go.uber.org/zap"
)

func (s *Server) IngestUsage(c *gin.Context) {
	var req usagedomain.Submission
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.usagesvc.Ingest(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) runStage(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.pipeline.RunStage(c.Request.Context(), name); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ChargeUsage runs the whole pipeline. Stage failures are logged and counted,
// never returned to the caller.
func (s *Server) ChargeUsage(c *gin.Context) {
	if err := s.pipeline.RunOnce(c.Request.Context()); err != nil {
		s.log.Warn("charge usage run failed", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func chargeKeyFromPath(c *gin.Context) usagedomain.ChargeKey {
	return usagedomain.ChargeKey{
		TenantID:       strings.TrimSpace(c.Param("tenantId")),
		SubscriptionID: strings.TrimSpace(c.Param("subscriptionId")),
		UnitType:       strings.TrimSpace(c.Param("unit")),
		TrackingID:     strings.TrimSpace(c.Param("trackingId")),
	}
}
