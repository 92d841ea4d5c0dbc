package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	chargesdomain "github.com/smallbiznis/meter/internal/charges/domain"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
)

type chargesLookup func(context.Context, usagedomain.ChargeKey) (chargesdomain.ChargeDetails, error)

func (s *Server) GetCharges(c *gin.Context) {
	writeCharges(c, s.chargessvc.GetCharges)
}

func (s *Server) GetChargesForPG(c *gin.Context) {
	writeCharges(c, s.chargessvc.GetChargesForPG)
}

// writeCharges always answers with a ChargeDetails body, failures included.
func writeCharges(c *gin.Context, lookup chargesLookup) {
	details, err := lookup(c.Request.Context(), chargeKeyFromPath(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFor(err), details)
		return
	}
	c.JSON(http.StatusOK, details)
}
