package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSettlement handles GET /api/v1/payments/:intentId/settlement.
func (h *Handlers) GetSettlement(c *gin.Context) {
	settlement, err := h.orchestrator.GetSettlement(c.Param("intentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlement": settlement})
}

// GetEscrow handles GET /api/v1/payments/:intentId/escrow.
func (h *Handlers) GetEscrow(c *gin.Context) {
	escrow, err := h.orchestrator.GetEscrow(c.Param("intentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}
