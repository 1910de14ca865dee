package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kaustubh76/synapse/libs/registry"
)

// RegisterProviderRequest is the wire shape of a provider registration.
type RegisterProviderRequest struct {
	Address         string   `json:"address" binding:"required"`
	Name            string   `json:"name"`
	Capabilities    []string `json:"capabilities" binding:"required"`
	ReputationScore float64  `json:"reputation_score"`
	TEEAttested     bool     `json:"tee_attested"`
}

// RegisterProvider handles POST /api/v1/providers.
func (h *Handlers) RegisterProvider(c *gin.Context) {
	var req RegisterProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	provider, err := h.registry.Register(registry.Spec{
		Address:         req.Address,
		Name:            req.Name,
		Capabilities:    req.Capabilities,
		ReputationScore: req.ReputationScore,
		TEEAttested:     req.TEEAttested,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"provider": provider})
}

// Heartbeat handles POST /api/v1/providers/:id/heartbeat.
func (h *Handlers) Heartbeat(c *gin.Context) {
	if err := h.registry.Heartbeat(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetProvider handles GET /api/v1/providers/:id; the id path segment also
// accepts an address.
func (h *Handlers) GetProvider(c *gin.Context) {
	id := c.Param("id")
	provider, err := h.registry.Get(id)
	if err != nil {
		provider, err = h.registry.GetByAddress(id)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider})
}

// ListProviders handles GET /api/v1/providers; an optional ?capability=
// filter narrows by capability.
func (h *Handlers) ListProviders(c *gin.Context) {
	var providers []*registry.Provider
	if cap := c.Query("capability"); cap != "" {
		providers = h.registry.FindByCapability(cap)
	} else {
		providers = h.registry.All()
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers, "count": len(providers)})
}

// GetStats handles GET /api/v1/stats: a combined view across the core
// subsystems for the dashboard.
func (h *Handlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": h.registry.GetStats(),
		"payments":  h.orchestrator.GetStats(),
		"push":      h.hub.GetStats(),
	})
}
