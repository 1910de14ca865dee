// Package api exposes the broker core over HTTP and WebSocket: thin
// adapters that parse requests into engine operations and translate engine
// events into push envelopes.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/intent"
	"github.com/kaustubh76/synapse/libs/payments"
	"github.com/kaustubh76/synapse/libs/push"
	"github.com/kaustubh76/synapse/libs/registry"
)

// Handlers holds the service references the HTTP surface dispatches into.
type Handlers struct {
	engine       *intent.Engine
	registry     *registry.Registry
	orchestrator *payments.Orchestrator
	hub          *push.Hub
	logger       *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	engine *intent.Engine,
	reg *registry.Registry,
	orchestrator *payments.Orchestrator,
	hub *push.Hub,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		engine:       engine,
		registry:     reg,
		orchestrator: orchestrator,
		hub:          hub,
		logger:       logger,
	}
}

// respondError maps engine and payment errors to HTTP statuses and a uniform
// error body.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := intent.KindOf(err)

	switch {
	case errors.Is(err, payments.ErrVerificationFailed):
		status, kind = http.StatusPaymentRequired, intent.KindVerification
	case errors.Is(err, payments.ErrSettlementInProgress):
		status, kind = http.StatusConflict, intent.KindState
	case errors.Is(err, payments.ErrSettlementFailed):
		status, kind = http.StatusBadGateway, intent.KindSettlement
	case errors.Is(err, payments.ErrEscrowNotFound):
		status, kind = http.StatusNotFound, intent.KindNotFound
	case errors.Is(err, registry.ErrProviderNotFound):
		status, kind = http.StatusNotFound, intent.KindNotFound
	default:
		switch kind {
		case intent.KindValidation:
			status = http.StatusBadRequest
		case intent.KindState:
			status = http.StatusConflict
		case intent.KindBudget:
			status = http.StatusPaymentRequired
		case intent.KindNotFound:
			status = http.StatusNotFound
		}
	}

	c.JSON(status, gin.H{
		"error":   string(kind),
		"message": err.Error(),
	})
}
