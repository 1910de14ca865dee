package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/intent"
	"github.com/kaustubh76/synapse/libs/money"
)

// CreateIntentRequest is the wire shape of an intent submission. Money is a
// decimal string at the boundary.
type CreateIntentRequest struct {
	Type            string                 `json:"type" binding:"required"`
	Category        string                 `json:"category"`
	ClientAddress   string                 `json:"client_address" binding:"required"`
	Params          map[string]interface{} `json:"params"`
	MaxBudget       string                 `json:"max_budget" binding:"required"`
	MinReputation   float64                `json:"min_reputation"`
	BiddingDuration int64                  `json:"bidding_duration_ms"`
	ExecutionGrace  int64                  `json:"execution_grace_ms"`
	PaymentPayload  []byte                 `json:"payment_payload,omitempty"`
}

// SubmitBidRequest is the wire shape of a bid submission.
type SubmitBidRequest struct {
	ProviderID    string  `json:"provider_id" binding:"required"`
	BidAmount     string  `json:"bid_amount" binding:"required"`
	EstimatedTime int64   `json:"estimated_time_ms"`
	Confidence    float64 `json:"confidence"`
}

// ReportResultRequest is the wire shape of a result report.
type ReportResultRequest struct {
	ProviderID    string                 `json:"provider_id" binding:"required"`
	Data          map[string]interface{} `json:"data"`
	ExecutionTime int64                  `json:"execution_time_ms"`
}

// ReportFailureRequest is the wire shape of a failure report.
type ReportFailureRequest struct {
	ProviderID string `json:"provider_id" binding:"required"`
	Reason     string `json:"reason"`
}

// CreateIntent handles POST /api/v1/intents.
func (h *Handlers) CreateIntent(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	budget, err := money.Parse(req.MaxBudget)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	created, err := h.engine.CreateIntent(c.Request.Context(), intent.Spec{
		Type:            req.Type,
		Category:        intent.Category(req.Category),
		ClientAddress:   req.ClientAddress,
		Params:          req.Params,
		MaxBudget:       budget,
		MinReputation:   req.MinReputation,
		BiddingDuration: time.Duration(req.BiddingDuration) * time.Millisecond,
		ExecutionGrace:  time.Duration(req.ExecutionGrace) * time.Millisecond,
		PaymentPayload:  req.PaymentPayload,
	})
	if err != nil {
		h.logger.Warn("intent creation rejected", zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"intent": created})
}

// GetIntent handles GET /api/v1/intents/:id.
func (h *Handlers) GetIntent(c *gin.Context) {
	in, err := h.engine.GetIntent(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": in})
}

// ListOpenIntents handles GET /api/v1/intents.
func (h *Handlers) ListOpenIntents(c *gin.Context) {
	open := h.engine.OpenIntents()
	c.JSON(http.StatusOK, gin.H{"intents": open, "count": len(open)})
}

// GetBids handles GET /api/v1/intents/:id/bids.
func (h *Handlers) GetBids(c *gin.Context) {
	bids, err := h.engine.BidsForIntent(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids, "count": len(bids)})
}

// SubmitBid handles POST /api/v1/intents/:id/bids.
func (h *Handlers) SubmitBid(c *gin.Context) {
	var req SubmitBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	amount, err := money.Parse(req.BidAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	bid, err := h.engine.SubmitBid(intent.BidRequest{
		IntentID:      c.Param("id"),
		ProviderID:    req.ProviderID,
		BidAmount:     amount,
		EstimatedTime: time.Duration(req.EstimatedTime) * time.Millisecond,
		Confidence:    req.Confidence,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"bid": bid})
}

// ForceCloseBidding handles POST /api/v1/intents/:id/close.
func (h *Handlers) ForceCloseBidding(c *gin.Context) {
	if err := h.engine.CloseBidding(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	in, err := h.engine.GetIntent(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": in})
}

// AcknowledgeRequest is the wire shape of an assignment acknowledgment.
type AcknowledgeRequest struct {
	ProviderID string `json:"provider_id" binding:"required"`
}

// AcknowledgeAssignment handles POST /api/v1/intents/:id/ack.
func (h *Handlers) AcknowledgeAssignment(c *gin.Context) {
	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	if err := h.engine.AcknowledgeAssignment(c.Param("id"), req.ProviderID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "executing"})
}

// ReportResult handles POST /api/v1/intents/:id/result.
func (h *Handlers) ReportResult(c *gin.Context) {
	var req ReportResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	in, err := h.engine.ReportResult(
		c.Request.Context(),
		c.Param("id"),
		req.ProviderID,
		req.Data,
		time.Duration(req.ExecutionTime)*time.Millisecond,
	)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": in})
}

// ReportFailure handles POST /api/v1/intents/:id/failure.
func (h *Handlers) ReportFailure(c *gin.Context) {
	var req ReportFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return
	}

	if err := h.engine.ReportFailure(c.Param("id"), req.ProviderID, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	in, err := h.engine.GetIntent(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": in})
}
