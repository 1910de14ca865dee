// Package payments implements escrow bookkeeping and settlement against a
// pluggable payment facilitator.
package payments

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/kaustubh76/synapse/libs/money"
)

// PaymentRequirements describes what a settlement must satisfy. It is built
// by the orchestrator and handed to the facilitator verbatim.
type PaymentRequirements struct {
	Scheme    string       `json:"scheme"`    // e.g. "exact"
	Network   string       `json:"network"`   // e.g. "base-sepolia"
	Amount    money.Amount `json:"amount"`    // amount to move, minor units
	PayTo     string       `json:"pay_to"`    // recipient address
	Asset     string       `json:"asset"`     // token contract address
	MaxAmount money.Amount `json:"max_amount"`
}

// VerifyResult is the facilitator's verdict on a pre-authorized payload.
type VerifyResult struct {
	Valid  bool         `json:"valid"`
	Error  string       `json:"error,omitempty"`
	Amount money.Amount `json:"amount,omitempty"`
	From   string       `json:"from,omitempty"`
	To     string       `json:"to,omitempty"`
	Token  string       `json:"token,omitempty"`
}

// SettleResult is the facilitator's report of a settlement attempt.
type SettleResult struct {
	Success      bool   `json:"success"`
	TxReference  string `json:"tx_reference,omitempty"`
	BlockHeight  uint64 `json:"block_height,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	GasUsed      uint64 `json:"gas_used,omitempty"`
}

// SupportedMethod describes one payment scheme/network pair a facilitator
// can settle.
type SupportedMethod struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Token   string `json:"token,omitempty"`
	Demo    bool   `json:"demo,omitempty"`
}

// SupportedFilter narrows a Supported query.
type SupportedFilter struct {
	ChainID      string `json:"chain_id,omitempty"`
	TokenAddress string `json:"token_address,omitempty"`
}

// Facilitator is the external service (or simulation) that verifies and
// settles payments. Implementations must honor ctx cancellation.
type Facilitator interface {
	Verify(ctx context.Context, payload []byte, req PaymentRequirements) (*VerifyResult, error)
	Settle(ctx context.Context, payload []byte, req PaymentRequirements) (*SettleResult, error)
	Supported(ctx context.Context, filter SupportedFilter) ([]SupportedMethod, error)
}

// DemoFacilitator simulates a facilitator for local runs: every payload
// verifies, and settlement returns a synthesized reference after a
// 500-1500 ms latency.
type DemoFacilitator struct{}

// NewDemoFacilitator creates the simulation facilitator.
func NewDemoFacilitator() *DemoFacilitator {
	return &DemoFacilitator{}
}

// Verify implements Facilitator. All payloads are considered valid in demo
// mode; the reported amount echoes the requirement.
func (f *DemoFacilitator) Verify(ctx context.Context, payload []byte, req PaymentRequirements) (*VerifyResult, error) {
	return &VerifyResult{
		Valid:  true,
		Amount: req.MaxAmount,
		To:     req.PayTo,
		Token:  req.Asset,
	}, nil
}

// Settle implements Facilitator with simulated on-chain latency.
func (f *DemoFacilitator) Settle(ctx context.Context, payload []byte, req PaymentRequirements) (*SettleResult, error) {
	delay := time.Duration(500+rand.Intn(1000)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &SettleResult{
		Success:     true,
		TxReference: fmt.Sprintf("demo-tx-%s", uuid.New().String()[:8]),
		Status:      "settled",
	}, nil
}

// Supported implements Facilitator.
func (f *DemoFacilitator) Supported(ctx context.Context, filter SupportedFilter) ([]SupportedMethod, error) {
	return []SupportedMethod{
		{Scheme: "exact", Network: "demo", Demo: true},
	}, nil
}
