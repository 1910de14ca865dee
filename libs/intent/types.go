// Package intent implements the intent lifecycle state machine: bid
// admission, scoring, winner selection, failover, and result ingestion.
package intent

import (
	"errors"
	"time"

	"github.com/kaustubh76/synapse/libs/money"
)

var (
	// ErrIntentNotFound indicates no intent matches the given id
	ErrIntentNotFound = errors.New("intent not found")

	// ErrBiddingClosed indicates the intent is no longer accepting bids
	ErrBiddingClosed = errors.New("bidding is closed")

	// ErrBudgetExceeded indicates the bid amount exceeds the intent budget
	ErrBudgetExceeded = errors.New("bid exceeds max budget")

	// ErrProviderOffline indicates the bidding provider is not online
	ErrProviderOffline = errors.New("provider is offline")

	// ErrCapabilityMismatch indicates the provider cannot serve the intent type
	ErrCapabilityMismatch = errors.New("provider capabilities do not cover intent type")

	// ErrReputationTooLow indicates the provider is below the intent's minimum
	ErrReputationTooLow = errors.New("provider reputation below minimum")

	// ErrDuplicateBid indicates the provider already bid on this intent
	ErrDuplicateBid = errors.New("provider already bid on intent")

	// ErrInvalidState indicates the operation is not valid in the current state
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrNotAssignee indicates the reporting provider is not the assigned one
	ErrNotAssignee = errors.New("provider is not the assignee")

	// ErrInvalidSpec indicates a malformed intent spec
	ErrInvalidSpec = errors.New("invalid intent spec")
)

// Kind classifies an error for the boundary per the error-handling design.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindState        Kind = "STATE"
	KindBudget       Kind = "BUDGET"
	KindVerification Kind = "VERIFICATION"
	KindSettlement   Kind = "SETTLEMENT"
	KindNotFound     Kind = "NOT_FOUND"
	KindInternal     Kind = "INTERNAL"
)

// KindOf maps an engine error to its boundary kind.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrIntentNotFound):
		return KindNotFound
	case errors.Is(err, ErrBudgetExceeded):
		return KindBudget
	case errors.Is(err, ErrBiddingClosed),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrNotAssignee),
		errors.Is(err, ErrDuplicateBid):
		return KindState
	case errors.Is(err, ErrInvalidSpec),
		errors.Is(err, ErrProviderOffline),
		errors.Is(err, ErrCapabilityMismatch),
		errors.Is(err, ErrReputationTooLow):
		return KindValidation
	default:
		return KindInternal
	}
}

// Status is an intent's lifecycle state.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusBiddingClosed Status = "BIDDING_CLOSED"
	StatusAssigned      Status = "ASSIGNED"
	StatusExecuting     Status = "EXECUTING"
	StatusCompleted     Status = "COMPLETED"
	StatusFailover      Status = "FAILOVER"
	StatusFailed        Status = "FAILED"
)

// terminal reports whether no further transitions are possible.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Category groups intent types into scoring domains.
type Category string

const (
	CategoryGeneral Category = "general"
	CategoryData    Category = "data"
	CategoryCompute Category = "compute"
	CategoryLLM     Category = "llm"
)

// Failure reasons carried on intent:failed events.
const (
	ReasonNoBids             = "NO_BIDS"
	ReasonAllProvidersFailed = "ALL_PROVIDERS_FAILED"
)

// BidStatus is a bid's lifecycle state.
type BidStatus string

const (
	BidStatusPending   BidStatus = "PENDING"
	BidStatusAccepted  BidStatus = "ACCEPTED"
	BidStatusRejected  BidStatus = "REJECTED"
	BidStatusWithdrawn BidStatus = "WITHDRAWN"
)

// Result stores the outcome of a completed intent.
type Result struct {
	Data          map[string]interface{} `json:"data"`
	ExecutionTime time.Duration          `json:"execution_time"`
	TxReference   string                 `json:"tx_reference,omitempty"`
	SettledAmount money.Amount           `json:"settled_amount"`
	CompletedAt   time.Time              `json:"completed_at"`
}

// Intent is a client's typed request for a unit of work.
type Intent struct {
	ID                string                 `json:"id"`
	Type              string                 `json:"type"`
	Category          Category               `json:"category"`
	ClientAddress     string                 `json:"client_address"`
	Params            map[string]interface{} `json:"params,omitempty"`
	MaxBudget         money.Amount           `json:"max_budget"`
	MinReputation     float64                `json:"min_reputation,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	BiddingDeadline   time.Time              `json:"bidding_deadline"`
	ExecutionDeadline time.Time              `json:"execution_deadline"`
	Status            Status                 `json:"status"`
	AssignedProvider  string                 `json:"assigned_provider,omitempty"` // provider address
	FailoverQueue     []string               `json:"failover_queue,omitempty"`    // provider addresses, rank order
	Result            *Result                `json:"result,omitempty"`
	FailureReason     string                 `json:"failure_reason,omitempty"`
}

// Spec describes a createIntent request. Amounts arrive already converted
// from boundary decimal strings.
type Spec struct {
	Type            string
	Category        Category
	ClientAddress   string
	Params          map[string]interface{}
	MaxBudget       money.Amount
	MinReputation   float64
	BiddingDuration time.Duration
	ExecutionGrace  time.Duration
	PaymentPayload  []byte
}

// Bid is a provider's priced offer for one intent. Provider fields are
// snapshots taken at admission time.
type Bid struct {
	ID              string       `json:"id"`
	IntentID        string       `json:"intent_id"`
	ProviderID      string       `json:"provider_id"`
	ProviderAddress string       `json:"provider_address"`
	BidAmount       money.Amount `json:"bid_amount"`
	EstimatedTime   time.Duration `json:"estimated_time"`
	Confidence      float64      `json:"confidence"`
	ReputationScore float64      `json:"reputation_score"`
	QualityScore    float64      `json:"quality_score"`
	TEEAttested     bool         `json:"tee_attested"`
	Capabilities    []string     `json:"capabilities"`
	CalculatedScore int          `json:"calculated_score"`
	Rank            int          `json:"rank"`
	SubmittedAt     time.Time    `json:"submitted_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
	Status          BidStatus    `json:"status"`
}

// BidRequest describes a submitBid call.
type BidRequest struct {
	IntentID      string
	ProviderID    string // id or address; resolved against the directory
	BidAmount     money.Amount
	EstimatedTime time.Duration
	Confidence    float64
}

func (b *Bid) clone() *Bid {
	cp := *b
	cp.Capabilities = append([]string(nil), b.Capabilities...)
	return &cp
}

func cloneBids(bids []*Bid) []*Bid {
	out := make([]*Bid, len(bids))
	for i, b := range bids {
		out[i] = b.clone()
	}
	return out
}

func (in *Intent) clone() *Intent {
	cp := *in
	cp.FailoverQueue = append([]string(nil), in.FailoverQueue...)
	if in.Result != nil {
		res := *in.Result
		cp.Result = &res
	}
	return &cp
}
