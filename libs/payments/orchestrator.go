package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/money"
)

var (
	// ErrEscrowNotFound indicates no escrow exists for the intent
	ErrEscrowNotFound = errors.New("escrow not found")

	// ErrEscrowExists indicates an active escrow already exists for the intent
	ErrEscrowExists = errors.New("escrow already exists for intent")

	// ErrEscrowNotHeld indicates the escrow is not in HELD state
	ErrEscrowNotHeld = errors.New("escrow is not held")

	// ErrVerificationFailed indicates the facilitator rejected the payment payload
	ErrVerificationFailed = errors.New("payment verification failed")

	// ErrSettlementInProgress indicates a settlement for this intent is already in flight
	ErrSettlementInProgress = errors.New("settlement in progress")

	// ErrSettlementFailed indicates the facilitator could not settle the payment
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrAlreadySettled indicates a successful settlement already exists
	ErrAlreadySettled = errors.New("intent already settled")

	// ErrAmountExceedsEscrow indicates the release amount exceeds the held budget
	ErrAmountExceedsEscrow = errors.New("amount exceeds escrowed budget")
)

// Prometheus metrics
var (
	metricsEscrowsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_escrows_created_total",
		Help: "Total escrows created",
	})

	metricsSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synapse_settlements_total",
		Help: "Total settlement attempts by outcome",
	}, []string{"outcome"})

	metricsRefunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_escrow_refunds_total",
		Help: "Total escrow refunds",
	})

	metricsSettleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synapse_settlement_duration_seconds",
		Help:    "Facilitator settlement latency",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	metricsFeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_platform_fees_micros_total",
		Help: "Total platform fees collected, in micros",
	})
)

// EscrowStatus represents the state of an escrow entry
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "HELD"
	EscrowStatusReleased EscrowStatus = "RELEASED"
	EscrowStatusRefunded EscrowStatus = "REFUNDED"
	EscrowStatusExpired  EscrowStatus = "EXPIRED"
)

// EscrowEntry holds a client budget for one intent.
type EscrowEntry struct {
	IntentID       string       `json:"intent_id"`
	ClientAddress  string       `json:"client_address"`
	MaxBudget      money.Amount `json:"max_budget"`
	PaymentPayload []byte       `json:"-"`
	Status         EscrowStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
}

// PaymentSettlement records the outcome of a settlement attempt.
type PaymentSettlement struct {
	IntentID        string       `json:"intent_id"`
	Success         bool         `json:"success"`
	Amount          money.Amount `json:"amount"`
	PlatformFee     money.Amount `json:"platform_fee"`
	NetAmount       money.Amount `json:"net_amount"`
	ProviderAddress string       `json:"provider_address"`
	TxReference     string       `json:"tx_reference,omitempty"`
	SettledAt       time.Time    `json:"settled_at"`
	Error           string       `json:"error,omitempty"`
}

// EscrowRequest describes a createEscrow call.
type EscrowRequest struct {
	IntentID       string
	ClientAddress  string
	MaxBudget      money.Amount
	PaymentPayload []byte
	TTL            time.Duration
}

// Stats summarizes orchestrator state.
type Stats struct {
	HeldEscrows       int          `json:"held_escrows"`
	ReleasedEscrows   int          `json:"released_escrows"`
	RefundedEscrows   int          `json:"refunded_escrows"`
	ExpiredEscrows    int          `json:"expired_escrows"`
	Settlements       int          `json:"settlements"`
	FailedSettlements int          `json:"failed_settlements"`
	TotalVolume       money.Amount `json:"total_volume"`
	TotalFees         money.Amount `json:"total_fees"`
}

// Config tunes the orchestrator.
type Config struct {
	// FeeRatePermille is the platform fee in permille of the settled amount.
	FeeRatePermille int
	// EscrowTTL is the default hold window before an escrow expires.
	EscrowTTL time.Duration
	// FacilitatorTimeout bounds each facilitator RPC.
	FacilitatorTimeout time.Duration
	// SweepInterval is the cadence of the expiry sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns the spec defaults.
func DefaultConfig() Config {
	return Config{
		FeeRatePermille:    50,
		EscrowTTL:          30 * time.Minute,
		FacilitatorTimeout: 10 * time.Second,
		SweepInterval:      time.Minute,
	}
}

// Orchestrator holds client budgets in escrow and settles micropayments
// through the facilitator.
type Orchestrator struct {
	mu          sync.RWMutex
	escrows     map[string]*EscrowEntry       // intent ID -> escrow
	settlements map[string]*PaymentSettlement // intent ID -> latest settlement
	inFlight    map[string]bool               // intent ID -> settlement latch

	facilitator Facilitator
	config      Config
	logger      *zap.Logger
	nowFn       func() time.Time

	sweepTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNow injects a clock source for deterministic tests.
func WithNow(nowFn func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFn = nowFn }
}

// NewOrchestrator creates a payment orchestrator.
func NewOrchestrator(facilitator Facilitator, config Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FacilitatorTimeout == 0 {
		config.FacilitatorTimeout = 10 * time.Second
	}
	if config.EscrowTTL == 0 {
		config.EscrowTTL = 30 * time.Minute
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = time.Minute
	}

	o := &Orchestrator{
		escrows:     make(map[string]*EscrowEntry),
		settlements: make(map[string]*PaymentSettlement),
		inFlight:    make(map[string]bool),
		facilitator: facilitator,
		config:      config,
		logger:      logger,
		nowFn:       time.Now,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the escrow expiry sweep.
func (o *Orchestrator) Start(ctx context.Context) {
	o.sweepTicker = time.NewTicker(o.config.SweepInterval)
	go func() {
		for {
			select {
			case <-o.sweepTicker.C:
				o.sweepExpired()
			case <-o.stopCh:
				o.sweepTicker.Stop()
				return
			case <-ctx.Done():
				o.sweepTicker.Stop()
				return
			}
		}
	}()
}

// Stop halts the background sweep.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// CreateEscrow holds a client budget for an intent. When a pre-authorized
// payment payload is present it is verified with the facilitator first; a
// rejection fails the call with ErrVerificationFailed.
func (o *Orchestrator) CreateEscrow(ctx context.Context, req EscrowRequest) (*EscrowEntry, error) {
	if req.IntentID == "" {
		return nil, errors.New("intent id is required")
	}
	if req.MaxBudget <= 0 {
		return nil, errors.New("max budget must be positive")
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = o.config.EscrowTTL
	}

	if len(req.PaymentPayload) > 0 {
		verifyCtx, cancel := context.WithTimeout(ctx, o.config.FacilitatorTimeout)
		defer cancel()

		result, err := o.facilitator.Verify(verifyCtx, req.PaymentPayload, PaymentRequirements{
			Scheme:    "exact",
			MaxAmount: req.MaxBudget,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
		if !result.Valid {
			return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, result.Error)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.escrows[req.IntentID]; ok && existing.Status == EscrowStatusHeld {
		return nil, ErrEscrowExists
	}

	now := o.nowFn()
	entry := &EscrowEntry{
		IntentID:       req.IntentID,
		ClientAddress:  req.ClientAddress,
		MaxBudget:      req.MaxBudget,
		PaymentPayload: req.PaymentPayload,
		Status:         EscrowStatusHeld,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	o.escrows[req.IntentID] = entry
	metricsEscrowsCreated.Inc()

	o.logger.Info("escrow created",
		zap.String("intent_id", req.IntentID),
		zap.String("client", req.ClientAddress),
		zap.String("max_budget", req.MaxBudget.String()),
		zap.Time("expires_at", entry.ExpiresAt),
	)

	return entry.clone(), nil
}

// ReleaseEscrow settles the winning amount to the provider and marks the
// escrow released. At most one settlement per intent is in flight; a second
// call while one is pending fails with ErrSettlementInProgress. A failed
// facilitator settle is recorded with success=false and surfaced as
// ErrSettlementFailed so the engine can trigger failover.
func (o *Orchestrator) ReleaseEscrow(ctx context.Context, intentID, providerAddress string, amount money.Amount) (*PaymentSettlement, error) {
	o.mu.Lock()
	entry, ok := o.escrows[intentID]
	if !ok {
		o.mu.Unlock()
		return nil, ErrEscrowNotFound
	}
	if entry.Status != EscrowStatusHeld {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: status is %s", ErrEscrowNotHeld, entry.Status)
	}
	if existing, ok := o.settlements[intentID]; ok && existing.Success {
		o.mu.Unlock()
		return nil, ErrAlreadySettled
	}
	if amount > entry.MaxBudget {
		o.mu.Unlock()
		return nil, ErrAmountExceedsEscrow
	}
	if o.inFlight[intentID] {
		o.mu.Unlock()
		return nil, ErrSettlementInProgress
	}
	o.inFlight[intentID] = true
	payload := entry.PaymentPayload
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, intentID)
		o.mu.Unlock()
	}()

	fee, net := money.Split(amount, money.FeeRateFromPermille(o.config.FeeRatePermille))
	req := PaymentRequirements{
		Scheme:    "exact",
		Amount:    net,
		PayTo:     providerAddress,
		MaxAmount: entry.MaxBudget,
	}

	started := o.nowFn()
	result, err := o.settleWithRetry(ctx, payload, req)
	metricsSettleLatency.Observe(o.nowFn().Sub(started).Seconds())

	settlement := &PaymentSettlement{
		IntentID:        intentID,
		Amount:          amount,
		PlatformFee:     fee,
		NetAmount:       net,
		ProviderAddress: providerAddress,
		SettledAt:       o.nowFn(),
	}

	if err != nil {
		settlement.Error = err.Error()
	} else if !result.Success {
		settlement.Error = result.Error
	} else {
		settlement.Success = true
		settlement.TxReference = result.TxReference
	}

	o.mu.Lock()
	o.settlements[intentID] = settlement
	if settlement.Success {
		entry.Status = EscrowStatusReleased
	}
	o.mu.Unlock()

	if !settlement.Success {
		metricsSettlements.WithLabelValues("failure").Inc()
		o.logger.Error("settlement failed",
			zap.String("intent_id", intentID),
			zap.String("provider", providerAddress),
			zap.String("error", settlement.Error),
		)
		return settlement, fmt.Errorf("%w: %s", ErrSettlementFailed, settlement.Error)
	}

	metricsSettlements.WithLabelValues("success").Inc()
	metricsFeesCollected.Add(float64(fee.Micros()))
	o.logger.Info("settlement completed",
		zap.String("intent_id", intentID),
		zap.String("provider", providerAddress),
		zap.String("amount", amount.String()),
		zap.String("platform_fee", fee.String()),
		zap.String("net_amount", net.String()),
		zap.String("tx_reference", settlement.TxReference),
	)

	return settlement, nil
}

// settleWithRetry calls the facilitator with exponential backoff on infra
// errors. A settle that completes with Success=false is a terminal business
// outcome and is not retried.
func (o *Orchestrator) settleWithRetry(ctx context.Context, payload []byte, req PaymentRequirements) (*SettleResult, error) {
	var result *SettleResult

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	// Two retries after the first call: three attempts total.
	b := backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx)

	err := backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.config.FacilitatorTimeout)
		defer cancel()

		res, err := o.facilitator.Settle(callCtx, payload, req)
		if err != nil {
			o.logger.Warn("facilitator settle error, will retry", zap.Error(err))
			return err
		}
		result = res
		return nil
	}, b)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RefundEscrow returns a held budget to the client. No on-chain transfer has
// occurred before release in the pre-authorized model, so this is a
// status-only transition HELD -> REFUNDED.
func (o *Orchestrator) RefundEscrow(intentID string) error {
	o.mu.Lock()
	entry, ok := o.escrows[intentID]
	if !ok {
		o.mu.Unlock()
		return ErrEscrowNotFound
	}
	if entry.Status != EscrowStatusHeld {
		o.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrEscrowNotHeld, entry.Status)
	}
	entry.Status = EscrowStatusRefunded
	o.mu.Unlock()

	metricsRefunds.Inc()
	o.logger.Info("escrow refunded", zap.String("intent_id", intentID))
	return nil
}

// GetEscrow returns a snapshot of the escrow for an intent.
func (o *Orchestrator) GetEscrow(intentID string) (*EscrowEntry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	entry, ok := o.escrows[intentID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return entry.clone(), nil
}

// GetSettlement returns the latest settlement recorded for an intent.
func (o *Orchestrator) GetSettlement(intentID string) (*PaymentSettlement, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s, ok := o.settlements[intentID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *s
	return &cp, nil
}

// GetStats returns aggregate payment statistics.
func (o *Orchestrator) GetStats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := Stats{}
	for _, e := range o.escrows {
		switch e.Status {
		case EscrowStatusHeld:
			stats.HeldEscrows++
		case EscrowStatusReleased:
			stats.ReleasedEscrows++
		case EscrowStatusRefunded:
			stats.RefundedEscrows++
		case EscrowStatusExpired:
			stats.ExpiredEscrows++
		}
	}
	for _, s := range o.settlements {
		if s.Success {
			stats.Settlements++
			stats.TotalVolume += s.Amount
			stats.TotalFees += s.PlatformFee
		} else {
			stats.FailedSettlements++
		}
	}
	return stats
}

// sweepExpired transitions HELD escrows past their expiry to EXPIRED.
func (o *Orchestrator) sweepExpired() {
	now := o.nowFn()

	o.mu.Lock()
	var expired []string
	for id, e := range o.escrows {
		if e.Status == EscrowStatusHeld && now.After(e.ExpiresAt) {
			e.Status = EscrowStatusExpired
			expired = append(expired, id)
		}
	}
	o.mu.Unlock()

	for _, id := range expired {
		o.logger.Warn("escrow expired", zap.String("intent_id", id))
	}
}

// SweepNow runs one expiry sweep immediately.
func (o *Orchestrator) SweepNow() {
	o.sweepExpired()
}

func (e *EscrowEntry) clone() *EscrowEntry {
	cp := *e
	return &cp
}
