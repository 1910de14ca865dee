package intent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/money"
	"github.com/kaustubh76/synapse/libs/payments"
	"github.com/kaustubh76/synapse/libs/registry"
)

// typePattern validates dotted intent types such as "weather.current".
var typePattern = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)

// Prometheus metrics
var (
	metricsIntentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_intents_created_total",
		Help: "Total intents created",
	})

	metricsBidsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_bids_received_total",
		Help: "Total bids admitted",
	})

	metricsIntentsDone = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synapse_intents_finished_total",
		Help: "Total intents reaching a terminal state, by outcome",
	}, []string{"outcome"})

	metricsFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_failovers_total",
		Help: "Total failover activations",
	})

	metricsBidsPerIntent = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synapse_bids_per_intent",
		Help:    "Bids admitted per intent",
		Buckets: prometheus.LinearBuckets(0, 1, 20),
	})

	metricsAuctionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synapse_auction_duration_seconds",
		Help:    "Time from intent creation to terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// Directory is the registry surface the engine consumes.
type Directory interface {
	Get(id string) (*registry.Provider, error)
	GetByAddress(address string) (*registry.Provider, error)
	RecordJobSuccess(id string, executionTime time.Duration, earnings money.Amount) error
	RecordJobFailure(id string) error
}

// Payments is the orchestrator surface the engine consumes.
type Payments interface {
	CreateEscrow(ctx context.Context, req payments.EscrowRequest) (*payments.EscrowEntry, error)
	ReleaseEscrow(ctx context.Context, intentID, providerAddress string, amount money.Amount) (*payments.PaymentSettlement, error)
	RefundEscrow(intentID string) error
}

// Config tunes the engine.
type Config struct {
	// BiddingDurationDefault applies when a spec omits the auction window.
	BiddingDurationDefault time.Duration
	// ExecutionGrace is the window after bidding close for execution.
	ExecutionGrace time.Duration
	// FailoverDepth caps the runner-up queue length.
	FailoverDepth int
	// RetentionWindow keeps terminal intents readable before GC.
	RetentionWindow time.Duration
	// Weights overrides the per-category scoring weight sets.
	Weights map[Category]Weights
}

// DefaultConfig returns the spec defaults.
func DefaultConfig() Config {
	return Config{
		BiddingDurationDefault: 30 * time.Second,
		ExecutionGrace:         60 * time.Second,
		FailoverDepth:          3,
		RetentionWindow:        10 * time.Minute,
		Weights:                WeightsByCategory(),
	}
}

// intentState is the per-intent critical section: one mutex serializes every
// mutation of an intent, its bids, and its timers.
type intentState struct {
	mu sync.Mutex

	intent      *Intent
	bids        []*Bid          // rank order
	byProvider  map[string]*Bid // provider ID -> bid
	assignedBid *Bid
	failover    []*Bid          // untried runner-ups, rank order
	tried       map[string]bool // provider IDs already assigned

	biddingTimer *time.Timer
	execTimer    *time.Timer
}

// retiredIntent is the read-only snapshot kept for the retention window
// after a terminal transition.
type retiredIntent struct {
	intent *Intent
	bids   []*Bid
}

// Engine drives the intent lifecycle state machine. It is parallel across
// intents and single-threaded per intent.
type Engine struct {
	mu      sync.RWMutex
	intents map[string]*intentState
	retired *gocache.Cache

	directory Directory
	payments  Payments
	emitter   Emitter
	config    Config
	logger    *zap.Logger
	nowFn     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow injects a clock source for deterministic tests.
func WithNow(nowFn func() time.Time) Option {
	return func(e *Engine) { e.nowFn = nowFn }
}

// NewEngine creates the intent engine.
func NewEngine(directory Directory, pay Payments, emitter Emitter, config Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BiddingDurationDefault == 0 {
		config.BiddingDurationDefault = 30 * time.Second
	}
	if config.ExecutionGrace == 0 {
		config.ExecutionGrace = 60 * time.Second
	}
	if config.RetentionWindow == 0 {
		config.RetentionWindow = 10 * time.Minute
	}
	if config.Weights == nil {
		config.Weights = WeightsByCategory()
	}

	e := &Engine{
		intents:   make(map[string]*intentState),
		retired:   gocache.New(config.RetentionWindow, config.RetentionWindow),
		directory: directory,
		payments:  pay,
		emitter:   emitter,
		config:    config,
		logger:    logger,
		nowFn:     time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stop cancels all intent timers and halts background work.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })

	e.mu.RLock()
	states := make([]*intentState, 0, len(e.intents))
	for _, st := range e.intents {
		states = append(states, st)
	}
	e.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		st.cancelTimersLocked()
		st.mu.Unlock()
	}
}

// CreateIntent validates a spec, opens its escrow, registers its deadline
// timers, and announces it.
func (e *Engine) CreateIntent(ctx context.Context, spec Spec) (*Intent, error) {
	if !typePattern.MatchString(spec.Type) {
		return nil, fmt.Errorf("%w: malformed intent type %q", ErrInvalidSpec, spec.Type)
	}
	if spec.MaxBudget <= 0 {
		return nil, fmt.Errorf("%w: max budget must be positive", ErrInvalidSpec)
	}
	if spec.Category == "" {
		spec.Category = CategoryGeneral
	}
	if _, ok := e.config.Weights[spec.Category]; !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidSpec, spec.Category)
	}
	if spec.BiddingDuration == 0 {
		spec.BiddingDuration = e.config.BiddingDurationDefault
	}
	if spec.BiddingDuration < time.Second {
		return nil, fmt.Errorf("%w: bidding duration must be at least 1s", ErrInvalidSpec)
	}
	if spec.ExecutionGrace == 0 {
		spec.ExecutionGrace = e.config.ExecutionGrace
	}

	now := e.nowFn()
	in := &Intent{
		ID:                uuid.New().String(),
		Type:              spec.Type,
		Category:          spec.Category,
		ClientAddress:     spec.ClientAddress,
		Params:            spec.Params,
		MaxBudget:         spec.MaxBudget,
		MinReputation:     spec.MinReputation,
		CreatedAt:         now,
		BiddingDeadline:   now.Add(spec.BiddingDuration),
		ExecutionDeadline: now.Add(spec.BiddingDuration + spec.ExecutionGrace),
		Status:            StatusOpen,
	}

	// The budget is held up front so refunds work on every failure path.
	// A rejected payment payload means the intent is never created.
	if _, err := e.payments.CreateEscrow(ctx, payments.EscrowRequest{
		IntentID:       in.ID,
		ClientAddress:  in.ClientAddress,
		MaxBudget:      in.MaxBudget,
		PaymentPayload: spec.PaymentPayload,
	}); err != nil {
		return nil, fmt.Errorf("escrow creation failed: %w", err)
	}

	st := &intentState{
		intent:     in,
		byProvider: make(map[string]*Bid),
		tried:      make(map[string]bool),
	}

	e.mu.Lock()
	e.intents[in.ID] = st
	e.mu.Unlock()

	st.mu.Lock()
	id := in.ID
	st.biddingTimer = time.AfterFunc(in.BiddingDeadline.Sub(now), func() {
		e.CloseBidding(id)
	})
	st.execTimer = time.AfterFunc(in.ExecutionDeadline.Sub(now), func() {
		e.handleExecutionDeadline(id)
	})
	snapshot := in.clone()
	st.mu.Unlock()

	metricsIntentsCreated.Inc()
	e.logger.Info("intent created",
		zap.String("intent_id", in.ID),
		zap.String("type", in.Type),
		zap.String("category", string(in.Category)),
		zap.String("max_budget", in.MaxBudget.String()),
		zap.Time("bidding_deadline", in.BiddingDeadline),
		zap.Time("execution_deadline", in.ExecutionDeadline),
	)

	e.publish(Event{Type: EventIntentCreated, Intent: snapshot})
	return snapshot, nil
}

// SubmitBid admits a bid for an open intent, maintaining the live ranking.
func (e *Engine) SubmitBid(req BidRequest) (*Bid, error) {
	st, err := e.lookup(req.IntentID)
	if err != nil {
		return nil, err
	}

	provider, err := e.resolveProvider(req.ProviderID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	in := st.intent
	now := e.nowFn()

	if in.Status != StatusOpen || now.After(in.BiddingDeadline) {
		return nil, ErrBiddingClosed
	}
	if req.BidAmount <= 0 {
		return nil, fmt.Errorf("%w: bid amount must be positive", ErrInvalidSpec)
	}
	if req.BidAmount > in.MaxBudget {
		return nil, ErrBudgetExceeded
	}
	if provider.Status != registry.StatusOnline {
		return nil, ErrProviderOffline
	}
	if !registry.Covers(provider.Capabilities, in.Type) {
		return nil, ErrCapabilityMismatch
	}
	if in.MinReputation > 0 && provider.ReputationScore < in.MinReputation {
		return nil, ErrReputationTooLow
	}
	if _, exists := st.byProvider[provider.ID]; exists {
		return nil, ErrDuplicateBid
	}

	bid := &Bid{
		ID:              uuid.New().String(),
		IntentID:        in.ID,
		ProviderID:      provider.ID,
		ProviderAddress: provider.Address,
		BidAmount:       req.BidAmount,
		EstimatedTime:   req.EstimatedTime,
		Confidence:      req.Confidence,
		ReputationScore: provider.ReputationScore,
		QualityScore:    qualityOf(provider, req.Confidence),
		TEEAttested:     provider.TEEAttested,
		Capabilities:    append([]string(nil), provider.Capabilities...),
		SubmittedAt:     now,
		ExpiresAt:       in.ExecutionDeadline,
		Status:          BidStatusPending,
	}

	weights := e.config.Weights[in.Category]
	bid.CalculatedScore, _ = Score(bid, in, weights)

	st.bids = append(st.bids, bid)
	st.byProvider[provider.ID] = bid
	st.rerankLocked()

	metricsBidsReceived.Inc()
	e.logger.Info("bid received",
		zap.String("intent_id", in.ID),
		zap.String("bid_id", bid.ID),
		zap.String("provider_id", provider.ID),
		zap.String("amount", bid.BidAmount.String()),
		zap.Int("score", bid.CalculatedScore),
		zap.Int("rank", bid.Rank),
	)

	e.publish(Event{
		Type:          EventBidReceived,
		Intent:        in.clone(),
		Bid:           bid.clone(),
		TotalBids:     len(st.bids),
		CurrentLeader: st.bids[0].clone(),
	})

	return bid.clone(), nil
}

// CloseBidding ends the auction: invoked by the bidding timer, or explicitly
// to force-close. Firing after the intent left OPEN is a no-op.
func (e *Engine) CloseBidding(intentID string) error {
	st, err := e.lookup(intentID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	in := st.intent
	if in.Status != StatusOpen {
		return nil
	}
	in.Status = StatusBiddingClosed

	eligible := pendingBids(st.bids)
	if len(eligible) == 0 {
		e.logger.Warn("auction closed with no bids", zap.String("intent_id", in.ID))
		e.failLocked(st, ReasonNoBids)
		return nil
	}

	winner := eligible[0]
	e.assignLocked(st, winner)

	queue := eligible[1:]
	if len(queue) > e.config.FailoverDepth {
		// Runner-ups beyond the failover depth are definitively rejected.
		for _, b := range queue[e.config.FailoverDepth:] {
			b.Status = BidStatusRejected
		}
		queue = queue[:e.config.FailoverDepth]
	}
	st.failover = queue
	in.FailoverQueue = addressesOf(queue)

	metricsBidsPerIntent.Observe(float64(len(st.bids)))
	e.logger.Info("winner selected",
		zap.String("intent_id", in.ID),
		zap.String("winner_provider", winner.ProviderID),
		zap.String("bid_amount", winner.BidAmount.String()),
		zap.Int("score", winner.CalculatedScore),
		zap.Int("failover_queue", len(queue)),
	)

	e.publish(Event{
		Type:   EventWinnerSelected,
		Intent: in.clone(),
		Winner: winner.clone(),
		Bids:   cloneBids(st.bids),
	})
	return nil
}

// AcknowledgeAssignment moves an assigned intent to EXECUTING once the
// winner confirms, and is only valid for the current assignee.
func (e *Engine) AcknowledgeAssignment(intentID, providerID string) error {
	st, err := e.lookup(intentID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.intent.Status != StatusAssigned {
		return fmt.Errorf("%w: status is %s", ErrInvalidState, st.intent.Status)
	}
	if !st.isAssignee(providerID) {
		return ErrNotAssignee
	}

	st.intent.Status = StatusExecuting
	e.logger.Info("assignment acknowledged",
		zap.String("intent_id", intentID),
		zap.String("provider_id", st.assignedBid.ProviderID),
	)
	return nil
}

// ReportResult ingests the assignee's result: settles the payment, records
// the outcome, and completes the intent. A settlement failure triggers
// failover instead.
func (e *Engine) ReportResult(ctx context.Context, intentID, providerID string, data map[string]interface{}, executionTime time.Duration) (*Intent, error) {
	st, err := e.lookup(intentID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	in := st.intent
	if in.Status != StatusExecuting {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, in.Status)
	}
	if !st.isAssignee(providerID) {
		return nil, ErrNotAssignee
	}

	winner := st.assignedBid
	settlement, err := e.payments.ReleaseEscrow(ctx, in.ID, winner.ProviderAddress, winner.BidAmount)
	if err != nil {
		e.logger.Error("settlement failed, triggering failover",
			zap.String("intent_id", in.ID),
			zap.String("provider_id", winner.ProviderID),
			zap.Error(err),
		)
		// The work may have been done, but without settlement the intent is
		// not complete. The provider keeps its reputation; the next
		// candidate gets a chance.
		e.failoverLocked(st, false)
		return nil, fmt.Errorf("settlement failed: %w", err)
	}

	now := e.nowFn()
	in.Result = &Result{
		Data:          data,
		ExecutionTime: executionTime,
		TxReference:   settlement.TxReference,
		SettledAmount: settlement.Amount,
		CompletedAt:   now,
	}
	in.Status = StatusCompleted
	st.cancelTimersLocked()

	if err := e.directory.RecordJobSuccess(winner.ProviderID, executionTime, settlement.NetAmount); err != nil {
		e.logger.Warn("failed to record job success", zap.String("provider_id", winner.ProviderID), zap.Error(err))
	}

	metricsIntentsDone.WithLabelValues("completed").Inc()
	metricsAuctionSeconds.Observe(now.Sub(in.CreatedAt).Seconds())
	e.logger.Info("intent completed",
		zap.String("intent_id", in.ID),
		zap.String("provider_id", winner.ProviderID),
		zap.String("settled_amount", settlement.Amount.String()),
		zap.String("tx_reference", settlement.TxReference),
		zap.Duration("execution_time", executionTime),
	)

	snapshot := in.clone()
	bids := cloneBids(st.bids)
	e.publish(Event{Type: EventIntentCompleted, Intent: snapshot, Winner: winner.clone(), Bids: bids})
	e.publish(Event{Type: EventPaymentSettled, Intent: snapshot, Settlement: settlement})

	e.retireLocked(st)
	return snapshot, nil
}

// ReportFailure ingests an assignee failure and fails over to the next
// candidate.
func (e *Engine) ReportFailure(intentID, providerID, reason string) error {
	st, err := e.lookup(intentID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	in := st.intent
	if in.Status != StatusAssigned && in.Status != StatusExecuting {
		return fmt.Errorf("%w: status is %s", ErrInvalidState, in.Status)
	}
	if !st.isAssignee(providerID) {
		return ErrNotAssignee
	}

	e.logger.Warn("assignee reported failure",
		zap.String("intent_id", in.ID),
		zap.String("provider_id", st.assignedBid.ProviderID),
		zap.String("reason", reason),
	)
	e.failoverLocked(st, true)
	return nil
}

// handleExecutionDeadline fires when the execution deadline passes. The
// current assignee, if any, is treated as failed. Firing after a terminal
// transition is a no-op.
func (e *Engine) handleExecutionDeadline(intentID string) {
	st, err := e.lookup(intentID)
	if err != nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.intent.Status {
	case StatusAssigned, StatusExecuting:
		e.logger.Warn("execution deadline exceeded",
			zap.String("intent_id", intentID),
			zap.String("provider_id", st.assignedBid.ProviderID),
		)
		e.failoverLocked(st, true)
	case StatusOpen, StatusBiddingClosed:
		// The bidding timer should have resolved this first; treat as a
		// failed auction.
		st.intent.Status = StatusBiddingClosed
		e.failLocked(st, ReasonNoBids)
	}
}

// HandleProviderOffline withdraws the pending bids of a provider that went
// offline before acceptance.
func (e *Engine) HandleProviderOffline(providerID string) {
	e.mu.RLock()
	states := make([]*intentState, 0, len(e.intents))
	for _, st := range e.intents {
		states = append(states, st)
	}
	e.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		if st.intent.Status == StatusOpen {
			if bid, ok := st.byProvider[providerID]; ok && bid.Status == BidStatusPending {
				bid.Status = BidStatusWithdrawn
				st.rerankLocked()
				e.logger.Info("bid withdrawn, provider offline",
					zap.String("intent_id", st.intent.ID),
					zap.String("provider_id", providerID),
				)
			}
		}
		st.mu.Unlock()
	}
}

// GetIntent returns a snapshot of an intent, including retired ones still
// inside the retention window.
func (e *Engine) GetIntent(intentID string) (*Intent, error) {
	e.mu.RLock()
	st, ok := e.intents[intentID]
	e.mu.RUnlock()

	if ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.intent.clone(), nil
	}
	if v, found := e.retired.Get(intentID); found {
		return v.(*retiredIntent).intent.clone(), nil
	}
	return nil, ErrIntentNotFound
}

// BidsForIntent returns a stable snapshot of an intent's bids in rank order.
func (e *Engine) BidsForIntent(intentID string) ([]*Bid, error) {
	e.mu.RLock()
	st, ok := e.intents[intentID]
	e.mu.RUnlock()

	if ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		return cloneBids(st.bids), nil
	}
	if v, found := e.retired.Get(intentID); found {
		return cloneBids(v.(*retiredIntent).bids), nil
	}
	return nil, ErrIntentNotFound
}

// OpenIntents returns snapshots of all intents currently accepting bids.
func (e *Engine) OpenIntents() []*Intent {
	e.mu.RLock()
	states := make([]*intentState, 0, len(e.intents))
	for _, st := range e.intents {
		states = append(states, st)
	}
	e.mu.RUnlock()

	var out []*Intent
	for _, st := range states {
		st.mu.Lock()
		if st.intent.Status == StatusOpen {
			out = append(out, st.intent.clone())
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// assignLocked makes bid the current assignee.
func (e *Engine) assignLocked(st *intentState, bid *Bid) {
	bid.Status = BidStatusAccepted
	st.assignedBid = bid
	st.tried[bid.ProviderID] = true
	st.intent.AssignedProvider = bid.ProviderAddress
	st.intent.Status = StatusAssigned
}

// failoverLocked demotes the current assignee and promotes the next
// runner-up, or fails the intent when the queue is exhausted.
func (e *Engine) failoverLocked(st *intentState, recordFailure bool) {
	in := st.intent
	failed := st.assignedBid
	failed.Status = BidStatusRejected
	in.Status = StatusFailover

	if recordFailure {
		if err := e.directory.RecordJobFailure(failed.ProviderID); err != nil {
			e.logger.Warn("failed to record job failure", zap.String("provider_id", failed.ProviderID), zap.Error(err))
		}
	}

	// Pop the next untried, still-pending candidate.
	var next *Bid
	for len(st.failover) > 0 {
		candidate := st.failover[0]
		st.failover = st.failover[1:]
		if candidate.Status == BidStatusPending && !st.tried[candidate.ProviderID] {
			next = candidate
			break
		}
	}

	if next == nil {
		in.FailoverQueue = nil
		e.failLocked(st, ReasonAllProvidersFailed)
		return
	}

	e.assignLocked(st, next)
	in.FailoverQueue = addressesOf(st.failover)

	metricsFailovers.Inc()
	e.logger.Info("failover triggered",
		zap.String("intent_id", in.ID),
		zap.String("failed_provider", failed.ProviderID),
		zap.String("new_provider", next.ProviderID),
		zap.Int("remaining_failovers", len(st.failover)),
	)

	e.publish(Event{
		Type:               EventFailoverTriggered,
		Intent:             in.clone(),
		FailedProvider:     failed.ProviderAddress,
		NewProvider:        next.ProviderAddress,
		RemainingFailovers: len(st.failover),
		Bids:               cloneBids(st.bids),
	})
}

// failLocked drives the intent to FAILED, refunds the escrow, and retires
// the state.
func (e *Engine) failLocked(st *intentState, reason string) {
	in := st.intent
	in.Status = StatusFailed
	in.FailureReason = reason
	st.cancelTimersLocked()

	if err := e.payments.RefundEscrow(in.ID); err != nil {
		e.logger.Warn("escrow refund failed", zap.String("intent_id", in.ID), zap.Error(err))
	}

	metricsIntentsDone.WithLabelValues("failed").Inc()
	metricsAuctionSeconds.Observe(e.nowFn().Sub(in.CreatedAt).Seconds())
	e.logger.Warn("intent failed",
		zap.String("intent_id", in.ID),
		zap.String("reason", reason),
	)

	e.publish(Event{
		Type:   EventIntentFailed,
		Intent: in.clone(),
		Reason: reason,
		Bids:   cloneBids(st.bids),
	})

	e.retireLocked(st)
}

// retireLocked snapshots a terminal intent into the retention cache and
// schedules its removal from the active map.
func (e *Engine) retireLocked(st *intentState) {
	id := st.intent.ID
	e.retired.Set(id, &retiredIntent{
		intent: st.intent.clone(),
		bids:   cloneBids(st.bids),
	}, gocache.DefaultExpiration)

	// Removal happens outside the per-intent lock to keep ordering simple:
	// map writers take the engine lock only.
	go func() {
		e.mu.Lock()
		delete(e.intents, id)
		e.mu.Unlock()
	}()
}

func (e *Engine) lookup(intentID string) (*intentState, error) {
	e.mu.RLock()
	st, ok := e.intents[intentID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrIntentNotFound
	}
	return st, nil
}

func (e *Engine) resolveProvider(idOrAddress string) (*registry.Provider, error) {
	if p, err := e.directory.Get(idOrAddress); err == nil {
		return p, nil
	}
	p, err := e.directory.GetByAddress(idOrAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidSpec, idOrAddress)
	}
	return p, nil
}

func (e *Engine) publish(evt Event) {
	if e.emitter != nil {
		e.emitter.PublishIntentEvent(evt)
	}
}

// rerankLocked restores rank order over all bids still in play. Withdrawn
// bids sink to the bottom and carry no rank.
func (st *intentState) rerankLocked() {
	sort.SliceStable(st.bids, func(i, j int) bool {
		a, b := st.bids[i], st.bids[j]
		if (a.Status == BidStatusWithdrawn) != (b.Status == BidStatusWithdrawn) {
			return b.Status == BidStatusWithdrawn
		}
		return rankLess(a, b)
	})
	rank := 0
	for _, b := range st.bids {
		if b.Status == BidStatusWithdrawn {
			b.Rank = 0
			continue
		}
		rank++
		b.Rank = rank
	}
}

func (st *intentState) isAssignee(providerID string) bool {
	if st.assignedBid == nil {
		return false
	}
	return st.assignedBid.ProviderID == providerID || st.assignedBid.ProviderAddress == providerID
}

func (st *intentState) cancelTimersLocked() {
	if st.biddingTimer != nil {
		st.biddingTimer.Stop()
	}
	if st.execTimer != nil {
		st.execTimer.Stop()
	}
}

func pendingBids(bids []*Bid) []*Bid {
	out := make([]*Bid, 0, len(bids))
	for _, b := range bids {
		if b.Status == BidStatusPending {
			out = append(out, b)
		}
	}
	return out
}

func addressesOf(bids []*Bid) []string {
	out := make([]string, len(bids))
	for i, b := range bids {
		out[i] = b.ProviderAddress
	}
	return out
}

// qualityOf derives the quality signal from a provider's history. With no
// history the bid's own confidence stands in.
func qualityOf(p *registry.Provider, confidence float64) float64 {
	if p.TotalJobs == 0 {
		return confidence
	}
	return 100 * float64(p.SuccessfulJobs) / float64(p.TotalJobs)
}
