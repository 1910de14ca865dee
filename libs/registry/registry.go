// Package registry implements the capability-indexed provider directory with
// liveness tracking and reputation accounting.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/money"
)

var (
	// ErrProviderNotFound indicates no provider matches the given id or address
	ErrProviderNotFound = errors.New("provider not found")

	// ErrInvalidProviderSpec indicates a malformed registration request
	ErrInvalidProviderSpec = errors.New("invalid provider spec")
)

// Prometheus metrics
var (
	providersRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synapse_providers_registered",
		Help: "Number of registered providers",
	})

	providersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synapse_providers_online",
		Help: "Number of providers currently online",
	})

	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_provider_heartbeats_total",
		Help: "Total provider heartbeats received",
	})

	jobsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synapse_provider_jobs_recorded_total",
		Help: "Total job outcomes recorded against providers",
	}, []string{"outcome"})
)

// Status represents a provider's availability
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// Reputation adjustment parameters.
const (
	// avgResponseAlpha is the EMA smoothing factor for response times.
	avgResponseAlpha = 0.1

	// deltaSuccess is the reputation gain per successful job.
	deltaSuccess = 0.05

	// deltaFailure is the reputation loss per failed job.
	deltaFailure = 0.10

	// maxReputation bounds the reputation scale.
	maxReputation = 5.0

	// successGainWindow and successGainCap bound how fast reputation can
	// climb: at most successGainCap per rolling successGainWindow.
	successGainWindow = time.Hour
	successGainCap    = 0.25
)

// Provider is a registered counterparty that can bid on intents.
type Provider struct {
	ID              string         `json:"id"`
	Address         string         `json:"address"`
	Name            string         `json:"name"`
	Capabilities    []string       `json:"capabilities"`
	ReputationScore float64        `json:"reputation_score"`
	TotalJobs       int            `json:"total_jobs"`
	SuccessfulJobs  int            `json:"successful_jobs"`
	AvgResponseTime float64        `json:"avg_response_time_ms"`
	TotalEarnings   money.Amount   `json:"total_earnings"`
	TEEAttested     bool           `json:"tee_attested"`
	Status          Status         `json:"status"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at"`
	RegisteredAt    time.Time      `json:"registered_at"`

	// Per-window reputation gain bookkeeping.
	gainWindowStart time.Time
	gainInWindow    float64
}

// Spec describes a provider registration request.
type Spec struct {
	Address         string   `json:"address"`
	Name            string   `json:"name"`
	Capabilities    []string `json:"capabilities"`
	ReputationScore float64  `json:"reputation_score,omitempty"`
	TEEAttested     bool     `json:"tee_attested"`
}

// EventType enumerates registry event variants.
type EventType string

const (
	EventProviderOnline  EventType = "provider:online"
	EventProviderOffline EventType = "provider:offline"
	EventProviderUpdated EventType = "provider:updated"
)

// Event is a typed registry lifecycle event.
type Event struct {
	Type     EventType
	Provider *Provider
}

// Notifier receives registry events. Implementations must not block.
type Notifier interface {
	PublishProviderEvent(evt Event)
}

// Stats summarizes registry state.
type Stats struct {
	TotalProviders  int     `json:"total_providers"`
	OnlineProviders int     `json:"online_providers"`
	TotalJobs       int     `json:"total_jobs"`
	SuccessfulJobs  int     `json:"successful_jobs"`
	AvgReputation   float64 `json:"avg_reputation"`
}

// Registry manages the provider directory.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider // provider ID -> provider
	byAddress map[string]string    // address -> provider ID
	index     *capabilityIndex

	notifier Notifier
	logger   *zap.Logger
	nowFn    func() time.Time

	// Liveness sweep
	livenessWindow time.Duration
	sweepInterval  time.Duration
	sweepTicker    *time.Ticker
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// Option configures a Registry.
type Option func(*Registry)

// WithNow injects a clock source for deterministic tests.
func WithNow(nowFn func() time.Time) Option {
	return func(r *Registry) { r.nowFn = nowFn }
}

// WithLivenessWindow overrides the heartbeat liveness window.
func WithLivenessWindow(d time.Duration) Option {
	return func(r *Registry) { r.livenessWindow = d }
}

// WithSweepInterval overrides the liveness sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

// New creates a provider registry.
func New(notifier Notifier, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		providers:      make(map[string]*Provider),
		byAddress:      make(map[string]string),
		index:          newCapabilityIndex(),
		notifier:       notifier,
		logger:         logger,
		nowFn:          time.Now,
		livenessWindow: 60 * time.Second,
		sweepInterval:  15 * time.Second,
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the background liveness sweep.
func (r *Registry) Start(ctx context.Context) {
	r.sweepTicker = time.NewTicker(r.sweepInterval)
	go func() {
		for {
			select {
			case <-r.sweepTicker.C:
				r.sweepLiveness()
			case <-r.stopCh:
				r.sweepTicker.Stop()
				return
			case <-ctx.Done():
				r.sweepTicker.Stop()
				return
			}
		}
	}()
	r.logger.Info("provider registry started",
		zap.Duration("liveness_window", r.livenessWindow),
		zap.Duration("sweep_interval", r.sweepInterval),
	)
}

// Stop halts the background sweep.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Register adds a provider or, if the address is already known, returns the
// existing provider unchanged.
func (r *Registry) Register(spec Spec) (*Provider, error) {
	if spec.Address == "" {
		return nil, errors.New("provider address is required")
	}
	if len(spec.Capabilities) == 0 {
		return nil, errors.New("provider must declare at least one capability")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byAddress[spec.Address]; ok {
		return r.providers[id].clone(), nil
	}

	now := r.nowFn()
	rep := spec.ReputationScore
	if rep < 0 {
		rep = 0
	}
	if rep > maxReputation {
		rep = maxReputation
	}

	p := &Provider{
		ID:              uuid.New().String(),
		Address:         spec.Address,
		Name:            spec.Name,
		Capabilities:    append([]string(nil), spec.Capabilities...),
		ReputationScore: rep,
		TEEAttested:     spec.TEEAttested,
		Status:          StatusOnline,
		LastHeartbeatAt: now,
		RegisteredAt:    now,
		gainWindowStart: now,
	}

	r.providers[p.ID] = p
	r.byAddress[p.Address] = p.ID
	r.index.add(p.ID, p.Capabilities)

	providersRegistered.Inc()
	providersOnline.Inc()

	r.logger.Info("provider registered",
		zap.String("provider_id", p.ID),
		zap.String("address", p.Address),
		zap.String("name", p.Name),
		zap.Strings("capabilities", p.Capabilities),
		zap.Bool("tee_attested", p.TEEAttested),
	)

	return p.clone(), nil
}

// Heartbeat records a liveness signal by provider id or address. A heartbeat
// from an OFFLINE provider brings it back ONLINE and emits provider:online.
func (r *Registry) Heartbeat(idOrAddress string) error {
	r.mu.Lock()

	p := r.lookupLocked(idOrAddress)
	if p == nil {
		r.mu.Unlock()
		return ErrProviderNotFound
	}

	p.LastHeartbeatAt = r.nowFn()
	heartbeatsTotal.Inc()

	cameOnline := p.Status == StatusOffline
	if cameOnline {
		p.Status = StatusOnline
		providersOnline.Inc()
	}
	snapshot := p.clone()
	r.mu.Unlock()

	if cameOnline {
		r.logger.Info("provider back online", zap.String("provider_id", snapshot.ID))
		r.publish(Event{Type: EventProviderOnline, Provider: snapshot})
	}
	return nil
}

// Get returns a snapshot of a provider by id.
func (r *Registry) Get(id string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p.clone(), nil
}

// GetByAddress returns a snapshot of a provider by address.
func (r *Registry) GetByAddress(address string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byAddress[address]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return r.providers[id].clone(), nil
}

// All returns snapshots of every registered provider.
func (r *Registry) All() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.clone())
	}
	return out
}

// FindByCapability returns snapshots of providers whose capability set covers
// cap, either exactly or through the hierarchical root (prefix up to the
// first dot).
func (r *Registry) FindByCapability(cap string) []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.index.find(cap)
	out := make([]*Provider, 0, len(ids))
	for id := range ids {
		out = append(out, r.providers[id].clone())
	}
	return out
}

// UpdateCapabilities replaces a provider's capability set and rebuilds the
// index entries for it.
func (r *Registry) UpdateCapabilities(id string, capabilities []string) error {
	if len(capabilities) == 0 {
		return errors.New("provider must declare at least one capability")
	}

	r.mu.Lock()
	p, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return ErrProviderNotFound
	}

	r.index.remove(id, p.Capabilities)
	p.Capabilities = append([]string(nil), capabilities...)
	r.index.add(id, p.Capabilities)
	snapshot := p.clone()
	r.mu.Unlock()

	r.publish(Event{Type: EventProviderUpdated, Provider: snapshot})
	return nil
}

// RecordJobSuccess credits a completed job to a provider: job counters, the
// response-time EMA, earnings, and a capped reputation gain.
func (r *Registry) RecordJobSuccess(id string, executionTime time.Duration, earnings money.Amount) error {
	r.mu.Lock()
	p, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return ErrProviderNotFound
	}

	now := r.nowFn()
	p.TotalJobs++
	p.SuccessfulJobs++
	p.TotalEarnings += earnings

	execMs := float64(executionTime.Milliseconds())
	if p.AvgResponseTime == 0 {
		p.AvgResponseTime = execMs
	} else {
		p.AvgResponseTime = avgResponseAlpha*execMs + (1-avgResponseAlpha)*p.AvgResponseTime
	}

	// Reputation rises by deltaSuccess, limited to successGainCap per window.
	if now.Sub(p.gainWindowStart) >= successGainWindow {
		p.gainWindowStart = now
		p.gainInWindow = 0
	}
	gain := deltaSuccess
	if p.gainInWindow+gain > successGainCap {
		gain = successGainCap - p.gainInWindow
	}
	if gain > 0 {
		p.gainInWindow += gain
		p.ReputationScore += gain
		if p.ReputationScore > maxReputation {
			p.ReputationScore = maxReputation
		}
	}

	snapshot := p.clone()
	r.mu.Unlock()

	jobsRecordedTotal.WithLabelValues("success").Inc()
	r.logger.Info("job success recorded",
		zap.String("provider_id", id),
		zap.Duration("execution_time", executionTime),
		zap.String("earnings", earnings.String()),
		zap.Float64("reputation", snapshot.ReputationScore),
	)

	r.publish(Event{Type: EventProviderUpdated, Provider: snapshot})
	return nil
}

// RecordJobFailure debits a failed job from a provider's reputation.
func (r *Registry) RecordJobFailure(id string) error {
	r.mu.Lock()
	p, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return ErrProviderNotFound
	}

	p.TotalJobs++
	p.ReputationScore -= deltaFailure
	if p.ReputationScore < 0 {
		p.ReputationScore = 0
	}

	snapshot := p.clone()
	r.mu.Unlock()

	jobsRecordedTotal.WithLabelValues("failure").Inc()
	r.logger.Info("job failure recorded",
		zap.String("provider_id", id),
		zap.Float64("reputation", snapshot.ReputationScore),
	)

	r.publish(Event{Type: EventProviderUpdated, Provider: snapshot})
	return nil
}

// GetStats returns aggregate registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{TotalProviders: len(r.providers)}
	repSum := 0.0
	for _, p := range r.providers {
		if p.Status == StatusOnline {
			stats.OnlineProviders++
		}
		stats.TotalJobs += p.TotalJobs
		stats.SuccessfulJobs += p.SuccessfulJobs
		repSum += p.ReputationScore
	}
	if len(r.providers) > 0 {
		stats.AvgReputation = repSum / float64(len(r.providers))
	}
	return stats
}

// sweepLiveness marks providers whose last heartbeat is older than the
// liveness window as OFFLINE.
func (r *Registry) sweepLiveness() {
	now := r.nowFn()

	r.mu.Lock()
	var wentOffline []*Provider
	for _, p := range r.providers {
		if p.Status == StatusOnline && now.Sub(p.LastHeartbeatAt) > r.livenessWindow {
			p.Status = StatusOffline
			providersOnline.Dec()
			wentOffline = append(wentOffline, p.clone())
		}
	}
	r.mu.Unlock()

	for _, p := range wentOffline {
		r.logger.Warn("provider went offline",
			zap.String("provider_id", p.ID),
			zap.Time("last_heartbeat", p.LastHeartbeatAt),
		)
		r.publish(Event{Type: EventProviderOffline, Provider: p})
	}
}

// SweepNow runs one liveness sweep immediately. Exposed for deterministic
// tests and admin tooling.
func (r *Registry) SweepNow() {
	r.sweepLiveness()
}

func (r *Registry) lookupLocked(idOrAddress string) *Provider {
	if p, ok := r.providers[idOrAddress]; ok {
		return p
	}
	if id, ok := r.byAddress[idOrAddress]; ok {
		return r.providers[id]
	}
	return nil
}

func (r *Registry) publish(evt Event) {
	if r.notifier != nil {
		r.notifier.PublishProviderEvent(evt)
	}
}

func (p *Provider) clone() *Provider {
	cp := *p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	return &cp
}
