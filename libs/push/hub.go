package push

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// batchSizeAlpha is the EMA smoothing factor for the average batch size stat.
const batchSizeAlpha = 0.1

// Prometheus metrics
var (
	metricsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synapse_push_connections",
		Help: "Active push subscribers",
	})

	metricsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_push_messages_sent_total",
		Help: "Total push messages delivered",
	})

	metricsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synapse_push_messages_dropped_total",
		Help: "Total push messages shed by backpressure",
	})

	metricsBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synapse_push_batch_size",
		Help:    "Messages per flush batch",
		Buckets: prometheus.LinearBuckets(1, 5, 10),
	})

	metricsFlushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synapse_push_flush_duration_seconds",
		Help:    "Duration of one hub flush pass",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

// SnapshotFunc builds the state snapshot sent when a subscriber joins an
// intent room: the wire event name and payload, or ok=false when the room
// has no snapshot.
type SnapshotFunc func(room string) (event string, payload interface{}, ok bool)

// Config tunes the hub.
type Config struct {
	// BatchInterval is the global flush cadence.
	BatchInterval time.Duration
	// MaxBatchSize caps messages drained per subscriber per flush.
	MaxBatchSize int
	// BackpressureThreshold bounds each subscriber queue.
	BackpressureThreshold int
}

// DefaultConfig returns the spec defaults.
func DefaultConfig() Config {
	return Config{
		BatchInterval:         100 * time.Millisecond,
		MaxBatchSize:          50,
		BackpressureThreshold: 100,
	}
}

// Stats is the hub's read-only statistics surface.
type Stats struct {
	TotalConnections  int64   `json:"total_connections"`
	ActiveConnections int     `json:"active_connections"`
	ProviderCount     int     `json:"provider_count"`
	DashboardCount    int     `json:"dashboard_count"`
	MessagesSent      int64   `json:"messages_sent"`
	MessagesDropped   int64   `json:"messages_dropped"`
	AvgBatchSize      float64 `json:"avg_batch_size"`
}

// Hub fans lifecycle events out to room subscribers with per-subscriber
// priority queues and batched delivery.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber          // connection ID -> subscriber
	rooms       map[string]map[string]*Subscriber // room -> connection ID -> subscriber

	config   Config
	snapshot SnapshotFunc
	logger   *zap.Logger
	nowFn    func() time.Time

	flushTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once

	// Stats
	totalConnections int64
	messagesSent     int64
	avgBatchSize     float64
}

// Option configures a Hub.
type Option func(*Hub)

// WithNow injects a clock source for deterministic tests.
func WithNow(nowFn func() time.Time) Option {
	return func(h *Hub) { h.nowFn = nowFn }
}

// WithSnapshot installs the intent-room snapshot builder.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(h *Hub) { h.snapshot = fn }
}

// NewHub creates a push hub.
func NewHub(config Config, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchInterval == 0 {
		config.BatchInterval = 100 * time.Millisecond
	}
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = 50
	}
	if config.BackpressureThreshold == 0 {
		config.BackpressureThreshold = 100
	}

	h := &Hub{
		subscribers: make(map[string]*Subscriber),
		rooms:       make(map[string]map[string]*Subscriber),
		config:      config,
		logger:      logger,
		nowFn:       time.Now,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start launches the global flush loop.
func (h *Hub) Start(ctx context.Context) {
	h.flushTicker = time.NewTicker(h.config.BatchInterval)
	go func() {
		for {
			select {
			case <-h.flushTicker.C:
				h.FlushAll()
			case <-h.stopCh:
				h.flushTicker.Stop()
				return
			case <-ctx.Done():
				h.flushTicker.Stop()
				return
			}
		}
	}()
	h.logger.Info("push hub started",
		zap.Duration("batch_interval", h.config.BatchInterval),
		zap.Int("max_batch_size", h.config.MaxBatchSize),
		zap.Int("backpressure_threshold", h.config.BackpressureThreshold),
	)
}

// Stop halts the flush loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Connect registers a new subscriber and sends the CONNECTED welcome.
func (h *Hub) Connect(connectionID string, sender Sender, isProvider bool, providerID string) *Subscriber {
	sub := newSubscriber(connectionID, sender, h.config.BackpressureThreshold, h.nowFn())
	sub.IsProvider = isProvider
	sub.ProviderID = providerID

	h.mu.Lock()
	h.subscribers[connectionID] = sub
	h.totalConnections++
	h.mu.Unlock()

	metricsConnections.Inc()
	h.logger.Info("subscriber connected",
		zap.String("connection_id", connectionID),
		zap.Bool("is_provider", isProvider),
	)

	welcome := Envelope{
		Type: EventConnected,
		Payload: map[string]interface{}{
			"connection_id": connectionID,
			"server_time":   h.nowFn().Format(time.RFC3339),
		},
		Timestamp: h.nowFn().UnixMilli(),
	}
	if err := sub.send(welcome); err != nil {
		h.logger.Warn("failed to send welcome", zap.String("connection_id", connectionID), zap.Error(err))
	}

	return sub
}

// Disconnect removes a subscriber, discarding its queue and recomputing room
// membership.
func (h *Hub) Disconnect(connectionID string) {
	h.mu.Lock()
	sub, ok := h.subscribers[connectionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subscribers, connectionID)
	for room, members := range h.rooms {
		if _, in := members[connectionID]; in {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	sub.markUnhealthy()
	_ = sub.sender.Close()

	metricsConnections.Dec()
	h.logger.Info("subscriber disconnected", zap.String("connection_id", connectionID))
}

// Subscribe joins a subscriber to a room. Joining an intent room sends the
// current intent snapshot as a single un-batched MEDIUM message.
func (h *Hub) Subscribe(connectionID, room string) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[connectionID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Subscriber)
		h.rooms[room] = members
	}
	members[connectionID] = sub
	h.mu.Unlock()

	sub.joinRoom(room)
	h.logger.Debug("subscriber joined room",
		zap.String("connection_id", connectionID),
		zap.String("room", room),
	)

	if h.snapshot != nil && strings.HasPrefix(room, "intent:") {
		if event, payload, ok := h.snapshot(room); ok {
			env := Envelope{
				Type:      event,
				Payload:   payload,
				Timestamp: h.nowFn().UnixMilli(),
			}
			if err := sub.send(env); err == nil {
				h.countSent(1)
			}
		}
	}
	return true
}

// Unsubscribe removes a subscriber from a room.
func (h *Hub) Unsubscribe(connectionID, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	sub, ok := h.subscribers[connectionID]
	h.mu.Unlock()

	if ok {
		sub.leaveRoom(room)
	}
}

// Emit enqueues an event for every subscriber of the given rooms. A
// subscriber in several of the rooms receives the message once. The enqueue
// path never blocks the producer.
func (h *Hub) Emit(rooms []string, event string, payload interface{}) {
	msg := Message{
		Event:     event,
		Payload:   payload,
		Priority:  PriorityFor(event),
		Timestamp: h.nowFn(),
	}

	h.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, room := range rooms {
		for id, sub := range h.rooms[room] {
			seen[id] = sub
		}
	}
	h.mu.RUnlock()

	for _, sub := range seen {
		if !sub.enqueue(msg) {
			metricsDropped.Inc()
		}
	}
}

// BroadcastToIntent emits into one intent's room.
func (h *Hub) BroadcastToIntent(intentID, event string, payload interface{}) {
	h.Emit([]string{IntentRoom(intentID)}, event, payload)
}

// BroadcastToCapability emits into one capability room.
func (h *Hub) BroadcastToCapability(cap, event string, payload interface{}) {
	h.Emit([]string{CapabilityRoom(cap)}, event, payload)
}

// BroadcastToProviders emits into the shared providers room.
func (h *Hub) BroadcastToProviders(event string, payload interface{}) {
	h.Emit([]string{RoomProviders}, event, payload)
}

// SendToProvider emits to the subscribers of one provider.
func (h *Hub) SendToProvider(providerID, event string, payload interface{}) {
	msg := Message{
		Event:     event,
		Payload:   payload,
		Priority:  PriorityFor(event),
		Timestamp: h.nowFn(),
	}

	h.mu.RLock()
	var targets []*Subscriber
	for _, sub := range h.subscribers {
		if sub.IsProvider && sub.ProviderID == providerID {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if !sub.enqueue(msg) {
			metricsDropped.Inc()
		}
	}
}

// FlushAll drains and delivers one batch for every healthy subscriber.
// Exposed for deterministic tests; the Start loop calls it on each tick.
func (h *Hub) FlushAll() {
	started := h.nowFn()

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.flushSubscriber(sub)
	}

	metricsFlushLatency.Observe(h.nowFn().Sub(started).Seconds())
}

// flushSubscriber drains one batch, groups same-event messages, and writes
// the envelopes.
func (h *Hub) flushSubscriber(sub *Subscriber) {
	batch := sub.drainBatch(h.config.MaxBatchSize)
	if len(batch) == 0 {
		return
	}

	metricsBatchSize.Observe(float64(len(batch)))
	h.mu.Lock()
	if h.avgBatchSize == 0 {
		h.avgBatchSize = float64(len(batch))
	} else {
		h.avgBatchSize = batchSizeAlpha*float64(len(batch)) + (1-batchSizeAlpha)*h.avgBatchSize
	}
	h.mu.Unlock()

	for _, env := range groupBatch(batch, h.nowFn()) {
		if err := sub.send(env); err != nil {
			h.logger.Warn("push delivery failed, marking subscriber unhealthy",
				zap.String("connection_id", sub.ConnectionID),
				zap.Error(err),
			)
			return
		}
	}
	h.countSent(int64(len(batch)))
}

// groupBatch collapses messages that share an event into one
// "<event>_batch" envelope, preserving delivery order by first occurrence.
func groupBatch(batch []Message, now time.Time) []Envelope {
	type group struct {
		event    string
		payloads []interface{}
	}
	var order []string
	groups := make(map[string]*group)

	for _, msg := range batch {
		g, ok := groups[msg.Event]
		if !ok {
			g = &group{event: msg.Event}
			groups[msg.Event] = g
			order = append(order, msg.Event)
		}
		g.payloads = append(g.payloads, msg.Payload)
	}

	out := make([]Envelope, 0, len(order))
	for _, event := range order {
		g := groups[event]
		if len(g.payloads) == 1 {
			out = append(out, Envelope{
				Type:      g.event,
				Payload:   g.payloads[0],
				Timestamp: now.UnixMilli(),
			})
			continue
		}
		out = append(out, Envelope{
			Type:      g.event + "_batch",
			Payload:   g.payloads,
			Count:     len(g.payloads),
			Timestamp: now.UnixMilli(),
		})
	}
	return out
}

// GetStats returns the hub's statistics snapshot.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		TotalConnections:  h.totalConnections,
		ActiveConnections: len(h.subscribers),
		MessagesSent:      h.messagesSent,
		AvgBatchSize:      h.avgBatchSize,
	}
	for _, sub := range h.subscribers {
		if sub.IsProvider {
			stats.ProviderCount++
		}
		stats.MessagesDropped += sub.DroppedCount()
	}
	if members, ok := h.rooms[RoomDashboard]; ok {
		stats.DashboardCount = len(members)
	}
	return stats
}

func (h *Hub) countSent(n int64) {
	h.mu.Lock()
	h.messagesSent += n
	h.mu.Unlock()
	metricsSent.Add(float64(n))
}
