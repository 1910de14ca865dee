package push

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memSender records delivered envelopes in memory.
type memSender struct {
	mu        sync.Mutex
	envelopes []Envelope
	failNext  bool
	closed    bool
}

func (s *memSender) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		return errors.New("transport broken")
	}
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *memSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSender) delivered() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.envelopes...)
}

func newTestHub(opts ...Option) *Hub {
	return NewHub(DefaultConfig(), zap.NewNop(), opts...)
}

func TestConnectSendsWelcome(t *testing.T) {
	hub := newTestHub()
	sender := &memSender{}

	hub.Connect("conn-1", sender, false, "")

	envs := sender.delivered()
	require.Len(t, envs, 1)
	assert.Equal(t, EventConnected, envs[0].Type)
}

func TestEmitReachesRoomMembers(t *testing.T) {
	hub := newTestHub()
	inRoom := &memSender{}
	outOfRoom := &memSender{}

	hub.Connect("in", inRoom, false, "")
	hub.Connect("out", outOfRoom, false, "")
	require.True(t, hub.Subscribe("in", RoomDashboard))

	hub.Emit([]string{RoomDashboard}, EventBidReceived, map[string]interface{}{"bid": "b1"})
	hub.FlushAll()

	assert.Len(t, inRoom.delivered(), 2)  // welcome + bid
	assert.Len(t, outOfRoom.delivered(), 1) // welcome only
	assert.Equal(t, EventBidReceived, inRoom.delivered()[1].Type)
}

func TestEmitDeliversOncePerSubscriberAcrossRooms(t *testing.T) {
	hub := newTestHub()
	sender := &memSender{}

	hub.Connect("conn", sender, false, "")
	hub.Subscribe("conn", RoomDashboard)
	hub.Subscribe("conn", RoomProviders)

	hub.Emit([]string{RoomDashboard, RoomProviders}, EventIntentCreated, nil)
	hub.FlushAll()

	assert.Len(t, sender.delivered(), 2) // welcome + one copy
}

func TestFlushOrdersByPriority(t *testing.T) {
	hub := newTestHub()
	sender := &memSender{}

	hub.Connect("conn", sender, false, "")
	hub.Subscribe("conn", RoomDashboard)

	hub.Emit([]string{RoomDashboard}, "stats:update", nil)           // LOW
	hub.Emit([]string{RoomDashboard}, EventBidReceived, nil)         // MEDIUM
	hub.Emit([]string{RoomDashboard}, EventWinnerSelected, nil)      // HIGH
	hub.FlushAll()

	envs := sender.delivered()[1:] // skip welcome
	require.Len(t, envs, 3)
	assert.Equal(t, EventWinnerSelected, envs[0].Type)
	assert.Equal(t, EventBidReceived, envs[1].Type)
	assert.Equal(t, "stats:update", envs[2].Type)
}

func TestFlushBatchesSameEvent(t *testing.T) {
	hub := newTestHub()
	sender := &memSender{}

	hub.Connect("conn", sender, false, "")
	hub.Subscribe("conn", RoomDashboard)

	for i := 0; i < 3; i++ {
		hub.Emit([]string{RoomDashboard}, EventBidReceived, map[string]interface{}{"seq": i})
	}
	hub.FlushAll()

	envs := sender.delivered()[1:]
	require.Len(t, envs, 1)
	assert.Equal(t, "bid:received_batch", envs[0].Type)
	assert.Equal(t, 3, envs[0].Count)
	payloads, ok := envs[0].Payload.([]interface{})
	require.True(t, ok)
	assert.Len(t, payloads, 3)
}

func TestHighNeverDroppedUnderBackpressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackpressureThreshold = 4
	hub := NewHub(cfg, zap.NewNop())
	sender := &memSender{}

	sub := hub.Connect("conn", sender, false, "")
	hub.Subscribe("conn", RoomDashboard)

	for i := 0; i < 3; i++ {
		hub.Emit([]string{RoomDashboard}, "stats:update", nil)
	}
	hub.Emit([]string{RoomDashboard}, "stats:update", nil)
	hub.Emit([]string{RoomDashboard}, EventIntentCompleted, nil)
	hub.Emit([]string{RoomDashboard}, EventIntentCompleted, nil)

	assert.Equal(t, 2, sub.Pending(PriorityHigh))
	assert.Equal(t, int64(2), sub.DroppedCount())

	hub.FlushAll()
	envs := sender.delivered()[1:]
	// HIGH batch first, then the surviving LOW batch.
	require.Len(t, envs, 2)
	assert.Equal(t, "intent:completed_batch", envs[0].Type)
	assert.Equal(t, "stats:update_batch", envs[1].Type)
	assert.Equal(t, 2, envs[0].Count)
}

func TestTransportErrorMarksUnhealthy(t *testing.T) {
	hub := newTestHub()
	sender := &memSender{}

	sub := hub.Connect("conn", sender, false, "")
	hub.Subscribe("conn", RoomDashboard)

	sender.mu.Lock()
	sender.failNext = true
	sender.mu.Unlock()

	hub.Emit([]string{RoomDashboard}, EventWinnerSelected, nil)
	hub.FlushAll()

	assert.False(t, sub.Healthy())

	// Unhealthy subscribers are skipped by later flushes.
	hub.Emit([]string{RoomDashboard}, EventWinnerSelected, nil)
	hub.FlushAll()
	assert.Len(t, sender.delivered(), 1) // welcome only
}

func TestSnapshotOnIntentRoomJoin(t *testing.T) {
	hub := newTestHub(WithSnapshot(func(room string) (string, interface{}, bool) {
		if room == "intent:abc" {
			return EventIntentUpdated, map[string]interface{}{"intent": "abc"}, true
		}
		return "", nil, false
	}))
	sender := &memSender{}

	hub.Connect("conn", sender, false, "")
	hub.Subscribe("conn", "intent:abc")

	envs := sender.delivered()
	require.Len(t, envs, 2)
	assert.Equal(t, EventIntentUpdated, envs[1].Type)

	// Non-intent rooms never trigger snapshots.
	hub.Subscribe("conn", RoomDashboard)
	assert.Len(t, sender.delivered(), 2)
}

func TestDisconnectRecomputesRooms(t *testing.T) {
	hub := newTestHub()
	sender := &memSender{}

	hub.Connect("conn", sender, true, "prov-1")
	hub.Subscribe("conn", RoomProviders)
	hub.Disconnect("conn")

	assert.True(t, sender.closed)
	hub.Emit([]string{RoomProviders}, EventIntentCreated, nil)
	hub.FlushAll()
	assert.Len(t, sender.delivered(), 1) // welcome only

	stats := hub.GetStats()
	assert.Equal(t, 0, stats.ActiveConnections)
	assert.Equal(t, int64(1), stats.TotalConnections)
}

func TestSendToProvider(t *testing.T) {
	hub := newTestHub()
	provider := &memSender{}
	other := &memSender{}

	hub.Connect("p1", provider, true, "prov-1")
	hub.Connect("p2", other, true, "prov-2")

	hub.SendToProvider("prov-1", EventWinnerSelected, map[string]interface{}{"intent": "i1"})
	hub.FlushAll()

	assert.Len(t, provider.delivered(), 2)
	assert.Len(t, other.delivered(), 1)
}

func TestGetStats(t *testing.T) {
	hub := newTestHub()
	dash := &memSender{}
	prov := &memSender{}

	hub.Connect("d", dash, false, "")
	hub.Connect("p", prov, true, "prov-1")
	hub.Subscribe("d", RoomDashboard)

	hub.Emit([]string{RoomDashboard}, EventBidReceived, nil)
	hub.FlushAll()

	stats := hub.GetStats()
	assert.Equal(t, 2, stats.ActiveConnections)
	assert.Equal(t, 1, stats.ProviderCount)
	assert.Equal(t, 1, stats.DashboardCount)
	// welcome messages are direct sends; only the flushed bid counts here.
	assert.GreaterOrEqual(t, stats.MessagesSent, int64(1))
	assert.Greater(t, stats.AvgBatchSize, 0.0)
}
