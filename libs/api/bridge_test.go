package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/intent"
	"github.com/kaustubh76/synapse/libs/money"
	"github.com/kaustubh76/synapse/libs/payments"
	"github.com/kaustubh76/synapse/libs/push"
	"github.com/kaustubh76/synapse/libs/registry"
)

// captureSender records envelopes delivered to one subscriber.
type captureSender struct {
	mu        sync.Mutex
	envelopes []push.Envelope
}

func (s *captureSender) Send(env push.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *captureSender) Close() error { return nil }

func (s *captureSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.envelopes))
	for i, env := range s.envelopes {
		out[i] = env.Type
	}
	return out
}

// wiredFixture assembles hub + bridge + registry + engine the way main does.
type wiredFixture struct {
	hub    *push.Hub
	bridge *EventBridge
	reg    *registry.Registry
	engine *intent.Engine
}

func newWiredFixture(t *testing.T) *wiredFixture {
	t.Helper()

	bridge := NewEventBridge(zap.NewNop())
	hub := push.NewHub(push.DefaultConfig(), zap.NewNop(), push.WithSnapshot(bridge.Snapshot))
	bridge.BindHub(hub)

	reg := registry.New(bridge, zap.NewNop())

	orchestrator := payments.NewOrchestrator(payments.NewDemoFacilitator(), payments.DefaultConfig(), zap.NewNop())
	engine := intent.NewEngine(reg, orchestrator, bridge, intent.DefaultConfig(), zap.NewNop())
	bridge.BindEngine(engine)
	t.Cleanup(engine.Stop)

	return &wiredFixture{hub: hub, bridge: bridge, reg: reg, engine: engine}
}

func TestIntentLifecycleEventStreamOrdered(t *testing.T) {
	f := newWiredFixture(t)

	_, err := f.reg.Register(registry.Spec{
		Address: "0xp1", Name: "p1", Capabilities: []string{"weather.current"}, ReputationScore: 4.5, TEEAttested: true,
	})
	require.NoError(t, err)

	// A dashboard subscriber watches everything.
	dash := &captureSender{}
	f.hub.Connect("dash", dash, false, "")
	f.hub.Subscribe("dash", push.RoomDashboard)

	in, err := f.engine.CreateIntent(context.Background(), intent.Spec{
		Type:            "weather.current",
		ClientAddress:   "0xclient",
		MaxBudget:       money.MustParse("0.020"),
		BiddingDuration: 3 * time.Second,
	})
	require.NoError(t, err)

	// An intent-room subscriber joins after creation and gets the snapshot.
	watcher := &captureSender{}
	f.hub.Connect("watcher", watcher, false, "")
	f.hub.Subscribe("watcher", push.IntentRoom(in.ID))

	snapTypes := watcher.types()
	require.Len(t, snapTypes, 2)
	assert.Equal(t, "CONNECTED", snapTypes[0])
	assert.Equal(t, "intent:snapshot", snapTypes[1])

	provider, err := f.reg.GetByAddress("0xp1")
	require.NoError(t, err)

	_, err = f.engine.SubmitBid(intent.BidRequest{
		IntentID:      in.ID,
		ProviderID:    provider.ID,
		BidAmount:     money.MustParse("0.010"),
		EstimatedTime: 500 * time.Millisecond,
		Confidence:    90,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.CloseBidding(in.ID))
	require.NoError(t, f.engine.AcknowledgeAssignment(in.ID, provider.ID))
	_, err = f.engine.ReportResult(context.Background(), in.ID, provider.ID,
		map[string]interface{}{"temp": 22}, 400*time.Millisecond)
	require.NoError(t, err)

	f.hub.FlushAll()

	// The watcher observes the lifecycle HIGH first, submission order within
	// each priority class.
	got := watcher.types()[2:]
	assert.Equal(t, []string{
		"winner:selected",
		"intent:completed",
		"bid:received",
		"payment:settled",
	}, got)

	// Dashboard saw the full stream including intent:created.
	assert.Contains(t, dash.types(), "intent:created")
}

func TestProviderEventsReachDashboard(t *testing.T) {
	f := newWiredFixture(t)

	dash := &captureSender{}
	f.hub.Connect("dash", dash, false, "")
	f.hub.Subscribe("dash", push.RoomDashboard)

	_, err := f.reg.Register(registry.Spec{Address: "0xp1", Capabilities: []string{"x"}})
	require.NoError(t, err)
	require.NoError(t, f.reg.Heartbeat("0xp1"))

	p, err := f.reg.GetByAddress("0xp1")
	require.NoError(t, err)
	require.NoError(t, f.reg.RecordJobFailure(p.ID))

	f.hub.FlushAll()
	assert.Contains(t, dash.types(), "provider:updated")
}

func TestProviderOfflineWithdrawsBids(t *testing.T) {
	f := newWiredFixture(t)

	p, err := f.reg.Register(registry.Spec{Address: "0xp1", Capabilities: []string{"weather.current"}})
	require.NoError(t, err)

	in, err := f.engine.CreateIntent(context.Background(), intent.Spec{
		Type:            "weather.current",
		ClientAddress:   "0xclient",
		MaxBudget:       money.MustParse("0.020"),
		BiddingDuration: 3 * time.Second,
	})
	require.NoError(t, err)

	_, err = f.engine.SubmitBid(intent.BidRequest{
		IntentID:   in.ID,
		ProviderID: p.ID,
		BidAmount:  money.MustParse("0.010"),
		Confidence: 50,
	})
	require.NoError(t, err)

	// The liveness path notifies the bridge, which withdraws the bid.
	f.bridge.PublishProviderEvent(registry.Event{Type: registry.EventProviderOffline, Provider: p})

	bids, err := f.engine.BidsForIntent(in.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, intent.BidStatusWithdrawn, bids[0].Status)
}
