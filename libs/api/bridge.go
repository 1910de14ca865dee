package api

import (
	"strings"

	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/intent"
	"github.com/kaustubh76/synapse/libs/push"
	"github.com/kaustubh76/synapse/libs/registry"
)

// EventBridge translates typed engine and registry events into push
// envelopes, targeting the rooms each event belongs to. It is the only
// place event payload shapes are stringly-typed.
type EventBridge struct {
	hub    *push.Hub
	engine *intent.Engine
	logger *zap.Logger
}

// NewEventBridge creates the bridge. Hub and engine are bound after
// construction: the hub wants the bridge's snapshot function, and the
// engine wants the bridge as its emitter, so the three are tied together
// in steps.
func NewEventBridge(logger *zap.Logger) *EventBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBridge{logger: logger}
}

// BindHub wires the push hub in.
func (b *EventBridge) BindHub(hub *push.Hub) {
	b.hub = hub
}

// BindEngine wires the engine in.
func (b *EventBridge) BindEngine(engine *intent.Engine) {
	b.engine = engine
}

// Snapshot implements the hub's intent-room snapshot: the current intent
// plus its bids, sent as one message when a subscriber joins the room.
func (b *EventBridge) Snapshot(room string) (string, interface{}, bool) {
	if b.engine == nil || !strings.HasPrefix(room, "intent:") {
		return "", nil, false
	}
	intentID := strings.TrimPrefix(room, "intent:")

	in, err := b.engine.GetIntent(intentID)
	if err != nil {
		return "", nil, false
	}
	bids, err := b.engine.BidsForIntent(intentID)
	if err != nil {
		bids = nil
	}
	return "intent:snapshot", map[string]interface{}{
		"intent": in,
		"bids":   bids,
	}, true
}

// PublishIntentEvent implements intent.Emitter.
func (b *EventBridge) PublishIntentEvent(evt intent.Event) {
	if b.hub == nil {
		return
	}
	switch evt.Type {
	case intent.EventIntentCreated:
		b.hub.Emit(
			[]string{push.RoomProviders, push.CapabilityRoom(evt.Intent.Type), push.RoomDashboard},
			push.EventIntentCreated,
			map[string]interface{}{"intent": evt.Intent},
		)

	case intent.EventBidReceived:
		b.hub.Emit(
			[]string{push.IntentRoom(evt.Intent.ID), push.RoomDashboard},
			push.EventBidReceived,
			map[string]interface{}{
				"bid":           evt.Bid,
				"intent":        evt.Intent,
				"totalBids":     evt.TotalBids,
				"currentLeader": evt.CurrentLeader,
			},
		)

	case intent.EventWinnerSelected:
		b.hub.Emit(
			[]string{push.IntentRoom(evt.Intent.ID), push.RoomProviders, push.RoomDashboard},
			push.EventWinnerSelected,
			map[string]interface{}{
				"winner":        evt.Winner,
				"intent":        evt.Intent,
				"allBids":       evt.Bids,
				"failoverQueue": evt.Intent.FailoverQueue,
			},
		)
		// The winner also gets a direct nudge on its own connections.
		b.hub.SendToProvider(evt.Winner.ProviderID, push.EventWinnerSelected, map[string]interface{}{
			"intent": evt.Intent,
			"winner": evt.Winner,
		})

	case intent.EventFailoverTriggered:
		b.hub.Emit(
			[]string{push.IntentRoom(evt.Intent.ID), push.RoomDashboard},
			push.EventFailoverTriggered,
			map[string]interface{}{
				"intent":             evt.Intent,
				"failedProvider":     evt.FailedProvider,
				"newProvider":        evt.NewProvider,
				"remainingFailovers": evt.RemainingFailovers,
				"allBids":            evt.Bids,
			},
		)

	case intent.EventIntentCompleted:
		b.hub.Emit(
			[]string{push.IntentRoom(evt.Intent.ID), push.RoomDashboard},
			push.EventIntentCompleted,
			map[string]interface{}{
				"intent": evt.Intent,
				"bids":   evt.Bids,
				"result": evt.Intent.Result,
			},
		)

	case intent.EventIntentFailed:
		b.hub.Emit(
			[]string{push.IntentRoom(evt.Intent.ID), push.RoomDashboard},
			push.EventIntentFailed,
			map[string]interface{}{
				"intent": evt.Intent,
				"reason": evt.Reason,
				"bids":   evt.Bids,
			},
		)

	case intent.EventPaymentSettled:
		b.hub.Emit(
			[]string{push.IntentRoom(evt.Intent.ID), push.RoomDashboard},
			push.EventPaymentSettled,
			map[string]interface{}{
				"intent":               evt.Intent,
				"amount":               evt.Settlement.Amount.String(),
				"transactionReference": evt.Settlement.TxReference,
				"refundAmount":         (evt.Intent.MaxBudget - evt.Settlement.Amount).String(),
			},
		)

	default:
		b.logger.Warn("unmapped engine event", zap.String("type", string(evt.Type)))
	}
}

// PublishProviderEvent implements registry.Notifier.
func (b *EventBridge) PublishProviderEvent(evt registry.Event) {
	if b.hub == nil {
		return
	}
	payload := map[string]interface{}{
		"id":               evt.Provider.ID,
		"address":          evt.Provider.Address,
		"name":             evt.Provider.Name,
		"status":           evt.Provider.Status,
		"reputation_score": evt.Provider.ReputationScore,
		"total_jobs":       evt.Provider.TotalJobs,
		"successful_jobs":  evt.Provider.SuccessfulJobs,
	}

	switch evt.Type {
	case registry.EventProviderOnline:
		b.hub.Emit([]string{push.RoomDashboard}, push.EventProviderOnline, payload)
	case registry.EventProviderOffline:
		b.hub.Emit([]string{push.RoomDashboard}, push.EventProviderOffline, payload)
		// Pending bids from a dropped provider are withdrawn while their
		// intents are still open.
		if b.engine != nil {
			b.engine.HandleProviderOffline(evt.Provider.ID)
		}
	case registry.EventProviderUpdated:
		b.hub.Emit([]string{push.RoomDashboard}, push.EventProviderUpdated, payload)
	}
}
