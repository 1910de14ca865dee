package intent

import "github.com/kaustubh76/synapse/libs/payments"

// EventType enumerates engine event variants.
type EventType string

const (
	EventIntentCreated     EventType = "intent:created"
	EventBidReceived       EventType = "bid:received"
	EventWinnerSelected    EventType = "winner:selected"
	EventFailoverTriggered EventType = "failover:triggered"
	EventIntentCompleted   EventType = "intent:completed"
	EventIntentFailed      EventType = "intent:failed"
	EventPaymentSettled    EventType = "payment:settled"
)

// Event is a typed engine lifecycle event. Fields are populated per variant;
// snapshots are safe to retain.
type Event struct {
	Type   EventType
	Intent *Intent

	// bid:received
	Bid           *Bid
	TotalBids     int
	CurrentLeader *Bid

	// winner:selected, failover:triggered, intent:completed, intent:failed
	Winner *Bid
	Bids   []*Bid

	// failover:triggered
	FailedProvider     string
	NewProvider        string
	RemainingFailovers int

	// intent:failed
	Reason string

	// payment:settled
	Settlement *payments.PaymentSettlement
}

// Emitter receives engine events. Implementations must not block; the
// engine emits from inside intent critical sections.
type Emitter interface {
	PublishIntentEvent(evt Event)
}
