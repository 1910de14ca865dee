package push

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func msg(event string, p Priority) Message {
	return Message{Event: event, Priority: p}
}

func TestQueueDeliveryOrder(t *testing.T) {
	q := newPriorityQueue(10)

	q.push(msg("stats", PriorityLow))
	q.push(msg("bid:received", PriorityMedium))
	q.push(msg("winner:selected", PriorityHigh))
	q.push(msg("bid:received", PriorityMedium))

	out := q.drain(10)
	assert.Equal(t, []string{"winner:selected", "bid:received", "bid:received", "stats"},
		eventsOf(out))
}

func TestQueueFIFOWithinClass(t *testing.T) {
	q := newPriorityQueue(10)
	for i := 0; i < 5; i++ {
		q.push(msg(fmt.Sprintf("bid-%d", i), PriorityMedium))
	}

	out := q.drain(10)
	assert.Equal(t, []string{"bid-0", "bid-1", "bid-2", "bid-3", "bid-4"}, eventsOf(out))
}

// The walk-through from the backpressure scenario: threshold 4, three LOW
// queued, then one more LOW, then two HIGH.
func TestQueueBackpressureScenario(t *testing.T) {
	q := newPriorityQueue(4)

	assert.True(t, q.push(msg("stats", PriorityLow)))
	assert.True(t, q.push(msg("stats", PriorityLow)))
	assert.True(t, q.push(msg("stats", PriorityLow)))
	assert.True(t, q.push(msg("stats", PriorityLow))) // fills to capacity

	assert.True(t, q.push(msg("intent:completed", PriorityHigh))) // evicts oldest LOW
	assert.True(t, q.push(msg("intent:completed", PriorityHigh))) // evicts oldest LOW

	assert.Equal(t, int64(2), q.dropped)
	assert.Equal(t, 4, q.len())

	out := q.drain(10)
	assert.Equal(t, []string{"intent:completed", "intent:completed", "stats", "stats"},
		eventsOf(out))
}

func TestQueueDropsIncomingLowWhenFull(t *testing.T) {
	q := newPriorityQueue(2)
	q.push(msg("a", PriorityLow))
	q.push(msg("b", PriorityLow))

	assert.False(t, q.push(msg("c", PriorityLow)))
	assert.Equal(t, int64(1), q.dropped)
	assert.Equal(t, []string{"a", "b"}, eventsOf(q.drain(10)))
}

func TestQueueHighOverfillsWithoutLow(t *testing.T) {
	q := newPriorityQueue(2)

	// Fill beyond capacity with HIGH only: nothing to evict, all accepted.
	for i := 0; i < 6; i++ {
		assert.True(t, q.push(msg(fmt.Sprintf("h-%d", i), PriorityHigh)))
	}
	assert.Equal(t, 6, q.len())
	assert.Equal(t, int64(0), q.dropped)
}

func TestQueueEvictsMediumPastHardMax(t *testing.T) {
	q := newPriorityQueue(2) // hardMax = 4

	q.push(msg("m-0", PriorityMedium))
	q.push(msg("m-1", PriorityMedium))
	q.push(msg("m-2", PriorityMedium)) // over capacity, no LOW: overfill
	q.push(msg("m-3", PriorityMedium)) // reaches hardMax
	q.push(msg("h-0", PriorityHigh))   // past hardMax: oldest MEDIUM evicted

	assert.Equal(t, 4, q.len())
	assert.Equal(t, int64(1), q.dropped)
	assert.Equal(t, []string{"h-0", "m-1", "m-2", "m-3"}, eventsOf(q.drain(10)))
}

func TestQueueDrainRespectsMax(t *testing.T) {
	q := newPriorityQueue(10)
	for i := 0; i < 8; i++ {
		q.push(msg(fmt.Sprintf("e-%d", i), PriorityMedium))
	}

	first := q.drain(3)
	assert.Len(t, first, 3)
	assert.Equal(t, []string{"e-0", "e-1", "e-2"}, eventsOf(first))
	assert.Equal(t, 5, q.len())
}

func eventsOf(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Event
	}
	return out
}
