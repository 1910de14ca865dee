package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/money"
)

// scriptedFacilitator returns canned results, in order, per call.
type scriptedFacilitator struct {
	mu          sync.Mutex
	verifyValid bool
	verifyErr   error
	settleQueue []settleStep
	settleCalls int
}

type settleStep struct {
	result *SettleResult
	err    error
	block  chan struct{} // if set, Settle waits until closed
}

func (f *scriptedFacilitator) Verify(ctx context.Context, payload []byte, req PaymentRequirements) (*VerifyResult, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &VerifyResult{Valid: f.verifyValid}, nil
}

func (f *scriptedFacilitator) Settle(ctx context.Context, payload []byte, req PaymentRequirements) (*SettleResult, error) {
	f.mu.Lock()
	f.settleCalls++
	var step settleStep
	if len(f.settleQueue) > 0 {
		step = f.settleQueue[0]
		f.settleQueue = f.settleQueue[1:]
	} else {
		step = settleStep{result: &SettleResult{Success: true, TxReference: "tx-default", Status: "settled"}}
	}
	f.mu.Unlock()

	if step.block != nil {
		select {
		case <-step.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return step.result, step.err
}

func (f *scriptedFacilitator) Supported(ctx context.Context, filter SupportedFilter) ([]SupportedMethod, error) {
	return []SupportedMethod{{Scheme: "exact", Network: "test"}}, nil
}

func newTestOrchestrator(t *testing.T, fac Facilitator) *Orchestrator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FacilitatorTimeout = time.Second
	return NewOrchestrator(fac, cfg, zap.NewNop())
}

func heldEscrow(t *testing.T, o *Orchestrator, intentID string) *EscrowEntry {
	t.Helper()
	entry, err := o.CreateEscrow(context.Background(), EscrowRequest{
		IntentID:      intentID,
		ClientAddress: "0xclient",
		MaxBudget:     money.MustParse("0.020"),
	})
	require.NoError(t, err)
	return entry
}

func TestCreateEscrow(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedFacilitator{verifyValid: true})

	entry := heldEscrow(t, o, "intent-1")
	assert.Equal(t, EscrowStatusHeld, entry.Status)
	assert.Equal(t, money.MustParse("0.020"), entry.MaxBudget)

	// A second active escrow for the same intent is rejected.
	_, err := o.CreateEscrow(context.Background(), EscrowRequest{
		IntentID:      "intent-1",
		ClientAddress: "0xclient",
		MaxBudget:     money.MustParse("0.010"),
	})
	assert.ErrorIs(t, err, ErrEscrowExists)
}

func TestCreateEscrowVerifiesPayload(t *testing.T) {
	fac := &scriptedFacilitator{verifyValid: false}
	o := newTestOrchestrator(t, fac)

	_, err := o.CreateEscrow(context.Background(), EscrowRequest{
		IntentID:       "intent-1",
		ClientAddress:  "0xclient",
		MaxBudget:      money.MustParse("0.020"),
		PaymentPayload: []byte(`{"sig":"deadbeef"}`),
	})
	assert.ErrorIs(t, err, ErrVerificationFailed)

	// Rejection means no escrow was created.
	_, err = o.GetEscrow("intent-1")
	assert.ErrorIs(t, err, ErrEscrowNotFound)
}

func TestReleaseEscrowSettles(t *testing.T) {
	fac := &scriptedFacilitator{
		verifyValid: true,
		settleQueue: []settleStep{{result: &SettleResult{Success: true, TxReference: "tx-abc", Status: "settled"}}},
	}
	o := newTestOrchestrator(t, fac)
	heldEscrow(t, o, "intent-1")

	settlement, err := o.ReleaseEscrow(context.Background(), "intent-1", "0xprovider", money.MustParse("0.010"))
	require.NoError(t, err)

	assert.True(t, settlement.Success)
	assert.Equal(t, "tx-abc", settlement.TxReference)
	assert.Equal(t, money.MustParse("0.000500"), settlement.PlatformFee)
	assert.Equal(t, money.MustParse("0.009500"), settlement.NetAmount)
	assert.Equal(t, settlement.Amount, settlement.PlatformFee+settlement.NetAmount)

	entry, err := o.GetEscrow("intent-1")
	require.NoError(t, err)
	assert.Equal(t, EscrowStatusReleased, entry.Status)

	// Release after success is refused.
	_, err = o.ReleaseEscrow(context.Background(), "intent-1", "0xprovider", money.MustParse("0.010"))
	assert.Error(t, err)
}

func TestReleaseEscrowAmountBounded(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedFacilitator{verifyValid: true})
	heldEscrow(t, o, "intent-1")

	_, err := o.ReleaseEscrow(context.Background(), "intent-1", "0xprovider", money.MustParse("0.021"))
	assert.ErrorIs(t, err, ErrAmountExceedsEscrow)
}

func TestReleaseEscrowConcurrentLatch(t *testing.T) {
	gate := make(chan struct{})
	fac := &scriptedFacilitator{
		verifyValid: true,
		settleQueue: []settleStep{{
			result: &SettleResult{Success: true, TxReference: "tx-1", Status: "settled"},
			block:  gate,
		}},
	}
	o := newTestOrchestrator(t, fac)
	heldEscrow(t, o, "intent-1")

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.ReleaseEscrow(context.Background(), "intent-1", "0xprovider", money.MustParse("0.010"))
		firstDone <- err
	}()

	// Wait until the first settlement is in flight.
	require.Eventually(t, func() bool {
		fac.mu.Lock()
		defer fac.mu.Unlock()
		return fac.settleCalls == 1
	}, time.Second, 5*time.Millisecond)

	_, err := o.ReleaseEscrow(context.Background(), "intent-1", "0xprovider", money.MustParse("0.010"))
	assert.ErrorIs(t, err, ErrSettlementInProgress)

	close(gate)
	require.NoError(t, <-firstDone)
}

func TestReleaseEscrowRetriesInfraErrors(t *testing.T) {
	fac := &scriptedFacilitator{
		verifyValid: true,
		settleQueue: []settleStep{
			{err: errors.New("facilitator unreachable")},
			{err: errors.New("facilitator unreachable")},
			{result: &SettleResult{Success: true, TxReference: "tx-retry", Status: "settled"}},
		},
	}
	o := newTestOrchestrator(t, fac)
	heldEscrow(t, o, "intent-1")

	settlement, err := o.ReleaseEscrow(context.Background(), "intent-1", "0xprovider", money.MustParse("0.010"))
	require.NoError(t, err)
	assert.True(t, settlement.Success)
	assert.Equal(t, 3, fac.settleCalls)
}

func TestReleaseEscrowSettleFailureRecorded(t *testing.T) {
	fac := &scriptedFacilitator{
		verifyValid: true,
		settleQueue: []settleStep{{result: &SettleResult{Success: false, Status: "failed", Error: "insufficient allowance"}}},
	}
	o := newTestOrchestrator(t, fac)
	heldEscrow(t, o, "intent-1")

	settlement, err := o.ReleaseEscrow(context.Background(), "intent-1", "0xprovider", money.MustParse("0.010"))
	assert.ErrorIs(t, err, ErrSettlementFailed)
	require.NotNil(t, settlement)
	assert.False(t, settlement.Success)

	// Escrow stays held so a failover winner can still be paid.
	entry, err := o.GetEscrow("intent-1")
	require.NoError(t, err)
	assert.Equal(t, EscrowStatusHeld, entry.Status)

	// A later attempt for the failover provider can succeed.
	settlement, err = o.ReleaseEscrow(context.Background(), "intent-1", "0xbackup", money.MustParse("0.008"))
	require.NoError(t, err)
	assert.True(t, settlement.Success)
}

func TestRefundEscrow(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedFacilitator{verifyValid: true})
	heldEscrow(t, o, "intent-1")

	require.NoError(t, o.RefundEscrow("intent-1"))

	entry, err := o.GetEscrow("intent-1")
	require.NoError(t, err)
	assert.Equal(t, EscrowStatusRefunded, entry.Status)

	// Refund is terminal.
	assert.Error(t, o.RefundEscrow("intent-1"))
	assert.ErrorIs(t, o.RefundEscrow("missing"), ErrEscrowNotFound)

	// No settlement was recorded.
	_, err = o.GetSettlement("intent-1")
	assert.Error(t, err)
}

func TestEscrowExpirySweep(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	o := NewOrchestrator(&scriptedFacilitator{verifyValid: true}, DefaultConfig(), zap.NewNop(),
		WithNow(func() time.Time { return now }))

	_, err := o.CreateEscrow(context.Background(), EscrowRequest{
		IntentID:      "intent-1",
		ClientAddress: "0xclient",
		MaxBudget:     money.MustParse("0.020"),
		TTL:           time.Minute,
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	o.SweepNow()

	entry, err := o.GetEscrow("intent-1")
	require.NoError(t, err)
	assert.Equal(t, EscrowStatusExpired, entry.Status)
}

func TestDemoFacilitatorSettles(t *testing.T) {
	fac := NewDemoFacilitator()

	methods, err := fac.Supported(context.Background(), SupportedFilter{})
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.True(t, methods[0].Demo)

	start := time.Now()
	result, err := fac.Settle(context.Background(), nil, PaymentRequirements{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.TxReference)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestGetStats(t *testing.T) {
	fac := &scriptedFacilitator{verifyValid: true}
	o := newTestOrchestrator(t, fac)

	heldEscrow(t, o, "intent-1")
	heldEscrow(t, o, "intent-2")

	_, err := o.ReleaseEscrow(context.Background(), "intent-1", "0xprovider", money.MustParse("0.010"))
	require.NoError(t, err)
	require.NoError(t, o.RefundEscrow("intent-2"))

	stats := o.GetStats()
	assert.Equal(t, 1, stats.ReleasedEscrows)
	assert.Equal(t, 1, stats.RefundedEscrows)
	assert.Equal(t, 1, stats.Settlements)
	assert.Equal(t, money.MustParse("0.010"), stats.TotalVolume)
	assert.Equal(t, money.MustParse("0.000500"), stats.TotalFees)
}
