package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/corridor"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/params"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) (*Manager, *MockAdapter, *corridor.BreakerSet, *corridor.KillSwitches, *corridor.DeadLetterQueue) {
	t.Helper()
	p := &params.SimNetParams
	breakers := corridor.NewBreakerSet(p.BreakerFailureThreshold,
		p.BreakerRecoveryTimeout, p.BreakerHalfOpenProbes)
	switches := corridor.NewKillSwitches()
	dlq := corridor.NewDeadLetterQueue(p.DLQMaxSize, p.DLQMaxRetryAttempts)
	m := NewManager(p, breakers, switches, dlq)
	mock := NewMockAdapter("testbank")
	m.RegisterAdapter(mock)
	return m, mock, breakers, switches, dlq
}

func testRequest(corridorID string) *TransferRequest {
	return &TransferRequest{
		TransferID: uuid.New(),
		Instruction: &SettlementInstruction{
			InstructionID: uuid.New(),
			FromBank:      "BANKGB2L",
			ToBank:        "CHASUS33",
			Amount:        money.MustParse("100.00"),
			Currency:      "USD",
			Status:        InstructionPending,
			Priority:      PriorityNormal,
			CreatedAt:     time.Now().UTC(),
		},
		CorridorID:  corridorID,
		AdapterType: TypeMock,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestManagerSendSuccess(t *testing.T) {
	m, mock, _, _, dlq := testManager(t)

	resp, err := m.Send(context.Background(), testRequest("GBR-USA"))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, resp.Status)
	assert.NotEmpty(t, resp.BankRef)
	assert.Equal(t, 0, dlq.Size("GBR-USA"))

	// Status queries answer from the rail's reference table.
	m.RouteCorridor("GBR-USA", TypeMock)
	status, err := m.CheckStatus("GBR-USA", resp.BankRef)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, status.Status)

	require.NoError(t, mock.Complete(resp.BankRef))
	status, err = m.CheckStatus("GBR-USA", resp.BankRef)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
}

func TestManagerKillSwitchBlocks(t *testing.T) {
	m, _, _, switches, _ := testManager(t)
	switches.Activate("GBR-USA", "incident", "ops")

	_, err := m.Send(context.Background(), testRequest("GBR-USA"))
	assert.ErrorIs(t, err, corridor.ErrKillSwitchActive)
}

func TestManagerBreakerOpensAndBlocks(t *testing.T) {
	m, mock, breakers, _, dlq := testManager(t)
	mock.FailAll(&BankAPIError{Status: 503, Message: "down"})

	p := &params.SimNetParams
	for i := 0; i < p.BreakerFailureThreshold; i++ {
		_, err := m.Send(context.Background(), testRequest("GBR-USA"))
		require.Error(t, err)
	}
	assert.Equal(t, corridor.BreakerOpen, breakers.Get("GBR-USA").State())

	// Every failed send was dead-lettered; the breaker-open rejection is
	// not.
	assert.Equal(t, p.BreakerFailureThreshold, dlq.Size("GBR-USA"))
	_, err := m.Send(context.Background(), testRequest("GBR-USA"))
	assert.ErrorIs(t, err, corridor.ErrCircuitOpen)
	assert.Equal(t, p.BreakerFailureThreshold, dlq.Size("GBR-USA"))
}

func TestManagerTimeout(t *testing.T) {
	m, mock, _, _, dlq := testManager(t)
	mock.SetDelay(2 * params.SimNetParams.AdapterCallTimeout)

	_, err := m.Send(context.Background(), testRequest("GBR-USA"))
	assert.ErrorIs(t, err, ErrTransferTimeout)
	assert.Equal(t, 1, dlq.Size("GBR-USA"))
}

func TestManagerRedeliverUsesNormalPath(t *testing.T) {
	m, mock, _, _, dlq := testManager(t)
	mock.FailAll(&BankAPIError{Status: 503, Message: "down"})

	req := testRequest("GBR-USA")
	_, err := m.Send(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, 1, dlq.Size("GBR-USA"))

	// Rail recovers; redelivery succeeds through the manager.
	mock.FailAll(nil)
	for _, e := range dlq.Entries("GBR-USA") {
		e.NextRetryAt = time.Now().Add(-time.Second)
	}
	assert.Equal(t, 1, dlq.ProcessDue(context.Background(), m))
	assert.Equal(t, 0, dlq.Size("GBR-USA"))
}

func TestManagerHealth(t *testing.T) {
	m, mock, _, _, _ := testManager(t)
	m.RouteCorridor("GBR-USA", TypeMock)

	_, err := m.Send(context.Background(), testRequest("GBR-USA"))
	require.NoError(t, err)
	mock.FailAll(&BankAPIError{Status: 500, Message: "boom"})
	m.Send(context.Background(), testRequest("GBR-USA"))

	h := m.Health("GBR-USA")
	assert.Equal(t, uint64(2), h.TotalRequests)
	assert.Equal(t, uint64(1), h.SuccessfulRequests)
	assert.Equal(t, uint64(1), h.FailedRequests)
	assert.InDelta(t, 0.5, h.SuccessRate(), 1e-9)
	assert.Equal(t, 1, h.DLQSize)
}

func TestMockDuplicateDelivery(t *testing.T) {
	_, mock, _, _, _ := testManager(t)

	req := testRequest("GBR-USA")
	first, err := mock.Send(req)
	require.NoError(t, err)
	second, err := mock.Send(req)
	require.NoError(t, err)
	assert.Equal(t, first.BankRef, second.BankRef)
	assert.Len(t, mock.Sent(), 1)
}
