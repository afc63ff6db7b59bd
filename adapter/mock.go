package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockAdapter is the in-process rail used by tests and simnet. It remembers
// every accepted transfer so status queries answer from a real reference
// table, and can be scripted to fail specific instructions or every call.
type MockAdapter struct {
	mtx       sync.Mutex
	name      string
	transfers map[string]*TransferResponse // bank ref -> latest status
	sent      []*TransferRequest

	failAll   error
	failByID  map[uuid.UUID]error
	failAfter int
	failErr   error
	accepted  int
	delay     time.Duration
	seq       int
}

// NewMockAdapter creates a mock rail.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{
		name:      name,
		transfers: make(map[string]*TransferResponse),
		failByID:  make(map[uuid.UUID]error),
	}
}

// AdapterType implements Adapter.
func (a *MockAdapter) AdapterType() Type {
	return TypeMock
}

// Name implements Adapter.
func (a *MockAdapter) Name() string {
	return a.name
}

// FailAll makes every send fail with err until cleared with nil.
func (a *MockAdapter) FailAll(err error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.failAll = err
}

// FailInstruction makes sends of one instruction fail with err.
func (a *MockAdapter) FailInstruction(id uuid.UUID, err error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.failByID[id] = err
}

// FailAfter makes every send past the first n accepted transfers fail with
// err, modelling a rail outage mid-batch.
func (a *MockAdapter) FailAfter(n int, err error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.failAfter = n
	a.failErr = err
}

// SetDelay adds artificial latency to sends, for deadline tests.
func (a *MockAdapter) SetDelay(d time.Duration) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.delay = d
}

// Send implements Adapter.
func (a *MockAdapter) Send(req *TransferRequest) (*TransferResponse, error) {
	a.mtx.Lock()
	delay := a.delay
	a.mtx.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	if a.failAll != nil {
		return nil, a.failAll
	}
	if err, ok := a.failByID[req.Instruction.InstructionID]; ok {
		return nil, err
	}
	if a.failErr != nil && a.accepted >= a.failAfter {
		return nil, a.failErr
	}

	// Duplicate deliveries are answered idempotently by instruction id.
	for _, prev := range a.sent {
		if prev.Instruction.InstructionID != req.Instruction.InstructionID {
			continue
		}
		for ref, resp := range a.transfers {
			if resp.TransferID == prev.TransferID {
				return a.transfers[ref], nil
			}
		}
	}

	a.seq++
	ref := fmt.Sprintf("%s-REF-%06d", a.name, a.seq)
	resp := &TransferResponse{
		TransferID:  req.TransferID,
		Status:      StatusAccepted,
		BankRef:     ref,
		CompletedAt: time.Now().UTC(),
	}
	a.transfers[ref] = resp
	a.sent = append(a.sent, req)
	a.accepted++
	return resp, nil
}

// Complete marks an accepted transfer as completed, as a rail confirmation
// would.
func (a *MockAdapter) Complete(bankRef string) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	resp, ok := a.transfers[bankRef]
	if !ok {
		return fmt.Errorf("unknown bank ref %s", bankRef)
	}
	resp.Status = StatusCompleted
	resp.CompletedAt = time.Now().UTC()
	return nil
}

// CheckStatus implements Adapter with a genuine lookup against the
// reference table.
func (a *MockAdapter) CheckStatus(bankRef string) (*TransferResponse, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	resp, ok := a.transfers[bankRef]
	if !ok {
		return nil, fmt.Errorf("unknown bank ref %s", bankRef)
	}
	out := *resp
	return &out, nil
}

// HealthCheck implements Adapter.
func (a *MockAdapter) HealthCheck() error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.failAll != nil {
		return a.failAll
	}
	return nil
}

// Sent returns the requests the adapter accepted, in order.
func (a *MockAdapter) Sent() []*TransferRequest {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	out := make([]*TransferRequest, len(a.sent))
	copy(out, a.sent)
	return out
}
