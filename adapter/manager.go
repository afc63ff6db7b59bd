package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/corridor"
	"github.com/ROks-fin/Deltran-MVP-sub002/params"
)

// Manager routes transfer requests to adapters through the corridor
// controls: kill switch first, then circuit breaker, then the adapter call
// under a deadline. Failed sends are dead-lettered; the manager is also the
// DLQ's redelivery dispatcher.
type Manager struct {
	mtx      sync.RWMutex
	adapters map[Type]Adapter
	routes   map[string]Type // corridor id -> adapter type
	counters map[string]*counter

	breakers *corridor.BreakerSet
	switches *corridor.KillSwitches
	dlq      *corridor.DeadLetterQueue

	defaultType Type
	callTimeout time.Duration
}

type counter struct {
	total   uint64
	success uint64
	failed  uint64
}

// NewManager wires the manager to the shared corridor controls.
func NewManager(p *params.Params, breakers *corridor.BreakerSet, switches *corridor.KillSwitches, dlq *corridor.DeadLetterQueue) *Manager {
	return &Manager{
		adapters:    make(map[Type]Adapter),
		routes:      make(map[string]Type),
		counters:    make(map[string]*counter),
		breakers:    breakers,
		switches:    switches,
		dlq:         dlq,
		callTimeout: p.AdapterCallTimeout,
	}
}

// RegisterAdapter makes an adapter available for dispatch.
func (m *Manager) RegisterAdapter(a Adapter) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.adapters[a.AdapterType()] = a
	log.Infof("Registered %s adapter %q", a.AdapterType(), a.Name())
}

// RouteCorridor pins a corridor to an adapter type.
func (m *Manager) RouteCorridor(corridorID string, t Type) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.routes[corridorID] = t
}

// SetDefaultType selects the adapter used for corridors without an explicit
// route when the request itself names none.
func (m *Manager) SetDefaultType(t Type) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.defaultType = t
}

// adapterFor resolves the adapter for a request, preferring the corridor
// route over the request's own type.
func (m *Manager) adapterFor(req *TransferRequest) (Adapter, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	t := req.AdapterType
	if routed, ok := m.routes[req.CorridorID]; ok {
		t = routed
	}
	if t == "" {
		t = m.defaultType
	}
	a, ok := m.adapters[t]
	if !ok {
		return nil, fmt.Errorf("no %s adapter registered for corridor %s", t, req.CorridorID)
	}
	return a, nil
}

func (m *Manager) counterFor(corridorID string) *counter {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	c, ok := m.counters[corridorID]
	if !ok {
		c = &counter{}
		m.counters[corridorID] = c
	}
	return c
}

// Send dispatches one transfer through the corridor controls. Responses with
// StatusRejected or StatusFailed count as failures for the breaker but are
// returned to the caller, not dead-lettered: rejection is a terminal verdict,
// not an outage.
func (m *Manager) Send(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	c := m.counterFor(req.CorridorID)

	m.mtx.Lock()
	c.total++
	m.mtx.Unlock()

	if err := m.switches.Check(req.CorridorID); err != nil {
		m.recordFailure(c, req.CorridorID, false)
		return nil, err
	}

	breaker := m.breakers.Get(req.CorridorID)
	if err := breaker.Allow(); err != nil {
		m.recordFailure(c, req.CorridorID, false)
		return nil, err
	}

	a, err := m.adapterFor(req)
	if err != nil {
		m.recordFailure(c, req.CorridorID, false)
		return nil, err
	}

	resp, err := m.callWithDeadline(ctx, a, req)
	switch {
	case err != nil:
		breaker.RecordFailure()
		m.recordFailure(c, req.CorridorID, false)
		if _, dlqErr := m.dlq.Push(req.CorridorID, req.Instruction.InstructionID, req, err.Error()); dlqErr != nil {
			return nil, fmt.Errorf("%w (dead-letter also failed: %v)", err, dlqErr)
		}
		return nil, err

	case resp.Status == StatusRejected || resp.Status == StatusFailed:
		breaker.RecordFailure()
		m.recordFailure(c, req.CorridorID, false)
		return resp, nil

	default:
		breaker.RecordSuccess()
		m.mtx.Lock()
		c.success++
		m.mtx.Unlock()
		return resp, nil
	}
}

func (m *Manager) recordFailure(c *counter, corridorID string, countBreaker bool) {
	m.mtx.Lock()
	c.failed++
	m.mtx.Unlock()
	if countBreaker {
		m.breakers.Get(corridorID).RecordFailure()
	}
}

// callWithDeadline runs the adapter call in its own goroutine so the caller
// can abandon it when the deadline fires; the adapter task detaches.
func (m *Manager) callWithDeadline(ctx context.Context, a Adapter, req *TransferRequest) (*TransferResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	type result struct {
		resp *TransferResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := a.Send(req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: corridor %s instruction %s after %s",
			ErrTransferTimeout, req.CorridorID, req.Instruction.InstructionID, m.callTimeout)
	}
}

// Redeliver implements corridor.Dispatcher: DLQ entries re-enter the normal
// dispatch path with their retry count carried forward.
func (m *Manager) Redeliver(ctx context.Context, entry *corridor.DLQEntry) error {
	req, ok := entry.Request.(*TransferRequest)
	if !ok {
		return fmt.Errorf("dlq entry %s: unexpected request type %T", entry.EntryID, entry.Request)
	}
	req.RetryCount = entry.RetryCount

	resp, err := m.sendDirect(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status == StatusRejected || resp.Status == StatusFailed {
		return fmt.Errorf("redelivery rejected: %s", resp.Message)
	}
	return nil
}

// sendDirect is the dispatch path for redeliveries: corridor controls still
// apply, but a failure is returned to the DLQ scheduler instead of being
// re-dead-lettered.
func (m *Manager) sendDirect(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	if err := m.switches.Check(req.CorridorID); err != nil {
		return nil, err
	}
	breaker := m.breakers.Get(req.CorridorID)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}
	a, err := m.adapterFor(req)
	if err != nil {
		return nil, err
	}
	resp, err := m.callWithDeadline(ctx, a, req)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	if resp.Status == StatusRejected || resp.Status == StatusFailed {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
	return resp, nil
}

// CheckStatus queries the rail behind a corridor for a bank reference.
func (m *Manager) CheckStatus(corridorID, bankRef string) (*TransferResponse, error) {
	m.mtx.RLock()
	t, ok := m.routes[corridorID]
	m.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no route for corridor %s", corridorID)
	}

	m.mtx.RLock()
	a, ok := m.adapters[t]
	m.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s adapter registered", t)
	}
	return a.CheckStatus(bankRef)
}

// Health reports the boundary condition of one corridor.
func (m *Manager) Health(corridorID string) Health {
	m.mtx.RLock()
	t := m.routes[corridorID]
	c, ok := m.counters[corridorID]
	m.mtx.RUnlock()

	h := Health{
		CorridorID:       corridorID,
		AdapterType:      t,
		BreakerOpen:      m.breakers.Get(corridorID).State() == corridor.BreakerOpen,
		KillSwitchActive: m.switches.IsActive(corridorID),
		DLQSize:          m.dlq.Size(corridorID),
		LastCheck:        time.Now().UTC(),
	}
	if ok {
		m.mtx.RLock()
		h.TotalRequests = c.total
		h.SuccessfulRequests = c.success
		h.FailedRequests = c.failed
		m.mtx.RUnlock()
	}
	return h
}
