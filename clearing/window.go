package clearing

import (
	"fmt"
	"sync"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// WindowStatus is a clearing window lifecycle stage.
type WindowStatus string

const (
	// WindowScheduled exists but is not yet accepting obligations.
	WindowScheduled WindowStatus = "Scheduled"

	// WindowOpen admits obligations.
	WindowOpen WindowStatus = "Open"

	// WindowClosing runs the grace period; in-flight obligations still
	// land, new ones are rejected.
	WindowClosing WindowStatus = "Closing"

	// WindowClosed no longer admits anything; processing may begin.
	WindowClosed WindowStatus = "Closed"

	// WindowProcessing is collecting and netting obligations.
	WindowProcessing WindowStatus = "Processing"

	// WindowSettling is dispatching settlement instructions.
	WindowSettling WindowStatus = "Settling"

	// WindowCompleted finished successfully.
	WindowCompleted WindowStatus = "Completed"

	// WindowFailed hit a failure; rollback is running or pending.
	WindowFailed WindowStatus = "Failed"

	// WindowRolledBack is the terminal state after the reverse walk.
	WindowRolledBack WindowStatus = "RolledBack"
)

// ObligationStatus tracks one obligation inside a window.
type ObligationStatus string

const (
	// ObligationPending awaits netting.
	ObligationPending ObligationStatus = "Pending"

	// ObligationNetted is folded into a net position.
	ObligationNetted ObligationStatus = "Netted"

	// ObligationSettled is discharged by a completed settlement.
	ObligationSettled ObligationStatus = "Settled"

	// ObligationFailed could not be settled.
	ObligationFailed ObligationStatus = "Failed"

	// ObligationCancelled was withdrawn before netting.
	ObligationCancelled ObligationStatus = "Cancelled"
)

// Obligation is a debt owed by one bank to another within a window.
type Obligation struct {
	ObligationID uuid.UUID        `json:"obligation_id"`
	WindowID     int64            `json:"window_id"`
	PaymentID    uuid.UUID        `json:"payment_id"`
	DebtorBank   string           `json:"debtor_bank"`
	CreditorBank string           `json:"creditor_bank"`
	Currency     string           `json:"currency"`
	Amount       money.Amount     `json:"amount"`
	Status       ObligationStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

// WindowMetrics carries the netting outcome attached to a window.
type WindowMetrics struct {
	ObligationCount  int          `json:"obligation_count"`
	GrossAmount      money.Amount `json:"gross_amount"`
	NetAmount        money.Amount `json:"net_amount"`
	Efficiency       float64      `json:"efficiency"`
	LowEfficiency    bool         `json:"low_efficiency"`
	CyclesEliminated int          `json:"cycles_eliminated"`
	TransferCount    int          `json:"transfer_count"`
}

// Window is a bounded interval during which obligations are collected and
// then cleared as a batch. At most one window per region is Open at a time.
type Window struct {
	WindowID    int64         `json:"window_id"`
	Region      string        `json:"region"`
	Start       time.Time     `json:"start"`
	Cutoff      time.Time     `json:"cutoff"`
	End         time.Time     `json:"end"`
	GracePeriod time.Duration `json:"grace_period"`
	Status      WindowStatus  `json:"status"`
	Metrics     WindowMetrics `json:"metrics"`

	LockHolder string    `json:"lock_holder,omitempty"`
	LockExpiry time.Time `json:"lock_expiry,omitempty"`

	obligations []*Obligation
}

// Obligations returns the window's obligations in arrival order.
func (w *Window) Obligations() []*Obligation {
	out := make([]*Obligation, len(w.obligations))
	copy(out, w.obligations)
	return out
}

// Windows owns every clearing window and enforces the one-Open-per-region
// invariant and time-bounded exclusive window locks.
type Windows struct {
	mtx          sync.Mutex
	windows      map[int64]*Window
	openByRegion map[string]int64
	nextID       int64
	gracePeriod  time.Duration
	lockTTL      time.Duration

	now func() time.Time
}

// NewWindows creates the window table.
func NewWindows(gracePeriod, lockTTL time.Duration) *Windows {
	return &Windows{
		windows:      make(map[int64]*Window),
		openByRegion: make(map[string]int64),
		gracePeriod:  gracePeriod,
		lockTTL:      lockTTL,
		now:          time.Now,
	}
}

// Open creates and opens the next window for a region. Fails while another
// window is Open there.
func (ws *Windows) Open(region string, duration time.Duration) (*Window, error) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	if openID, ok := ws.openByRegion[region]; ok {
		return nil, clearingError(ErrWindowLocked,
			fmt.Sprintf("region %s already has open window %d", region, openID))
	}

	ws.nextID++
	now := ws.now().UTC()
	w := &Window{
		WindowID:    ws.nextID,
		Region:      region,
		Start:       now,
		Cutoff:      now.Add(duration),
		End:         now.Add(duration).Add(ws.gracePeriod),
		GracePeriod: ws.gracePeriod,
		Status:      WindowOpen,
	}
	ws.windows[w.WindowID] = w
	ws.openByRegion[region] = w.WindowID

	log.Infof("Opened clearing window %d for region %s (cutoff %s)",
		w.WindowID, region, w.Cutoff.Format(time.RFC3339))
	return w, nil
}

// Get returns a window by id.
func (ws *Windows) Get(windowID int64) (*Window, error) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()
	w, ok := ws.windows[windowID]
	if !ok {
		return nil, clearingError(ErrWindowNotFound, fmt.Sprintf("window %d not found", windowID))
	}
	return w, nil
}

// CurrentOpen returns the region's Open window, if any.
func (ws *Windows) CurrentOpen(region string) (*Window, bool) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()
	id, ok := ws.openByRegion[region]
	if !ok {
		return nil, false
	}
	return ws.windows[id], true
}

// AddObligation books an obligation into a window. Open windows accept;
// Closing windows accept only obligations flagged in-flight; everything else
// rejects with WindowClosed.
func (ws *Windows) AddObligation(windowID int64, paymentID uuid.UUID, debtor, creditor, currency string, amount money.Amount, inFlight bool) (*Obligation, error) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	w, ok := ws.windows[windowID]
	if !ok {
		return nil, clearingError(ErrWindowNotFound, fmt.Sprintf("window %d not found", windowID))
	}

	switch w.Status {
	case WindowOpen:
	case WindowClosing:
		if !inFlight {
			return nil, clearingError(ErrWindowClosed,
				fmt.Sprintf("window %d closing; new obligations rejected", windowID))
		}
	default:
		return nil, clearingError(ErrWindowClosed,
			fmt.Sprintf("window %d is %s", windowID, w.Status))
	}

	ob := &Obligation{
		ObligationID: protocol.NewID(),
		WindowID:     windowID,
		PaymentID:    paymentID,
		DebtorBank:   debtor,
		CreditorBank: creditor,
		Currency:     currency,
		Amount:       amount,
		Status:       ObligationPending,
		CreatedAt:    ws.now().UTC(),
	}
	w.obligations = append(w.obligations, ob)
	return ob, nil
}

// SetStatus moves a window to a new status. Opening and closing bookkeeping
// for the region index happens here.
func (ws *Windows) SetStatus(windowID int64, status WindowStatus) error {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	w, ok := ws.windows[windowID]
	if !ok {
		return clearingError(ErrWindowNotFound, fmt.Sprintf("window %d not found", windowID))
	}

	prev := w.Status
	w.Status = status

	switch status {
	case WindowOpen:
		ws.openByRegion[w.Region] = w.WindowID
	default:
		if prev == WindowOpen || prev == WindowClosing {
			if ws.openByRegion[w.Region] == w.WindowID && status != WindowClosing {
				delete(ws.openByRegion, w.Region)
			}
		}
	}
	if status == WindowClosing {
		// Closing still owns the region slot so no new window opens
		// during the grace period.
		ws.openByRegion[w.Region] = w.WindowID
	}

	log.Debugf("Window %d: %s -> %s", windowID, prev, status)
	return nil
}

// AcquireLock takes the window's exclusive processing lock. An expired lock
// is silently reclaimed.
func (ws *Windows) AcquireLock(windowID int64, holder string) error {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	w, ok := ws.windows[windowID]
	if !ok {
		return clearingError(ErrWindowNotFound, fmt.Sprintf("window %d not found", windowID))
	}

	now := ws.now()
	if w.LockHolder != "" && w.LockHolder != holder && now.Before(w.LockExpiry) {
		return clearingError(ErrWindowLocked,
			fmt.Sprintf("window %d locked by %s until %s", windowID, w.LockHolder, w.LockExpiry))
	}
	w.LockHolder = holder
	w.LockExpiry = now.Add(ws.lockTTL)
	return nil
}

// ReleaseLock drops the window lock if held by holder.
func (ws *Windows) ReleaseLock(windowID int64, holder string) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()
	if w, ok := ws.windows[windowID]; ok && w.LockHolder == holder {
		w.LockHolder = ""
		w.LockExpiry = time.Time{}
	}
}

// SetMetrics attaches netting metrics to a window.
func (ws *Windows) SetMetrics(windowID int64, m WindowMetrics) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()
	if w, ok := ws.windows[windowID]; ok {
		w.Metrics = m
	}
}
