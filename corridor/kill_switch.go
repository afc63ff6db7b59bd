package corridor

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrKillSwitchActive is returned for every dispatch on a halted corridor,
// regardless of circuit-breaker state.
var ErrKillSwitchActive = errors.New("kill switch active")

// KillSwitchStatus describes one corridor's administrative halt flag.
type KillSwitchStatus struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	ActivatedBy string    `json:"activated_by,omitempty"`
}

// AuditEntry records one kill-switch toggle.
type AuditEntry struct {
	CorridorID string    `json:"corridor_id"`
	Activated  bool      `json:"activated"`
	Reason     string    `json:"reason,omitempty"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}

// KillSwitches is the per-corridor halt table. Activation is idempotent and
// every toggle is audit-logged.
type KillSwitches struct {
	mtx      sync.RWMutex
	switches map[string]KillSwitchStatus
	audit    []AuditEntry
}

// NewKillSwitches creates an empty kill-switch table.
func NewKillSwitches() *KillSwitches {
	return &KillSwitches{switches: make(map[string]KillSwitchStatus)}
}

// Activate halts a corridor. Repeated activation leaves the original
// activation record in place but still audits the attempt.
func (k *KillSwitches) Activate(corridorID, reason, activatedBy string) {
	k.mtx.Lock()
	defer k.mtx.Unlock()

	entry := AuditEntry{
		CorridorID: corridorID,
		Activated:  true,
		Reason:     reason,
		Actor:      activatedBy,
		At:         time.Now().UTC(),
	}
	k.audit = append(k.audit, entry)

	if cur, ok := k.switches[corridorID]; ok && cur.Active {
		return
	}
	k.switches[corridorID] = KillSwitchStatus{
		Active:      true,
		Reason:      reason,
		ActivatedAt: entry.At,
		ActivatedBy: activatedBy,
	}
	log.Warnf("Kill switch ACTIVATED for corridor %s by %s: %s",
		corridorID, activatedBy, reason)
}

// Deactivate clears a corridor's halt flag.
func (k *KillSwitches) Deactivate(corridorID, deactivatedBy string) {
	k.mtx.Lock()
	defer k.mtx.Unlock()

	k.audit = append(k.audit, AuditEntry{
		CorridorID: corridorID,
		Activated:  false,
		Actor:      deactivatedBy,
		At:         time.Now().UTC(),
	})
	k.switches[corridorID] = KillSwitchStatus{}
	log.Infof("Kill switch deactivated for corridor %s by %s", corridorID, deactivatedBy)
}

// Check returns ErrKillSwitchActive when the corridor is halted.
func (k *KillSwitches) Check(corridorID string) error {
	k.mtx.RLock()
	defer k.mtx.RUnlock()
	if s, ok := k.switches[corridorID]; ok && s.Active {
		return fmt.Errorf("%w: corridor %s: %s", ErrKillSwitchActive, corridorID, s.Reason)
	}
	return nil
}

// IsActive reports whether a corridor is halted.
func (k *KillSwitches) IsActive(corridorID string) bool {
	return k.Check(corridorID) != nil
}

// Status returns the corridor's switch status.
func (k *KillSwitches) Status(corridorID string) KillSwitchStatus {
	k.mtx.RLock()
	defer k.mtx.RUnlock()
	return k.switches[corridorID]
}

// ActiveCorridors lists every halted corridor id.
func (k *KillSwitches) ActiveCorridors() []string {
	k.mtx.RLock()
	defer k.mtx.RUnlock()
	var out []string
	for id, s := range k.switches {
		if s.Active {
			out = append(out, id)
		}
	}
	return out
}

// AuditLog returns a copy of the toggle history.
func (k *KillSwitches) AuditLog() []AuditEntry {
	k.mtx.RLock()
	defer k.mtx.RUnlock()
	out := make([]AuditEntry, len(k.audit))
	copy(out, k.audit)
	return out
}
