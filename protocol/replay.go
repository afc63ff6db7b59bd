package protocol

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/lru"
	"github.com/google/uuid"
)

// nonceRecord tracks the highest accepted nonce for a sender and when the
// record may be forgotten.
type nonceRecord struct {
	maxNonce  uint64
	expiresAt time.Time
}

// ReplayGuard enforces monotone per-sender nonces inside the TTL window and
// remembers terminal payment outcomes so duplicate submissions are answered
// idempotently instead of re-entering the pipeline.
type ReplayGuard struct {
	mtx    sync.RWMutex
	nonces map[string]nonceRecord

	// terminal caches payment_id -> State for idempotent replays of
	// payments that already reached a terminal state.
	terminal lru.KVCache

	now func() time.Time
}

// NewReplayGuard creates a guard. terminalCacheSize bounds the idempotency
// cache; sweep scheduling belongs to the caller (the daemon runs SweepExpired
// on a timer).
func NewReplayGuard(terminalCacheSize uint32) *ReplayGuard {
	return &ReplayGuard{
		nonces:   make(map[string]nonceRecord),
		terminal: lru.NewKVCache(terminalCacheSize),
		now:      time.Now,
	}
}

// senderKey collapses a public key to the map key.
func senderKey(pub []byte) string {
	return hex.EncodeToString(pub)
}

// CheckAndRecord validates the nonce of p against the sender's recorded
// maximum and, on success, records it. A nonce less than or equal to the
// stored maximum inside the TTL window is a replay. Expired instructions are
// rejected before any nonce bookkeeping.
func (g *ReplayGuard) CheckAndRecord(p *PaymentInstruction) error {
	now := g.now()
	if p.Expired(now) {
		return ruleError(ErrTTLExpired,
			fmt.Sprintf("payment %s: ttl expired", p.PaymentID))
	}

	key := senderKey(p.SenderPublicKey)
	ttl := time.Duration(p.TTLSeconds) * time.Second

	g.mtx.Lock()
	defer g.mtx.Unlock()

	rec, ok := g.nonces[key]
	if ok && now.Before(rec.expiresAt) && p.Nonce <= rec.maxNonce {
		return ruleError(ErrReplayAttack,
			fmt.Sprintf("payment %s: nonce %d not above recorded max %d",
				p.PaymentID, p.Nonce, rec.maxNonce))
	}

	expiry := now.Add(ttl)
	if ok && rec.expiresAt.After(expiry) && now.Before(rec.expiresAt) {
		expiry = rec.expiresAt
	}
	g.nonces[key] = nonceRecord{maxNonce: p.Nonce, expiresAt: expiry}
	return nil
}

// RecordTerminal remembers the terminal state of a payment for idempotent
// duplicate handling.
func (g *ReplayGuard) RecordTerminal(paymentID uuid.UUID, s State) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.terminal.Add(paymentID, s)
}

// TerminalState returns the remembered terminal state for a payment, if any.
func (g *ReplayGuard) TerminalState(paymentID uuid.UUID) (State, bool) {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	v, ok := g.terminal.Lookup(paymentID)
	if !ok {
		return 0, false
	}
	return v.(State), true
}

// SweepExpired drops nonce records whose TTL window closed. Returns the
// number of records removed.
func (g *ReplayGuard) SweepExpired() int {
	now := g.now()
	g.mtx.Lock()
	defer g.mtx.Unlock()

	removed := 0
	for key, rec := range g.nonces {
		if !now.Before(rec.expiresAt) {
			delete(g.nonces, key)
			removed++
		}
	}
	return removed
}
