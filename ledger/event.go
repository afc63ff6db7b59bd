package ledger

import (
	"fmt"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/ROks-fin/Deltran-MVP-sub002/wire"
	"github.com/google/uuid"
)

// EventType mirrors the protocol states a payment moves through; the ledger
// records one event per transition.
type EventType = protocol.State

// Event is one link in a payment's append-only hash chain. PreviousEventID
// is nil only for the initiation event; BlockHeight is nil until the event is
// included in a committed block.
type Event struct {
	EventID        uuid.UUID    `json:"event_id"`
	PaymentID      uuid.UUID    `json:"payment_id"`
	Type           EventType    `json:"event_type"`
	Amount         money.Amount `json:"amount"`
	Currency       string       `json:"currency"`
	DebtorBIC      string       `json:"debtor"`
	CreditorBIC    string       `json:"creditor"`
	TimestampNanos int64        `json:"timestamp_nanos"`
	BlockHeight    *uint64      `json:"block_id,omitempty"`
	Signature      []byte       `json:"signature"`
	PreviousEvent  *uuid.UUID   `json:"previous_event_id,omitempty"`
	Metadata       string       `json:"metadata,omitempty"`
}

// NewEvent builds an unchained event for a payment transition. The caller
// appends it through the ledger, which assigns chain position and block.
func NewEvent(p *protocol.PaymentInstruction, t EventType, metadata string) *Event {
	return &Event{
		EventID:        protocol.NewID(),
		PaymentID:      p.PaymentID,
		Type:           t,
		Amount:         p.Amount,
		Currency:       p.Currency,
		DebtorBIC:      p.Debtor.BIC,
		CreditorBIC:    p.Creditor.BIC,
		TimestampNanos: time.Now().UnixNano(),
		Metadata:       metadata,
	}
}

// CanonicalBytes returns the canonical encoding hashed and signed for the
// event. Block height is excluded: inclusion is recorded after hashing.
func (ev *Event) CanonicalBytes() []byte {
	e := wire.NewEncoder()
	e.WriteUUID(ev.EventID)
	e.WriteUUID(ev.PaymentID)
	e.WriteU8(uint8(ev.Type))
	e.WriteAmount(ev.Amount)
	e.WriteString(ev.Currency)
	e.WriteString(ev.DebtorBIC)
	e.WriteString(ev.CreditorBIC)
	e.WriteI64(ev.TimestampNanos)
	e.WriteOptionUUID(ev.PreviousEvent)
	e.WriteString(ev.Metadata)
	return e.Bytes()
}

// Hash returns the SHA3-256 canonical hash of the event.
func (ev *Event) Hash() crypto.Hash {
	return crypto.HashSHA3(ev.CanonicalBytes())
}

// Sign attaches the producing node's signature over the canonical bytes.
func (ev *Event) Sign(kp *crypto.KeyPair) {
	ev.Signature = kp.Sign(ev.CanonicalBytes())
}

// VerifySignature checks the event signature under pub.
func (ev *Event) VerifySignature(pub []byte) error {
	if err := crypto.Verify(pub, ev.CanonicalBytes(), ev.Signature); err != nil {
		return ledgerError(ErrSignatureInvalid,
			fmt.Sprintf("event %s: %v", ev.EventID, err))
	}
	return nil
}

// Serialize encodes the full event including signature and block inclusion.
func (ev *Event) Serialize() []byte {
	e := wire.NewEncoder()
	e.WriteUUID(ev.EventID)
	e.WriteUUID(ev.PaymentID)
	e.WriteU8(uint8(ev.Type))
	e.WriteAmount(ev.Amount)
	e.WriteString(ev.Currency)
	e.WriteString(ev.DebtorBIC)
	e.WriteString(ev.CreditorBIC)
	e.WriteI64(ev.TimestampNanos)
	e.WriteOptionUUID(ev.PreviousEvent)
	e.WriteString(ev.Metadata)
	e.WriteBytes(ev.Signature)
	if ev.BlockHeight != nil {
		e.WriteU8(1)
		e.WriteU64(*ev.BlockHeight)
	} else {
		e.WriteU8(0)
	}
	return e.Bytes()
}

// DeserializeEvent decodes the output of Serialize.
func DeserializeEvent(b []byte) (*Event, error) {
	d := wire.NewDecoder(b)
	ev := &Event{}
	var err error
	if ev.EventID, err = d.ReadUUID(); err != nil {
		return nil, serErr(err)
	}
	if ev.PaymentID, err = d.ReadUUID(); err != nil {
		return nil, serErr(err)
	}
	typ, err := d.ReadU8()
	if err != nil {
		return nil, serErr(err)
	}
	ev.Type = EventType(typ)
	if ev.Amount, err = d.ReadAmount(); err != nil {
		return nil, serErr(err)
	}
	if ev.Currency, err = d.ReadString(); err != nil {
		return nil, serErr(err)
	}
	if ev.DebtorBIC, err = d.ReadString(); err != nil {
		return nil, serErr(err)
	}
	if ev.CreditorBIC, err = d.ReadString(); err != nil {
		return nil, serErr(err)
	}
	if ev.TimestampNanos, err = d.ReadI64(); err != nil {
		return nil, serErr(err)
	}
	if ev.PreviousEvent, err = d.ReadOptionUUID(); err != nil {
		return nil, serErr(err)
	}
	if ev.Metadata, err = d.ReadString(); err != nil {
		return nil, serErr(err)
	}
	if ev.Signature, err = d.ReadBytes(); err != nil {
		return nil, serErr(err)
	}
	present, err := d.ReadBool()
	if err != nil {
		return nil, serErr(err)
	}
	if present {
		h, err := d.ReadU64()
		if err != nil {
			return nil, serErr(err)
		}
		ev.BlockHeight = &h
	}
	if err := d.Finish(); err != nil {
		return nil, serErr(err)
	}
	return ev, nil
}

func serErr(err error) error {
	return ledgerError(ErrSerialization, err.Error())
}
