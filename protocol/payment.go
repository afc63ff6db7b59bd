package protocol

import (
	"fmt"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/wire"
	"github.com/google/uuid"
)

// NewID produces a time-ordered UUIDv7 for internal identifiers.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does, in which case
		// nothing downstream can sign or settle either.
		panic(fmt.Sprintf("uuidv7 generation failed: %v", err))
	}
	return id
}

// Party identifies one side of a payment by its institution and account.
type Party struct {
	BIC     string `json:"bic"`
	Account string `json:"account"`
	Name    string `json:"name"`
}

func (p Party) encode(e *wire.Encoder) {
	e.WriteString(p.BIC)
	e.WriteString(p.Account)
	e.WriteString(p.Name)
}

func decodeParty(d *wire.Decoder) (Party, error) {
	var p Party
	var err error
	if p.BIC, err = d.ReadString(); err != nil {
		return p, err
	}
	if p.Account, err = d.ReadString(); err != nil {
		return p, err
	}
	p.Name, err = d.ReadString()
	return p, err
}

// EligibilityToken is a bank-issued signed assertion that an amount is
// reservable on an account until the expiry instant. Every payment carries a
// debit token from the debtor bank and a credit token from the creditor bank.
type EligibilityToken struct {
	TokenID         uuid.UUID    `json:"token_id"`
	BankBIC         string       `json:"bank_bic"`
	Account         string       `json:"account"`
	Amount          money.Amount `json:"amount"`
	Currency        string       `json:"currency"`
	ExpiresAt       time.Time    `json:"expires_at"`
	IssuerPublicKey []byte       `json:"issuer_public_key"`
	Signature       []byte       `json:"signature"`
}

// SigningBytes returns the canonical bytes the issuing bank signs.
func (t *EligibilityToken) SigningBytes() []byte {
	e := wire.NewEncoder()
	t.encodeCore(e)
	return e.Bytes()
}

func (t *EligibilityToken) encodeCore(e *wire.Encoder) {
	e.WriteUUID(t.TokenID)
	e.WriteString(t.BankBIC)
	e.WriteString(t.Account)
	e.WriteAmount(t.Amount)
	e.WriteString(t.Currency)
	e.WriteI64(t.ExpiresAt.UnixNano())
}

func (t *EligibilityToken) encode(e *wire.Encoder) {
	t.encodeCore(e)
	e.WriteBytes(t.IssuerPublicKey)
	e.WriteBytes(t.Signature)
}

func decodeEligibilityToken(d *wire.Decoder) (EligibilityToken, error) {
	var t EligibilityToken
	var err error
	if t.TokenID, err = d.ReadUUID(); err != nil {
		return t, err
	}
	if t.BankBIC, err = d.ReadString(); err != nil {
		return t, err
	}
	if t.Account, err = d.ReadString(); err != nil {
		return t, err
	}
	if t.Amount, err = d.ReadAmount(); err != nil {
		return t, err
	}
	if t.Currency, err = d.ReadString(); err != nil {
		return t, err
	}
	nanos, err := d.ReadI64()
	if err != nil {
		return t, err
	}
	t.ExpiresAt = time.Unix(0, nanos).UTC()
	if t.IssuerPublicKey, err = d.ReadBytes(); err != nil {
		return t, err
	}
	t.Signature, err = d.ReadBytes()
	return t, err
}

// Check validates the token against the instruction it covers: issuer
// signature, amount coverage, currency match and expiry.
func (t *EligibilityToken) Check(amount money.Amount, currency string, now time.Time) error {
	if err := crypto.Verify(t.IssuerPublicKey, t.SigningBytes(), t.Signature); err != nil {
		return ruleError(ErrEligibilityInvalid,
			fmt.Sprintf("token %s: issuer signature invalid", t.TokenID))
	}
	if t.Amount.LessThan(amount) {
		return ruleError(ErrEligibilityInvalid,
			fmt.Sprintf("token %s covers %s but instruction needs %s",
				t.TokenID, t.Amount, amount))
	}
	if t.Currency != currency {
		return ruleError(ErrEligibilityInvalid,
			fmt.Sprintf("token %s currency %s, instruction currency %s",
				t.TokenID, t.Currency, currency))
	}
	if !t.ExpiresAt.After(now) {
		return ruleError(ErrEligibilityInvalid,
			fmt.Sprintf("token %s expired at %s", t.TokenID, t.ExpiresAt))
	}
	return nil
}

// PaymentInstruction is a single bank-submitted payment order. Amount is
// normalized to two fractional digits externally; internal arithmetic keeps
// eight.
type PaymentInstruction struct {
	PaymentID       uuid.UUID        `json:"payment_id"`
	UETR            uuid.UUID        `json:"uetr"`
	Debtor          Party            `json:"debtor"`
	Creditor        Party            `json:"creditor"`
	Amount          money.Amount     `json:"amount"`
	Currency        string           `json:"currency"`
	Purpose         string           `json:"purpose"`
	SenderPublicKey []byte           `json:"sender_public_key"`
	SenderSignature []byte           `json:"sender_signature"`
	Timestamp       time.Time        `json:"timestamp"`
	Nonce           uint64           `json:"nonce"`
	TTLSeconds      uint32           `json:"ttl_seconds"`
	DebitToken      EligibilityToken `json:"debit_eligibility_token"`
	CreditToken     EligibilityToken `json:"credit_eligibility_token"`
	CanonicalHash   crypto.Hash      `json:"canonical_hash"`
}

// SigningBytes returns the canonical bytes covered by the sender signature:
// every field except the signature itself and the canonical hash.
func (p *PaymentInstruction) SigningBytes() []byte {
	e := wire.NewEncoder()
	p.encodeCore(e)
	return e.Bytes()
}

// CanonicalBytes returns the canonical encoding of the instruction minus the
// canonical hash field. The canonical hash is SHA3-256 over these bytes.
func (p *PaymentInstruction) CanonicalBytes() []byte {
	e := wire.NewEncoder()
	p.encodeCore(e)
	e.WriteBytes(p.SenderSignature)
	return e.Bytes()
}

func (p *PaymentInstruction) encodeCore(e *wire.Encoder) {
	e.WriteUUID(p.PaymentID)
	e.WriteUUID(p.UETR)
	p.Debtor.encode(e)
	p.Creditor.encode(e)
	e.WriteAmount(p.Amount)
	e.WriteString(p.Currency)
	e.WriteString(p.Purpose)
	e.WriteBytes(p.SenderPublicKey)
	e.WriteI64(p.Timestamp.UnixNano())
	e.WriteU64(p.Nonce)
	e.WriteU32(p.TTLSeconds)
	p.DebitToken.encode(e)
	p.CreditToken.encode(e)
}

// Serialize produces the full canonical encoding including signature and
// canonical hash, suitable for storage and transport.
func (p *PaymentInstruction) Serialize() []byte {
	e := wire.NewEncoder()
	p.encodeCore(e)
	e.WriteBytes(p.SenderSignature)
	e.WriteHash32(p.CanonicalHash)
	return e.Bytes()
}

// DeserializePaymentInstruction decodes the output of Serialize.
func DeserializePaymentInstruction(b []byte) (*PaymentInstruction, error) {
	d := wire.NewDecoder(b)
	p := &PaymentInstruction{}
	var err error
	if p.PaymentID, err = d.ReadUUID(); err != nil {
		return nil, err
	}
	if p.UETR, err = d.ReadUUID(); err != nil {
		return nil, err
	}
	if p.Debtor, err = decodeParty(d); err != nil {
		return nil, err
	}
	if p.Creditor, err = decodeParty(d); err != nil {
		return nil, err
	}
	if p.Amount, err = d.ReadAmount(); err != nil {
		return nil, err
	}
	if p.Currency, err = d.ReadString(); err != nil {
		return nil, err
	}
	if p.Purpose, err = d.ReadString(); err != nil {
		return nil, err
	}
	if p.SenderPublicKey, err = d.ReadBytes(); err != nil {
		return nil, err
	}
	nanos, err := d.ReadI64()
	if err != nil {
		return nil, err
	}
	p.Timestamp = time.Unix(0, nanos).UTC()
	if p.Nonce, err = d.ReadU64(); err != nil {
		return nil, err
	}
	if p.TTLSeconds, err = d.ReadU32(); err != nil {
		return nil, err
	}
	if p.DebitToken, err = decodeEligibilityToken(d); err != nil {
		return nil, err
	}
	if p.CreditToken, err = decodeEligibilityToken(d); err != nil {
		return nil, err
	}
	if p.SenderSignature, err = d.ReadBytes(); err != nil {
		return nil, err
	}
	if p.CanonicalHash, err = d.ReadHash32(); err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// SealHash recomputes and stores the canonical hash. Senders call it after
// signing; the core calls VerifyHash instead.
func (p *PaymentInstruction) SealHash() {
	p.CanonicalHash = crypto.HashSHA3(p.CanonicalBytes())
}

// VerifyHash recomputes the canonical hash and compares it to the embedded
// value.
func (p *PaymentInstruction) VerifyHash() error {
	computed := crypto.HashSHA3(p.CanonicalBytes())
	if computed != p.CanonicalHash {
		return ruleError(ErrCanonicalHashMismatch,
			fmt.Sprintf("payment %s: canonical hash %s, recomputed %s",
				p.PaymentID, p.CanonicalHash, computed))
	}
	return nil
}

// VerifySignature checks the sender signature over the signing bytes.
func (p *PaymentInstruction) VerifySignature() error {
	if err := crypto.Verify(p.SenderPublicKey, p.SigningBytes(), p.SenderSignature); err != nil {
		return ruleError(ErrSignatureInvalid,
			fmt.Sprintf("payment %s: sender signature invalid", p.PaymentID))
	}
	return nil
}

// Expired reports whether now has reached timestamp + ttl. An instruction
// is already expired at the exact nanosecond of its deadline.
func (p *PaymentInstruction) Expired(now time.Time) bool {
	deadline := p.Timestamp.Add(time.Duration(p.TTLSeconds) * time.Second)
	return !now.Before(deadline)
}

// CorridorID derives the corridor key for this payment: the ordered
// debtor→creditor BIC pair with the currency.
func (p *PaymentInstruction) CorridorID() string {
	return fmt.Sprintf("%s-%s-%s", p.Debtor.BIC, p.Creditor.BIC, p.Currency)
}

// Validate performs the stateless structural checks: amount positivity and
// external-scale normalization, currency shape, canonical hash, sender
// signature and both eligibility tokens.
func (p *PaymentInstruction) Validate(now time.Time) error {
	if !p.Amount.IsPositive() {
		return ruleError(ErrEligibilityInvalid,
			fmt.Sprintf("payment %s: non-positive amount %s", p.PaymentID, p.Amount.Canonical()))
	}
	if !p.Amount.RoundExternal().Equal(p.Amount) {
		return ruleError(ErrEligibilityInvalid,
			fmt.Sprintf("payment %s: amount %s exceeds external scale", p.PaymentID, p.Amount.Canonical()))
	}
	if len(p.Currency) != 3 {
		return ruleError(ErrEligibilityInvalid,
			fmt.Sprintf("payment %s: malformed currency %q", p.PaymentID, p.Currency))
	}
	if p.Expired(now) {
		return ruleError(ErrTTLExpired,
			fmt.Sprintf("payment %s: expired at %s", p.PaymentID,
				p.Timestamp.Add(time.Duration(p.TTLSeconds)*time.Second)))
	}
	if err := p.VerifyHash(); err != nil {
		return err
	}
	if err := p.VerifySignature(); err != nil {
		return err
	}
	if err := p.DebitToken.Check(p.Amount, p.Currency, now); err != nil {
		return err
	}
	if err := p.CreditToken.Check(p.Amount, p.Currency, now); err != nil {
		return err
	}
	return nil
}
