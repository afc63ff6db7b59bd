package protocol

import (
	"testing"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, kp *crypto.KeyPair, amount money.Amount, currency string, expiry time.Duration) EligibilityToken {
	t.Helper()
	tok := EligibilityToken{
		TokenID:         NewID(),
		BankBIC:         "BANKGB2L",
		Account:         "GB29NWBK60161331926819",
		Amount:          amount,
		Currency:        currency,
		ExpiresAt:       time.Now().Add(expiry),
		IssuerPublicKey: kp.Public(),
	}
	tok.Signature = kp.Sign(tok.SigningBytes())
	return tok
}

func testPayment(t *testing.T) (*PaymentInstruction, *crypto.KeyPair) {
	t.Helper()
	sender, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	debtorBank, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	creditorBank, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	amount := money.MustParse("1000.00")
	p := &PaymentInstruction{
		PaymentID:       NewID(),
		UETR:            NewID(),
		Debtor:          Party{BIC: "BANKGB2L", Account: "GB29NWBK60161331926819", Name: "Acme Ltd"},
		Creditor:        Party{BIC: "CHASUS33", Account: "US64SVBKUS6S3300958879", Name: "Globex Inc"},
		Amount:          amount,
		Currency:        "USD",
		Purpose:         "invoice 4711",
		SenderPublicKey: sender.Public(),
		Timestamp:       time.Now().UTC(),
		Nonce:           5,
		TTLSeconds:      300,
		DebitToken:      signedToken(t, debtorBank, amount, "USD", time.Hour),
		CreditToken:     signedToken(t, creditorBank, amount, "USD", time.Hour),
	}
	p.SenderSignature = sender.Sign(p.SigningBytes())
	p.SealHash()
	return p, sender
}

func TestPaymentValidate(t *testing.T) {
	p, _ := testPayment(t)
	assert.NoError(t, p.Validate(time.Now()))
}

func TestCanonicalHashStability(t *testing.T) {
	p, _ := testPayment(t)

	raw := p.Serialize()
	back, err := DeserializePaymentInstruction(raw)
	require.NoError(t, err)

	assert.Equal(t, p.CanonicalBytes(), back.CanonicalBytes())
	assert.Equal(t, p.CanonicalHash, back.CanonicalHash)
	assert.NoError(t, back.VerifyHash())
	assert.NoError(t, back.VerifySignature())
}

func TestCanonicalHashMismatch(t *testing.T) {
	p, _ := testPayment(t)
	p.Purpose = "altered after sealing"
	err := p.VerifyHash()
	assert.True(t, IsRuleCode(err, ErrCanonicalHashMismatch))
}

func TestSignatureInvalid(t *testing.T) {
	p, _ := testPayment(t)
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	p.SenderPublicKey = other.Public()
	p.SealHash()
	verr := p.Validate(time.Now())
	assert.True(t, IsRuleCode(verr, ErrSignatureInvalid))
}

func TestTTLBoundary(t *testing.T) {
	p, _ := testPayment(t)
	deadline := p.Timestamp.Add(time.Duration(p.TTLSeconds) * time.Second)

	// One nanosecond before the deadline is still alive; the exact
	// deadline already rejects.
	assert.False(t, p.Expired(deadline.Add(-time.Nanosecond)))
	assert.True(t, p.Expired(deadline))
	assert.True(t, p.Expired(deadline.Add(time.Nanosecond)))

	err := p.Validate(deadline)
	assert.True(t, IsRuleCode(err, ErrTTLExpired))
}

func TestEligibilityChecks(t *testing.T) {
	bank, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	amount := money.MustParse("1000.00")

	t.Run("Covers", func(t *testing.T) {
		tok := signedToken(t, bank, amount, "USD", time.Hour)
		assert.NoError(t, tok.Check(amount, "USD", time.Now()))
	})

	t.Run("Undersized", func(t *testing.T) {
		tok := signedToken(t, bank, money.MustParse("999.99"), "USD", time.Hour)
		err := tok.Check(amount, "USD", time.Now())
		assert.True(t, IsRuleCode(err, ErrEligibilityInvalid))
	})

	t.Run("CurrencyMismatch", func(t *testing.T) {
		tok := signedToken(t, bank, amount, "EUR", time.Hour)
		err := tok.Check(amount, "USD", time.Now())
		assert.True(t, IsRuleCode(err, ErrEligibilityInvalid))
	})

	t.Run("Expired", func(t *testing.T) {
		tok := signedToken(t, bank, amount, "USD", -time.Minute)
		err := tok.Check(amount, "USD", time.Now())
		assert.True(t, IsRuleCode(err, ErrEligibilityInvalid))
	})

	t.Run("TamperedSignature", func(t *testing.T) {
		tok := signedToken(t, bank, amount, "USD", time.Hour)
		tok.Amount = money.MustParse("2000.00")
		err := tok.Check(amount, "USD", time.Now())
		assert.True(t, IsRuleCode(err, ErrEligibilityInvalid))
	})
}

func TestValidateRejectsOverScaleAmount(t *testing.T) {
	p, sender := testPayment(t)
	p.Amount = money.MustParse("100.123")
	p.SenderSignature = sender.Sign(p.SigningBytes())
	p.SealHash()
	err := p.Validate(time.Now())
	assert.True(t, IsRuleCode(err, ErrEligibilityInvalid))
}

func TestCorridorID(t *testing.T) {
	p, _ := testPayment(t)
	assert.Equal(t, "BANKGB2L-CHASUS33-USD", p.CorridorID())
}
