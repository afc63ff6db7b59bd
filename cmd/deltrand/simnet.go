package main

import (
	"context"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/clearing"
	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
)

// runSimnetSmoke drives one payment through intake, clearing and settlement
// against the mock adapter, logging the submission outcome and whether the
// window processed. Simnet
// only; it exists so a fresh deployment can be eyeballed without external
// banks.
func runSimnetSmoke(pipeline *clearing.Pipeline, orchestrator *clearing.Orchestrator,
	accounts *clearing.AccountBook, region string) error {

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	debtorBank, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	creditorBank, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	sender, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}

	amount := money.MustParse("1000.00")
	if _, err := accounts.CreateAccount("BANKGB2L", "GB00NOST0000001", "USD",
		money.MustParse("5000000.00")); err != nil {
		return err
	}
	if _, err := accounts.CreateAccount("CHASUS33", "US00NOST0000001", "USD",
		money.MustParse("5000000.00")); err != nil {
		return err
	}

	token := func(kp *crypto.KeyPair, bic, account string) protocol.EligibilityToken {
		t := protocol.EligibilityToken{
			TokenID:         protocol.NewID(),
			BankBIC:         bic,
			Account:         account,
			Amount:          amount,
			Currency:        "USD",
			ExpiresAt:       time.Now().Add(time.Hour),
			IssuerPublicKey: kp.Public(),
		}
		t.Signature = kp.Sign(t.SigningBytes())
		return t
	}

	p := &protocol.PaymentInstruction{
		PaymentID:       protocol.NewID(),
		UETR:            protocol.NewID(),
		Debtor:          protocol.Party{BIC: "BANKGB2L", Account: "GB29NWBK60161331926819", Name: "Acme Exports Ltd"},
		Creditor:        protocol.Party{BIC: "CHASUS33", Account: "US64SVBKUS6S3300958879", Name: "Globex Inc"},
		Amount:          amount,
		Currency:        "USD",
		Purpose:         "simnet smoke",
		SenderPublicKey: sender.Public(),
		Timestamp:       time.Now().UTC(),
		Nonce:           1,
		TTLSeconds:      3600,
		DebitToken:      token(debtorBank, "BANKGB2L", "GB29NWBK60161331926819"),
		CreditToken:     token(creditorBank, "CHASUS33", "US64SVBKUS6S3300958879"),
	}
	p.SenderSignature = sender.Sign(p.SigningBytes())
	p.SealHash()

	res, err := pipeline.Submit(ctx, p)
	if err != nil {
		return err
	}
	dltrLog.Infof("simnet smoke: payment %s %s (window %d)", res.PaymentID, res.Status, res.WindowID)

	if res.Status != clearing.SubmitAccepted {
		return nil
	}
	if err := orchestrator.ProcessWindow(ctx, res.WindowID); err != nil {
		return err
	}
	dltrLog.Infof("simnet smoke: window %d processed", res.WindowID)
	return nil
}
