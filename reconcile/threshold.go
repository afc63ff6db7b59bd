// Package reconcile compares internal ledger balances against bank-reported
// balances per nostro account, grades discrepancies into severities, and
// drives the corresponding actions: logging, payout suspension, circuit
// breaker trips and operator tasks.
package reconcile

import (
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
)

// Severity grades a reconciliation discrepancy.
type Severity int

const (
	// SeverityOk means the balances agree within tolerance.
	SeverityOk Severity = iota

	// SeverityMinor logs and files a low-priority task.
	SeverityMinor

	// SeveritySignificant suspends new payouts on the account.
	SeveritySignificant

	// SeverityCritical halts payouts, trips the corridor breaker and
	// requires manual intervention.
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityOk:
		return "Ok"
	case SeverityMinor:
		return "Minor"
	case SeveritySignificant:
		return "Significant"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ThresholdResult is the outcome of grading one account's balances.
type ThresholdResult struct {
	Severity       Severity
	AbsoluteDiff   money.Amount
	PercentageDiff money.Amount // percent, scale-8
	ActionRequired string
}

// Thresholds: absOkLimit is an absolute amount, the pct limits are in percent.
var (
	absOkLimit     = money.MustParse("0.01")
	pctOkLimit     = money.MustParse("0.01")
	pctMinorLimit  = money.MustParse("0.05")
	pctSignifLimit = money.MustParse("0.5")
	hundred        = money.New(100, 0)
)

// CheckThreshold grades a ledger balance against the bank-reported balance.
// The rules evaluate top-down: Ok, Minor (pct ≤ 0.05%), Significant
// (pct ≤ 0.5%), then Critical — where a ledger above the bank's figure is
// the worse direction because our books claim funds the bank cannot see.
func CheckThreshold(ledgerBalance, bankReported money.Amount) ThresholdResult {
	absDiff := ledgerBalance.Sub(bankReported).Abs()

	var pct money.Amount
	switch {
	case bankReported.IsPositive():
		pct = absDiff.Div(bankReported).Mul(hundred)
	case ledgerBalance.IsPositive():
		// Bank reports zero while we carry a balance.
		pct = hundred
	default:
		pct = money.Zero
	}

	res := ThresholdResult{AbsoluteDiff: absDiff, PercentageDiff: pct}

	switch {
	case !absDiff.GreaterThan(absOkLimit) && !pct.GreaterThan(pctOkLimit):
		res.Severity = SeverityOk
		res.ActionRequired = "no action required"
	case !pct.GreaterThan(pctMinorLimit):
		res.Severity = SeverityMinor
		res.ActionRequired = "create low-priority reconciliation task; operations continue"
	case !pct.GreaterThan(pctSignifLimit):
		res.Severity = SeveritySignificant
		res.ActionRequired = "suspend new payouts; create high-priority task for risk and finance"
	case ledgerBalance.GreaterThan(bankReported):
		res.Severity = SeverityCritical
		res.ActionRequired = "halt payouts, trip corridor circuit breaker; immediate replenishment or manual intervention required"
	default:
		res.Severity = SeverityCritical
		res.ActionRequired = "bank balance exceeds ledger; investigate immediately"
	}
	return res
}

// ShouldSuspendPayouts reports whether the severity suspends payouts.
func ShouldSuspendPayouts(r ThresholdResult) bool {
	return r.Severity == SeveritySignificant || r.Severity == SeverityCritical
}

// ShouldTripBreaker reports whether the severity trips the corridor breaker.
func ShouldTripBreaker(r ThresholdResult) bool {
	return r.Severity == SeverityCritical
}
