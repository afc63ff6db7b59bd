package reconcile

import (
	"testing"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/stretchr/testify/assert"
)

func amt(s string) money.Amount {
	return money.MustParse(s)
}

func TestThresholdOk(t *testing.T) {
	res := CheckThreshold(amt("1000.00"), amt("1000.00"))
	assert.Equal(t, SeverityOk, res.Severity)
	assert.False(t, ShouldSuspendPayouts(res))
	assert.False(t, ShouldTripBreaker(res))

	// A one-cent diff on a large balance stays Ok.
	res = CheckThreshold(amt("1000000.00"), amt("1000000.01"))
	assert.Equal(t, SeverityOk, res.Severity)
}

func TestThresholdMinor(t *testing.T) {
	// 0.02% under-reported.
	res := CheckThreshold(amt("100000.00"), amt("100020.00"))
	assert.Equal(t, SeverityMinor, res.Severity)
	assert.False(t, ShouldSuspendPayouts(res))

	// Exactly 0.05% classifies Minor, not Significant.
	res = CheckThreshold(amt("100050.00"), amt("100000.00"))
	assert.Equal(t, SeverityMinor, res.Severity)
}

func TestThresholdSignificant(t *testing.T) {
	// 0.2% difference.
	res := CheckThreshold(amt("100200.00"), amt("100000.00"))
	assert.Equal(t, SeveritySignificant, res.Severity)
	assert.True(t, ShouldSuspendPayouts(res))
	assert.False(t, ShouldTripBreaker(res))

	// Exactly 0.5% classifies Significant, not Critical.
	res = CheckThreshold(amt("100500.00"), amt("100000.00"))
	assert.Equal(t, SeveritySignificant, res.Severity)
}

func TestThresholdCritical(t *testing.T) {
	// Ledger above bank by 1%: the scenario from a missing outbound
	// settlement.
	res := CheckThreshold(amt("1000000.00"), amt("990000.00"))
	assert.Equal(t, SeverityCritical, res.Severity)
	assert.True(t, ShouldSuspendPayouts(res))
	assert.True(t, ShouldTripBreaker(res))
	assert.True(t, res.AbsoluteDiff.Equal(amt("10000.00")))

	// Bank above ledger by more than 0.5% is also critical.
	res = CheckThreshold(amt("990000.00"), amt("1000000.00"))
	assert.Equal(t, SeverityCritical, res.Severity)

	// Bank reports zero while the ledger carries funds.
	res = CheckThreshold(amt("500.00"), money.Zero)
	assert.Equal(t, SeverityCritical, res.Severity)
}

func TestThresholdBothZero(t *testing.T) {
	res := CheckThreshold(money.Zero, money.Zero)
	assert.Equal(t, SeverityOk, res.Severity)
}
