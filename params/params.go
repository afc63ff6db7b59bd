// Package params defines the operating parameters for a Deltran settlement
// network. Parameters bundle the quorum fraction, ledger batching limits,
// clearing window timings and boundary-control defaults so that every
// subsystem reads its tunables from one explicit value instead of hidden
// globals.
package params

import (
	"time"
)

// QuorumFraction expresses the BFT validator quorum as a fraction of the
// registered validator set. The effective quorum for N validators is always
// floor(2*N/3)+1; the fraction is used to size the expected validator set in
// configuration and for reporting.
type QuorumFraction struct {
	Numerator   int
	Denominator int
}

// Quorum returns the number of validator signatures required for a checkpoint
// over a validator set of size n.
func Quorum(n int) int {
	if n <= 0 {
		return 0
	}
	return (2*n)/3 + 1
}

// Params defines a Deltran settlement network by its tunables. Callers thread
// a *Params explicitly through constructors; there is no global instance.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// NetworkID is carried verbatim in settlement proofs.
	NetworkID string

	// ProtoVersion is the protocol version stamped into proofs.
	ProtoVersion uint16

	// ValidatorQuorum expresses the configured quorum fraction.
	// The default of 5/7 matches a seven-validator deployment.
	ValidatorQuorum QuorumFraction

	// MaxBatchSize is the number of ledger events that force a batch to
	// close regardless of the batch timeout.
	MaxBatchSize int

	// BatchTimeout closes a ledger write batch this long after the first
	// event was enqueued.
	BatchTimeout time.Duration

	// CheckpointInterval is the number of blocks between automatic
	// checkpoints.
	CheckpointInterval uint64

	// LedgerChannelDepth bounds the batcher's inbound channel.
	LedgerChannelDepth int

	// WindowGracePeriod is how long a Closing window continues to accept
	// in-flight obligations before it becomes Closed.
	WindowGracePeriod time.Duration

	// WindowLockTTL bounds exclusive window ownership.
	WindowLockTTL time.Duration

	// TwoPhaseTimeout bounds the entire settlement commit for a window.
	TwoPhaseTimeout time.Duration

	// FundLockTTL is the default expiry for nostro fund locks.
	FundLockTTL time.Duration

	// AdapterCallTimeout is the per-call deadline for bank adapter sends.
	AdapterCallTimeout time.Duration

	// MinNettingEfficiency flags windows whose netting benefit falls below
	// this ratio. The orchestrator records the flag in the window metrics
	// and logs it; flagged windows are still settled net.
	MinNettingEfficiency float64

	// BreakerFailureThreshold is the consecutive-failure count that opens
	// a corridor circuit breaker.
	BreakerFailureThreshold int

	// BreakerRecoveryTimeout is how long an open breaker waits before
	// probing in half-open state.
	BreakerRecoveryTimeout time.Duration

	// BreakerHalfOpenProbes is the number of consecutive successes in
	// half-open state required to close the breaker.
	BreakerHalfOpenProbes int

	// DLQMaxSize bounds the dead-letter queue per corridor.
	DLQMaxSize int

	// DLQMaxRetryAttempts is the retry budget before a dead-lettered
	// transfer is parked for manual handling.
	DLQMaxRetryAttempts int

	// ReconcileInterval is the fixed cadence of the reconciliation loop in
	// addition to per-notification runs.
	ReconcileInterval time.Duration
}

// MainNetParams defines the production settlement network parameters.
var MainNetParams = Params{
	Name:                    "mainnet",
	NetworkID:               "deltran-mainnet",
	ProtoVersion:            1,
	ValidatorQuorum:         QuorumFraction{Numerator: 5, Denominator: 7},
	MaxBatchSize:            256,
	BatchTimeout:            10 * time.Millisecond,
	CheckpointInterval:      100,
	LedgerChannelDepth:      4096,
	WindowGracePeriod:       30 * time.Second,
	WindowLockTTL:           5 * time.Minute,
	TwoPhaseTimeout:         15 * time.Minute,
	FundLockTTL:             10 * time.Minute,
	AdapterCallTimeout:      30 * time.Second,
	MinNettingEfficiency:    0.15,
	BreakerFailureThreshold: 5,
	BreakerRecoveryTimeout:  60 * time.Second,
	BreakerHalfOpenProbes:   3,
	DLQMaxSize:              1000,
	DLQMaxRetryAttempts:     6,
	ReconcileInterval:       time.Minute,
}

// SimNetParams defines parameters for in-process simulation and tests:
// aggressive timeouts so failure paths run quickly.
var SimNetParams = Params{
	Name:                    "simnet",
	NetworkID:               "deltran-simnet",
	ProtoVersion:            1,
	ValidatorQuorum:         QuorumFraction{Numerator: 5, Denominator: 7},
	MaxBatchSize:            16,
	BatchTimeout:            2 * time.Millisecond,
	CheckpointInterval:      4,
	LedgerChannelDepth:      64,
	WindowGracePeriod:       50 * time.Millisecond,
	WindowLockTTL:           time.Second,
	TwoPhaseTimeout:         2 * time.Second,
	FundLockTTL:             time.Second,
	AdapterCallTimeout:      250 * time.Millisecond,
	MinNettingEfficiency:    0.15,
	BreakerFailureThreshold: 5,
	BreakerRecoveryTimeout:  100 * time.Millisecond,
	BreakerHalfOpenProbes:   3,
	DLQMaxSize:              32,
	DLQMaxRetryAttempts:     3,
	ReconcileInterval:       100 * time.Millisecond,
}
