// deltrand is the settlement core daemon: it hosts the event ledger, the
// clearing orchestrator, the reconciliation loop and the DLQ processor, and
// wires them to the configured bank adapters.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/adapter"
	"github.com/ROks-fin/Deltran-MVP-sub002/clearing"
	"github.com/ROks-fin/Deltran-MVP-sub002/corridor"
	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/ledger"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/ROks-fin/Deltran-MVP-sub002/reconcile"
)

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename)); err != nil {
		return err
	}
	defer logRotator.Close()
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	p := cfg.activeParams
	dltrLog.Infof("deltrand starting on %s (region %s)", p.Name, cfg.Region)

	// Storage.
	var store ledger.Store
	if cfg.SimNet {
		store, err = ledger.OpenMemStore()
	} else {
		store, err = ledger.OpenLevelStore(filepath.Join(cfg.DataDir, "ledger"))
	}
	if err != nil {
		return err
	}
	defer store.Close()

	// Key material: node key, validator set and the coordinator HSM.
	nodeKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	keyring := crypto.NewKeyring(1024)
	validators := make([]ledger.Validator, 0, cfg.Validators)
	for i := 0; i < cfg.Validators; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		id := fmt.Sprintf("validator-%d", i)
		if err := keyring.Register(id, 1, kp.Public()); err != nil {
			return err
		}
		validators = append(validators, ledger.Validator{ID: id, Epoch: 1, Key: kp})
	}
	primaryHSM, err := crypto.NewSoftHSM("coordinator", 1)
	if err != nil {
		return err
	}
	secondaryHSM, err := crypto.NewSoftHSM("coordinator-standby", 1)
	if err != nil {
		return err
	}
	hsm := crypto.NewFailoverHSM(primaryHSM, secondaryHSM)

	// Ledger.
	ldgr, err := ledger.New(ledger.Config{
		Store:       store,
		Params:      p,
		NodeKey:     nodeKey,
		HSM:         hsm,
		Keyring:     keyring,
		Validators:  validators,
		BlockOnFull: cfg.BlockOnFull,
	})
	if err != nil {
		return err
	}
	ldgr.Start()
	defer ldgr.Stop()

	// Corridor controls and adapter manager.
	breakers := corridor.NewBreakerSet(p.BreakerFailureThreshold,
		p.BreakerRecoveryTimeout, p.BreakerHalfOpenProbes)
	switches := corridor.NewKillSwitches()
	dlq := corridor.NewDeadLetterQueue(p.DLQMaxSize, p.DLQMaxRetryAttempts)
	manager := adapter.NewManager(p, breakers, switches, dlq)
	manager.RegisterAdapter(adapter.NewMockAdapter("simbank"))
	manager.SetDefaultType(adapter.TypeMock)
	dlq.Start(manager, time.Second)
	defer dlq.Stop()

	// Clearing.
	guard := protocol.NewReplayGuard(1 << 16)
	registry := clearing.NewPaymentRegistry(guard)
	windows := clearing.NewWindows(p.WindowGracePeriod, p.WindowLockTTL)
	oplog := clearing.NewOperationLog()
	accounts := clearing.NewAccountBook(p.FundLockTTL)
	orchestrator := clearing.NewOrchestrator(p, windows, oplog, accounts,
		ldgr, manager, registry, "deltrand-"+cfg.Region)
	pipeline := clearing.NewPipeline(ldgr, windows, registry, guard,
		protocol.AllowAllScreener{}, nil)

	// Reconciliation loop.
	reconciler := reconcile.NewReconciler(accounts, breakers, &reconcile.TaskList{},
		p.ReconcileInterval, nil)
	reconciler.Start()
	defer reconciler.Stop()

	// Background sweeps: expired fund locks, replay-guard nonce records
	// and retained atomic operations.
	sweepCtx, cancelSweeps := context.WithCancel(context.Background())
	defer cancelSweeps()
	go func() {
		ticker := time.NewTicker(p.FundLockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				orchestrator.SweepExpiredLocks()
				guard.SweepExpired()
				oplog.Cleanup(24 * time.Hour)
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	if _, err := windows.Open(cfg.Region, time.Hour); err != nil {
		return err
	}

	dltrLog.Infof("deltrand ready: %d validators, quorum %d",
		cfg.Validators, ldgr.Quorum(cfg.Validators))

	// On simnet, push one self-signed payment through the full pipeline so
	// an operator can watch the event chain, netting and settlement work
	// end to end.
	if cfg.SimNet {
		if err := runSimnetSmoke(pipeline, orchestrator, accounts, cfg.Region); err != nil {
			dltrLog.Errorf("simnet smoke run failed: %v", err)
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM; the deferred stops run in
	// reverse dependency order and new windows are refused once the
	// region window closes with the process.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	dltrLog.Infof("Shutting down")
	return nil
}
