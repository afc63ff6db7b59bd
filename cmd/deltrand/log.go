package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ROks-fin/Deltran-MVP-sub002/adapter"
	"github.com/ROks-fin/Deltran-MVP-sub002/clearing"
	"github.com/ROks-fin/Deltran-MVP-sub002/corridor"
	"github.com/ROks-fin/Deltran-MVP-sub002/ledger"
	"github.com/ROks-fin/Deltran-MVP-sub002/netting"
	"github.com/ROks-fin/Deltran-MVP-sub002/reconcile"
	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers. The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences
	// will occur.
	backendLog = btclog.NewDefaultHandler(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	dltrLog = btclog.NewSLogger(backendLog.SubSystem("DLTR"))
	ldgrLog = btclog.NewSLogger(backendLog.SubSystem("LDGR"))
	clrgLog = btclog.NewSLogger(backendLog.SubSystem("CLRG"))
	nettLog = btclog.NewSLogger(backendLog.SubSystem("NETT"))
	corrLog = btclog.NewSLogger(backendLog.SubSystem("CORR"))
	adptLog = btclog.NewSLogger(backendLog.SubSystem("ADPT"))
	rcnlLog = btclog.NewSLogger(backendLog.SubSystem("RCNL"))
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"DLTR": dltrLog,
	"LDGR": ldgrLog,
	"CLRG": clrgLog,
	"NETT": nettLog,
	"CORR": corrLog,
	"ADPT": adptLog,
	"RCNL": rcnlLog,
}

func init() {
	ledger.UseLogger(ldgrLog)
	clearing.UseLogger(clrgLog)
	netting.UseLogger(nettLog)
	corridor.UseLogger(corrLog)
	adapter.UseLogger(adptLog)
	reconcile.UseLogger(rcnlLog)
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// setLogLevels sets the log level for all subsystem loggers.
func setLogLevels(levelStr string) error {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		return fmt.Errorf("invalid debug level %q", levelStr)
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return nil
}
