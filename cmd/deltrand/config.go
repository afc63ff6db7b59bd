package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ROks-fin/Deltran-MVP-sub002/params"
	flags "github.com/jessevdk/go-flags"
)

const (
	version = "0.3.1"

	defaultLogFilename = "deltrand.log"
	defaultDataDirname = "data"
	defaultLogDirname  = "logs"
	defaultDebugLevel  = "info"
)

// config defines the configuration options for deltrand.
type config struct {
	DataDir      string `short:"b" long:"datadir" description:"Directory to store ledger data"`
	LogDir       string `long:"logdir" description:"Directory to log output"`
	DebugLevel   string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	SimNet       bool   `long:"simnet" description:"Use the simulation network parameters (in-memory store, aggressive timeouts)"`
	Region       string `long:"region" description:"Clearing region this node orchestrates" default:"GLOBAL"`
	Validators   int    `long:"validators" description:"Number of local validator signers" default:"7"`
	BlockOnFull  bool   `long:"blockonfull" description:"Block producers when the ledger batch channel is full instead of failing fast"`
	ShowVersion  bool   `short:"V" long:"version" description:"Display version information and exit"`
	activeParams *params.Params
}

// defaultHomeDir returns the default data directory for deltrand.
func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".deltrand")
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, error) {
	cfg := config{
		DataDir:    filepath.Join(defaultHomeDir(), defaultDataDirname),
		LogDir:     filepath.Join(defaultHomeDir(), defaultLogDirname),
		DebugLevel: defaultDebugLevel,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	if cfg.ShowVersion {
		fmt.Printf("deltrand version %s\n", version)
		os.Exit(0)
	}

	if cfg.SimNet {
		cfg.activeParams = &params.SimNetParams
	} else {
		cfg.activeParams = &params.MainNetParams
	}

	if cfg.Validators < 1 {
		return nil, fmt.Errorf("at least one validator signer is required, got %d", cfg.Validators)
	}

	if !cfg.SimNet {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	return &cfg, nil
}
