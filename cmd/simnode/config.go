// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/chainharness/internal/log"
	"github.com/btcsuite/chainharness/internal/version"
	"github.com/btcsuite/chainharness/simnode/store"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogLevel    = "info"
	defaultLogFilename = "debug.log"
	defaultListen      = "127.0.0.1:18444"
	defaultRPCListen   = "127.0.0.1:18443"
)

var (
	defaultHomeDir = btcutil.AppDataDir("simnode", false)
	defaultDataDir = filepath.Join(defaultHomeDir, "data")
	defaultDbType  = string(store.LevelDB)
)

// config defines the configuration options for simnode.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion    bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile     string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir        string        `short:"b" long:"datadir" description:"Directory to store data"`
	DebugLevel     string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	Listen         string        `long:"listen" description:"Interface/port to listen for peer connections"`
	RPCListen      string        `long:"rpclisten" description:"Interface/port to listen for RPC connections"`
	RPCUser        string        `short:"u" long:"rpcuser" description:"Username for RPC connections"`
	RPCPass        string        `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	RegressionTest bool          `long:"regtest" description:"Use the regression test network"`
	SimNet         bool          `long:"simnet" description:"Use the simulation test network"`
	TestNet3       bool          `long:"testnet" description:"Use the test network"`
	SigNet         bool          `long:"signet" description:"Use the signet test network"`
	DbType         string        `long:"dbtype" description:"Database backend to use for the chain store"`
	StartupDelay   time.Duration `long:"startupdelay" description:"Wait this long before opening the listeners"`
	Warmup         time.Duration `long:"warmup" description:"Answer RPC calls with a warming up error for this long after startup"`
	CrashAfter     time.Duration `long:"crashafter" description:"Exit abruptly once this much time has passed"`
	FailStop       bool          `long:"failstop" description:"Exit with a failure code when asked to stop"`
	Quiet          bool          `short:"q" long:"quiet" description:"Do not copy log output to stdout"`
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, kind := range store.SupportedKinds {
		if dbType == string(kind) {
			return true
		}
	}
	return false
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, *chaincfg.Params, error) {
	cfg := config{
		DataDir:    defaultDataDir,
		DebugLevel: defaultLogLevel,
		Listen:     defaultListen,
		RPCListen:  defaultRPCListen,
		DbType:     defaultDbType,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		appName := filepath.Base(os.Args[0])
		appName = strings.TrimSuffix(appName, filepath.Ext(appName))
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	if preCfg.ConfigFile != "" {
		err := flags.NewIniParser(parser).ParseFile(
			cleanAndExpandPath(preCfg.ConfigFile))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	funcName := "loadConfig"
	numNets := 0
	params := &chaincfg.MainNetParams
	if cfg.TestNet3 {
		numNets++
		params = &chaincfg.TestNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		params = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		params = &chaincfg.SimNetParams
	}
	if cfg.SigNet {
		numNets++
		params = &chaincfg.SigNetParams
	}
	if numNets > 1 {
		str := "%s: The testnet, regtest, signet and simnet params " +
			"can't be used together -- choose one of the four"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "%s: The specified database type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, funcName, cfg.DbType, store.SupportedKinds)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Parse, validate, and set debug log level(s).
	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	for _, d := range []time.Duration{cfg.StartupDelay, cfg.Warmup,
		cfg.CrashAfter} {

		if d < 0 {
			err := fmt.Errorf("%s: durations may not be negative -- "+
				"parsed [%v]", funcName, d)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	return &cfg, params, nil
}
