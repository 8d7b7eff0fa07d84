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
	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/integration/commandline"
	"github.com/btcsuite/chainharness/internal/log"
	"github.com/btcsuite/chainharness/topology"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogLevel   = "info"
	defaultScenario   = "create_cache"
	defaultNodeExe    = "simnode"
	defaultLogName    = "harness.log"
	defaultConfigName = "chainharness.conf"
)

var (
	defaultHomeDir    = btcutil.AppDataDir("chainharness", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigName)
)

// config defines the configuration options for chainharness.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion    bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile     string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DebugLevel     string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	Quiet          bool          `short:"q" long:"quiet" description:"Do not copy log output to stdout"`
	NoColor        bool          `long:"nocolor" description:"Do not color the run summary"`
	Scenario       string        `short:"s" long:"scenario" description:"Name of the scenario to run"`
	ListScenarios  bool          `long:"listscenarios" description:"List the available scenarios and exit"`
	ListCache      bool          `long:"listcache" description:"List the entries of the chain cache and exit"`
	PruneCache     int           `long:"prunecache" description:"Keep only the newest N entries of the chain cache and exit" default-mask:"-"`
	Nodes          int           `short:"n" long:"nodes" description:"Number of nodes of the network, before the scenario adjusts it"`
	Topology       string        `long:"topology" description:"Peer connections made before the scenario adjusts them {none, chain, ring, star, mesh}"`
	CacheMode      string        `long:"cachemode" description:"How the chain cache is used {auto, build, off}"`
	NoShutdown     bool          `long:"noshutdown" description:"Leave the nodes running after a successful run"`
	NoCleanup      bool          `long:"nocleanup" description:"Keep the run directory after a successful run"`
	NodeExe        string        `long:"nodeexe" description:"Path of the node executable"`
	NodeArgs       []string      `long:"nodearg" description:"Extra node argument as key=value, or key alone for a flag; may be repeated"`
	CacheKeyArgs   []string      `long:"cachekeyarg" description:"Name of a node argument that changes the primed chain; may be repeated"`
	RegressionTest bool          `long:"regtest" description:"Use the regression test network"`
	SimNet         bool          `long:"simnet" description:"Use the simulation test network"`
	TmpDir         string        `long:"tmpdir" description:"Parent directory of the run directory"`
	CacheDir       string        `long:"cachedir" description:"Directory of the chain cache"`
	PrimeRounds    int           `long:"primerounds" description:"Number of mining turns every node takes while priming the chain"`
	BlocksPerRound int           `long:"blocksperround" description:"Number of blocks mined per priming turn"`
	StartupTimeout time.Duration `long:"startuptimeout" description:"Time a node has to answer RPC calls after it starts"`
	StopTimeout    time.Duration `long:"stoptimeout" description:"Time a node has to exit before it is killed"`
	RPCTimeout     time.Duration `long:"rpctimeout" description:"Time limit of every RPC call"`
	SyncTimeout    time.Duration `long:"synctimeout" description:"Time limit of the block and mempool joins"`
	RPCEndpoint    string        `long:"rpcendpoint" description:"RPC transport, empty for HTTP POST or ws for websockets"`
	TraceRPC       bool          `long:"tracerpc" description:"Log every RPC request and reply"`
	CoverageDir    string        `long:"coveragedir" description:"Directory receiving the RPC methods called on every node"`
	Proxy          string        `long:"proxy" description:"Connect to the node RPC servers via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser      string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass      string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	PortSeed       int           `long:"portseed" description:"Seed separating the ports of concurrent runs" default-mask:"pid"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// parseNodeArgs turns key=value pairs into node arguments.  A key without a
// value is passed as a bare flag.
func parseNodeArgs(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, hasValue := strings.Cut(pair, "=")
		key = strings.TrimLeft(strings.TrimSpace(key), "-")
		if key == "" {
			return nil, fmt.Errorf("malformed node argument %q", pair)
		}
		if !hasValue {
			args[key] = commandline.NoArgumentValue
			continue
		}
		args[key] = value
	}
	return args, nil
}

// harnessConfig converts the command line settings into a harness
// configuration.  Zero values keep the harness defaults.
func (cfg *config) harnessConfig(params *chaincfg.Params) (harness.Config, error) {
	hcfg := harness.DefaultConfig()
	hcfg.Chain = params
	hcfg.NoShutdown = cfg.NoShutdown
	hcfg.NoCleanup = cfg.NoCleanup
	hcfg.NodeExecutable = cfg.NodeExe
	hcfg.CacheKeyArgs = cfg.CacheKeyArgs
	hcfg.RPCEndpoint = cfg.RPCEndpoint
	hcfg.TraceRPC = cfg.TraceRPC
	hcfg.CoverageDir = cfg.CoverageDir
	hcfg.Proxy = cfg.Proxy
	hcfg.ProxyUser = cfg.ProxyUser
	hcfg.ProxyPass = cfg.ProxyPass

	if cfg.Nodes != 0 {
		hcfg.NodeCount = cfg.Nodes
		hcfg.Topology = topology.Chain(cfg.Nodes)
	}
	if cfg.Topology != "" {
		spec, err := topology.Parse(cfg.Topology, hcfg.NodeCount)
		if err != nil {
			return hcfg, err
		}
		hcfg.Topology = spec
	}
	if cfg.CacheMode != "" {
		hcfg.CacheMode = harness.CacheMode(cfg.CacheMode)
	}
	if cfg.TmpDir != "" {
		hcfg.TmpDir = cfg.TmpDir
	}
	if cfg.CacheDir != "" {
		hcfg.CacheDir = cfg.CacheDir
	}
	if cfg.PrimeRounds != 0 {
		hcfg.PrimeRounds = cfg.PrimeRounds
	}
	if cfg.BlocksPerRound != 0 {
		hcfg.BlocksPerRound = cfg.BlocksPerRound
	}
	if cfg.StartupTimeout != 0 {
		hcfg.StartupTimeout = cfg.StartupTimeout
	}
	if cfg.StopTimeout != 0 {
		hcfg.StopTimeout = cfg.StopTimeout
	}
	if cfg.RPCTimeout != 0 {
		hcfg.RPCTimeout = cfg.RPCTimeout
	}
	if cfg.SyncTimeout != 0 {
		hcfg.SyncTimeout = cfg.SyncTimeout
	}
	if cfg.PortSeed != 0 {
		hcfg.PortSeed = cfg.PortSeed
	}

	extra, err := parseNodeArgs(cfg.NodeArgs)
	if err != nil {
		return hcfg, err
	}
	hcfg.ExtraArgs = extra
	return hcfg, nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The default config file is optional; one named with --configfile must
// exist.
func loadConfig(args []string) (*config, *chaincfg.Params, error) {
	cfg := config{
		ConfigFile: defaultConfigFile,
		DebugLevel: defaultLogLevel,
		Scenario:   defaultScenario,
		NodeExe:    defaultNodeExe,
		PruneCache: -1,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}
	if preCfg.ShowVersion {
		return &preCfg, nil, nil
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		_, isPathErr := err.(*os.PathError)
		if !isPathErr || preCfg.ConfigFile != defaultConfigFile {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n", err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	funcName := "loadConfig"
	params := &chaincfg.RegressionNetParams
	if cfg.RegressionTest && cfg.SimNet {
		str := "%s: The regtest and simnet params can't be used " +
			"together -- choose one of the two"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}
	if cfg.SimNet {
		params = &chaincfg.SimNetParams
	}

	// Parse, validate, and set debug log level(s).
	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	if cfg.Nodes < 0 {
		err := fmt.Errorf("%s: the number of nodes may not be "+
			"negative -- parsed [%d]", funcName, cfg.Nodes)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	for _, d := range []time.Duration{cfg.StartupTimeout, cfg.StopTimeout,
		cfg.RPCTimeout, cfg.SyncTimeout} {

		if d < 0 {
			err := fmt.Errorf("%s: timeouts may not be negative -- "+
				"parsed [%v]", funcName, d)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	cfg.TmpDir = cleanAndExpandPath(cfg.TmpDir)
	cfg.CacheDir = cleanAndExpandPath(cfg.CacheDir)
	cfg.CoverageDir = cleanAndExpandPath(cfg.CoverageDir)
	return &cfg, params, nil
}
