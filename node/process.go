// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/chainharness/integration"
	"github.com/btcsuite/chainharness/rpcclient"
)

// Config holds the timing and RPC settings shared by the processes of a run.
type Config struct {
	// StartupGrace is how long Start waits for the process to die
	// immediately, for example on a bad flag.
	StartupGrace time.Duration

	// PollInterval is the delay between two liveness calls.
	PollInterval time.Duration

	// StopTimeout is how long Stop waits for the process to exit before it
	// kills the whole process group.
	StopTimeout time.Duration

	// RPCTimeout is the per-call timeout of the RPC session.
	RPCTimeout time.Duration

	// HealthMethod is the RPC method used as liveness probe.
	HealthMethod string

	// TraceRPC logs every RPC request and reply.
	TraceRPC bool

	// CoverageDir, when set, receives one coverage file per node listing
	// the RPC methods called on it.
	CoverageDir string

	// Proxy is the address of a SOCKS5 proxy the RPC session connects
	// through, with optional credentials.  Empty connects directly.
	Proxy     string
	ProxyUser string
	ProxyPass string
}

// DefaultConfig returns the default process settings.
func DefaultConfig() Config {
	return Config{
		StartupGrace: 100 * time.Millisecond,
		PollInterval: 100 * time.Millisecond,
		StopTimeout:  20 * time.Second,
		RPCTimeout:   30 * time.Second,
		HealthMethod: "getblockcount",
	}
}

// Process is the handle of one node process.  It owns the OS process, its
// output files and the RPC session, and it is the only writer of the node
// state.
type Process struct {
	spec Spec
	cfg  Config

	mtx           sync.Mutex
	state         State
	cmd           *exec.Cmd
	client        *rpcclient.Client
	stopRequested bool
	exitCode      int

	// stopDone is closed once a requested stop has settled the final
	// state.
	stopDone chan struct{}

	// done is closed once the OS process has exited and its resources
	// have been released.
	done chan struct{}
}

// New returns a handle for the node described by spec.  Nothing is launched
// until Start is called.
func New(spec Spec, cfg Config) *Process {
	def := DefaultConfig()
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = def.StartupGrace
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = def.RPCTimeout
	}
	if cfg.HealthMethod == "" {
		cfg.HealthMethod = def.HealthMethod
	}

	return &Process{
		spec:     spec.clone(),
		cfg:      cfg,
		state:    NotStarted,
		exitCode: -1,
		done:     make(chan struct{}),
	}
}

// Index returns the ordinal of the node.
func (p *Process) Index() int {
	return p.spec.Index
}

// Spec returns a copy of the node description.
func (p *Process) Spec() Spec {
	return p.spec.clone()
}

// P2PAddress returns the address the node accepts peers on.
func (p *Process) P2PAddress() string {
	return p.spec.P2PAddress
}

// DataDir returns the data directory of the node.
func (p *Process) DataDir() string {
	return p.spec.DataDir()
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.state
}

// Pid returns the OS process id, or 0 when the process was never launched.
func (p *Process) Pid() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done returns a channel closed once the launched process has exited.  It is
// never closed for a process that was not launched.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the OS process is running.
func (p *Process) Alive() bool {
	p.mtx.Lock()
	launched := p.cmd != nil
	p.mtx.Unlock()
	if !launched {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit status of the process, or -1 while it runs or
// when it was terminated by a signal.
func (p *Process) ExitCode() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.exitCode
}

// String identifies the node in logs and leak reports.
func (p *Process) String() string {
	return fmt.Sprintf("node%d", p.spec.Index)
}

// Start writes the node config file and launches the executable with its
// output captured in the working directory.  A crashed node cannot be
// restarted and returns ErrProcessCrashed.
func (p *Process) Start() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state == Crashed {
		return makeError(ErrProcessCrashed, p.spec.Index,
			"cannot restart a crashed node")
	}
	if p.state != NotStarted {
		return makeError(ErrInvalidState, p.spec.Index, fmt.Sprintf(
			"cannot start a node in state %v", p.state))
	}
	if err := p.spec.Validate(); err != nil {
		return makeError(ErrStartup, p.spec.Index, err.Error())
	}

	exe, err := exec.LookPath(p.spec.Executable)
	if err != nil {
		return makeError(ErrStartup, p.spec.Index, fmt.Sprintf(
			"executable not found: %v", err))
	}
	if err := p.spec.writeConfigFile(); err != nil {
		return makeError(ErrStartup, p.spec.Index, fmt.Sprintf(
			"cannot write config file: %v", err))
	}

	stdout, err := p.spec.logFile(stdoutLogName)
	if err != nil {
		return makeError(ErrStartup, p.spec.Index, err.Error())
	}
	stderr, err := p.spec.logFile(stderrLogName)
	if err != nil {
		stdout.Close()
		return makeError(ErrStartup, p.spec.Index, err.Error())
	}

	cmd := exec.Command(exe, p.spec.arguments()...)
	cmd.Dir = p.spec.WorkingDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = sysProcAttr()

	log.Debugf("Launching %v: %s %v", p, exe, cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return makeError(ErrStartup, p.spec.Index, fmt.Sprintf(
			"cannot launch %s: %v", exe, err))
	}

	p.cmd = cmd
	p.state = Starting
	if err := integration.RegisterDisposableAsset(p); err != nil {
		log.Warnf("Unable to register %v: %v", p, err)
	}

	pidFile := filepath.Join(p.spec.WorkingDir, pidFileName)
	pid := strconv.Itoa(cmd.Process.Pid)
	if err := os.WriteFile(pidFile, []byte(pid+"\n"), 0600); err != nil {
		log.Warnf("Unable to write pid file for %v: %v", p, err)
	}

	go p.wait(stdout, stderr)

	// Give the process a moment to fail on bad arguments so the caller
	// sees a startup error rather than a crash during health polling.
	p.mtx.Unlock()
	var exited bool
	select {
	case <-p.done:
		exited = true
	case <-time.After(p.cfg.StartupGrace):
	}
	p.mtx.Lock()

	if exited {
		return makeError(ErrStartup, p.spec.Index, fmt.Sprintf(
			"process exited during startup with code %d, see %s",
			p.exitCode, filepath.Join(p.spec.WorkingDir, stderrLogName)))
	}
	log.Infof("Started %v (pid %d)", p, cmd.Process.Pid)
	return nil
}

// wait reaps the process and records how it ended.
func (p *Process) wait(stdout, stderr *os.File) {
	err := p.cmd.Wait()
	stdout.Close()
	stderr.Close()
	os.Remove(filepath.Join(p.spec.WorkingDir, pidFileName))

	p.mtx.Lock()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	client := p.client
	p.client = nil
	if !p.stopRequested {
		p.state = Crashed
		log.Errorf("%v exited unexpectedly (%v), see %s", p, err,
			filepath.Join(p.spec.WorkingDir, stderrLogName))
	}
	p.mtx.Unlock()

	if client != nil {
		client.Shutdown()
	}
	integration.DeRegisterDisposableAsset(p)
	close(p.done)
}

// newClient returns a new RPC session for the node.
func (p *Process) newClient() (*rpcclient.Client, error) {
	var coverageFile string
	if p.cfg.CoverageDir != "" {
		coverageFile = filepath.Join(p.cfg.CoverageDir,
			fmt.Sprintf("%snode%d", rpcclient.CoverageFilePrefix, p.spec.Index))
	}
	return rpcclient.New(&rpcclient.ConnConfig{
		Host:         p.spec.RPCAddress,
		Endpoint:     p.spec.RPCEndpoint,
		User:         p.spec.RPCUser,
		Pass:         p.spec.RPCPass,
		Timeout:      p.cfg.RPCTimeout,
		Proxy:        p.cfg.Proxy,
		ProxyUser:    p.cfg.ProxyUser,
		ProxyPass:    p.cfg.ProxyPass,
		Trace:        p.cfg.TraceRPC,
		CoverageFile: coverageFile,
	})
}

// isRetryable reports whether a failed liveness call means the node is not
// ready yet rather than broken.
func isRetryable(err error) bool {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == btcjson.ErrRPCInWarmup
	}
	return errors.Is(err, rpcclient.ErrTransport) ||
		errors.Is(err, rpcclient.ErrRPCTimeout)
}

// AwaitHealthy polls the liveness RPC until the node answers, then moves it
// to Healthy and keeps the session.  It gives up with ErrHealthCheckTimeout
// once timeout has elapsed, and with ErrProcessCrashed as soon as the process
// exits.
func (p *Process) AwaitHealthy(ctx context.Context, timeout time.Duration) error {
	p.mtx.Lock()
	switch p.state {
	case Healthy:
		p.mtx.Unlock()
		return nil
	case Starting:
	case Crashed:
		p.mtx.Unlock()
		return makeError(ErrProcessCrashed, p.spec.Index, fmt.Sprintf(
			"exited with code %d before becoming healthy", p.exitCode))
	default:
		state := p.state
		p.mtx.Unlock()
		return makeError(ErrInvalidState, p.spec.Index, fmt.Sprintf(
			"cannot await health in state %v", state))
	}
	p.mtx.Unlock()

	client, err := p.newClient()
	if err != nil {
		return err
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		_, err := client.Call(pollCtx, p.cfg.HealthMethod)
		if err == nil {
			p.mtx.Lock()
			if p.state != Starting {
				state := p.state
				p.mtx.Unlock()
				client.Shutdown()
				return makeError(ErrProcessCrashed, p.spec.Index,
					fmt.Sprintf("left %v while being polled", state))
			}
			p.state = Healthy
			p.client = client
			p.mtx.Unlock()

			log.Infof("%v healthy after %v (%d %s)", p,
				time.Since(start).Round(time.Millisecond), attempt,
				pickNoun(attempt, "attempt", "attempts"))
			return nil
		}
		lastErr = err

		if pollCtx.Err() == nil && !isRetryable(err) {
			client.Shutdown()
			return makeError(ErrStartup, p.spec.Index, fmt.Sprintf(
				"liveness call failed: %v", err))
		}
		log.Tracef("%v not ready: %v", p, err)

		select {
		case <-p.done:
			client.Shutdown()
			return makeError(ErrProcessCrashed, p.spec.Index, fmt.Sprintf(
				"exited with code %d before becoming healthy",
				p.ExitCode()))

		case <-pollCtx.Done():
			client.Shutdown()
			if ctx.Err() != nil {
				return fmt.Errorf("%v: %w", p, ctx.Err())
			}
			return makeError(ErrHealthCheckTimeout, p.spec.Index,
				fmt.Sprintf("not healthy after %v: %v", timeout, lastErr))

		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RPC returns the session of a healthy node.  The session stops working as
// soon as the node leaves the healthy state.  A crashed node returns
// ErrProcessCrashed.
func (p *Process) RPC() (*rpcclient.Client, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state == Crashed {
		return nil, makeError(ErrProcessCrashed, p.spec.Index,
			"no RPC session for a crashed node")
	}
	if p.state != Healthy || p.client == nil {
		return nil, makeError(ErrNotHealthy, p.spec.Index, fmt.Sprintf(
			"no RPC session in state %v", p.state))
	}
	return p.client, nil
}

// Stop ends the process.  A graceful stop of a healthy node asks it to shut
// down over RPC; every other case interrupts it.  If the process has not
// exited after StopTimeout the whole process group is killed.
//
// A graceful stop that ends with a failure exit code leaves the node Crashed
// and returns ErrProcessCrashed.  Stopping a Crashed node returns
// ErrProcessCrashed at once; stopping a Stopped node is a no-op.
func (p *Process) Stop(graceful bool) error {
	p.mtx.Lock()
	switch p.state {
	case NotStarted:
		p.state = Stopped
		p.mtx.Unlock()
		return nil

	case Stopped:
		p.mtx.Unlock()
		return nil

	case Crashed:
		code := p.exitCode
		p.mtx.Unlock()
		return makeError(ErrProcessCrashed, p.spec.Index, fmt.Sprintf(
			"exited unexpectedly with code %d", code))

	case Stopping:
		// Another caller is already stopping the node.
		stopDone := p.stopDone
		p.mtx.Unlock()
		<-stopDone
		return p.settledResult()
	}

	wasHealthy := p.state == Healthy
	client := p.client
	p.client = nil
	p.state = Stopping
	p.stopRequested = true
	p.stopDone = make(chan struct{})
	proc := p.cmd.Process
	p.mtx.Unlock()
	defer close(p.stopDone)

	log.Debugf("Stopping %v (graceful %v)", p, graceful)

	requested := false
	if graceful && wasHealthy && client != nil {
		ctx, cancel := context.WithTimeout(context.Background(),
			p.cfg.RPCTimeout)
		err := client.Stop(ctx)
		cancel()
		if err == nil {
			requested = true
		} else {
			log.Warnf("Stop RPC to %v failed, interrupting: %v", p, err)
		}
	}
	if client != nil {
		client.Shutdown()
	}
	if !requested {
		if err := interruptProcess(proc); err != nil {
			log.Debugf("Unable to interrupt %v: %v", p, err)
		}
	}

	forced := false
	select {
	case <-p.done:
	case <-time.After(p.cfg.StopTimeout):
		log.Warnf("%v did not exit within %v, killing it", p,
			p.cfg.StopTimeout)
		if err := killProcessGroup(proc); err != nil {
			log.Errorf("Unable to kill %v: %v", p, err)
		}
		forced = true
		<-p.done
	}

	return p.stopResult(graceful, forced)
}

// settledResult returns the outcome of a stop another caller performed.
func (p *Process) settledResult() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state == Crashed {
		return makeError(ErrProcessCrashed, p.spec.Index, fmt.Sprintf(
			"exited with code %d", p.exitCode))
	}
	return nil
}

// stopResult settles the final state once a requested stop has completed.
func (p *Process) stopResult(graceful, forced bool) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if graceful && !forced && p.exitCode > 0 {
		p.state = Crashed
		log.Errorf("%v exited with code %d during shutdown", p, p.exitCode)
		return makeError(ErrProcessCrashed, p.spec.Index, fmt.Sprintf(
			"exited with code %d during shutdown", p.exitCode))
	}

	p.state = Stopped
	log.Infof("Stopped %v", p)
	return nil
}

// Dispose kills the process without waiting for a graceful shutdown.  It
// makes Process an integration.LeakyAsset.
func (p *Process) Dispose() {
	if err := p.Stop(false); err != nil {
		log.Debugf("Dispose %v: %v", p, err)
	}
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
