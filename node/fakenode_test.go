// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
)

// fakeNodeEnv selects the behaviour of the test binary when it is launched
// as a node.
const fakeNodeEnv = "CHAINHARNESS_FAKE_NODE"

// Behaviours of the fake node.
const (
	fakeOK        = "ok"
	fakeWarmup    = "warmup"
	fakeSlow      = "slow"
	fakeCrash     = "crash"
	fakeExitStart = "exitstart"
	fakeFailStop  = "failstop"
	fakeStubborn  = "stubborn"
)

// readFakeConfig returns the key/value pairs of the config file named by the
// --configfile argument.
func readFakeConfig(args []string) map[string]string {
	opts := make(map[string]string)
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--configfile=") {
			continue
		}
		f, err := os.Open(strings.TrimPrefix(arg, "--configfile="))
		if err != nil {
			return opts
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if k, v, ok := strings.Cut(line, "="); ok {
				opts[k] = v
			}
		}
	}
	return opts
}

// runFakeNode serves a minimal JSON-RPC interface on the configured rpclisten
// address and returns the process exit code.
func runFakeNode(mode string) int {
	if mode == fakeExitStart {
		return 2
	}
	opts := readFakeConfig(os.Args[1:])

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	exit := make(chan int, 1)
	go func() {
		for range interrupt {
			if mode != fakeStubborn {
				exit <- 0
				return
			}
		}
	}()

	// A slow node never opens its RPC port.
	if mode == fakeSlow {
		return <-exit
	}
	if mode == fakeCrash {
		go func() {
			time.Sleep(500 * time.Millisecond)
			exit <- 3
		}()
	}

	listener, err := net.Listen("tcp", opts["rpclisten"])
	if err != nil {
		return 4
	}

	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req btcjson.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result interface{}
		var rpcErr *btcjson.RPCError
		switch req.Method {
		case "getblockcount":
			if mode == fakeWarmup && atomic.AddInt32(&calls, 1) < 3 {
				rpcErr = btcjson.NewRPCError(btcjson.ErrRPCInWarmup,
					"Loading block index...")
			} else {
				result = 7
			}
		case "stop":
			result = "node stopping"
			if mode != fakeStubborn {
				code := 0
				if mode == fakeFailStop {
					code = 1
				}
				go func() {
					time.Sleep(20 * time.Millisecond)
					exit <- code
				}()
			}
		default:
			rpcErr = btcjson.ErrRPCMethodNotFound
		}

		reply, _ := btcjson.MarshalResponse(btcjson.RpcVersion1, req.ID,
			result, rpcErr)
		w.Write(reply)
	})
	go http.Serve(listener, handler)

	return <-exit
}
