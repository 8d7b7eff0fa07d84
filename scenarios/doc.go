// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package scenarios holds the scenarios shipped with the harness.

A scenario implements harness.Scenario: SetupNetwork shapes the network before
anything is started and RunTest drives the started nodes over RPC.  The
Registry maps the names accepted on the command line to scenario
constructors.

CreateCache does nothing beyond what every run does, so running it primes and
stores the chain for the configured network.
*/
package scenarios
