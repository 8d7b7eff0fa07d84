// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package integration tracks resources that outlive a single function call,
such as node processes and temporary directories, so that none of them
survives the harness run that created it.

disposable.go provides the registry of leaky assets.  Every node process
registers itself on launch and leaves the registry once it has exited;
ForceDisposeLeakyAssets tears everything down in reverse order.

tempdir.go offers temporary directories management.

gobuilder builds Go executables, such as the stand-in node, for tests.
*/
package integration
