// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package commandline

Provides helpers to run external command-line tools, such as the `go` code
builder, and to render flag maps into node command lines.
*/
package commandline
