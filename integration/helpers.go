// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package integration

import "os"

// FileExists returns true when file exists, and false otherwise.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
