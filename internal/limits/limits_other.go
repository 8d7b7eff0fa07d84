// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !linux && !darwin

package limits

// SetLimits is a no-op on platforms without a tunable open file limit.
func SetLimits(nodes int) error {
	return nil
}
