// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincache

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/blake2b"
)

// FormatVersion is bumped whenever the entry layout changes so older entries
// are never read.
const FormatVersion = 1

// Fingerprint identifies the inputs a cache entry was built from.  It is the
// hex string of a chainhash digest and doubles as the entry directory name.
type Fingerprint string

// String returns the fingerprint as a string.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns the first 12 characters of the fingerprint for logging.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// FingerprintParams lists every input that changes the cached chain state.
type FingerprintParams struct {
	// NodeExecutable is the node binary.  Its contents, not its path, are
	// part of the fingerprint.
	NodeExecutable string

	// ChainParams is the network the nodes run on.
	ChainParams *chaincfg.Params

	// NodeCount is the number of data directories in the entry.
	NodeCount int

	// PrimeRounds and BlocksPerRound describe how the chain was mined.
	PrimeRounds    int
	BlocksPerRound int

	// MockTimeStart and BlockSpacing set the timestamps of the mined
	// blocks, in seconds.
	MockTimeStart int64
	BlockSpacing  int64

	// KeyArgs are node settings declared as affecting the cached state.
	// Node flags not listed here are ignored.
	KeyArgs map[string]string
}

// FileDigest returns the blake2b-256 digest of the file contents.
func FileDigest(path string) ([blake2b.Size256]byte, error) {
	var digest [blake2b.Size256]byte

	f, err := os.Open(path)
	if err != nil {
		return digest, err
	}
	defer f.Close()

	h, _ := blake2b.New256(nil)
	if _, err := io.Copy(h, f); err != nil {
		return digest, err
	}
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// writeString writes a length prefixed string.
func writeString(buf *bytes.Buffer, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
}

// writeUint64 writes v in little endian.
func writeUint64(buf *bytes.Buffer, v uint64) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], v)
	buf.Write(n[:])
}

// ComputeFingerprint returns the fingerprint of params.  Two parameter sets
// yield the same fingerprint exactly when they would produce the same cached
// chain state.
func ComputeFingerprint(params FingerprintParams) (Fingerprint, error) {
	if params.ChainParams == nil {
		return "", errors.New("no chain parameters")
	}
	if params.NodeCount <= 0 {
		return "", errors.New("node count must be positive")
	}

	binDigest, err := FileDigest(params.NodeExecutable)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	writeUint64(&buf, FormatVersion)
	buf.Write(binDigest[:])
	writeString(&buf, params.ChainParams.Name)
	writeUint64(&buf, uint64(params.ChainParams.Net))
	writeUint64(&buf, uint64(params.ChainParams.CoinbaseMaturity))
	writeUint64(&buf, uint64(params.NodeCount))
	writeUint64(&buf, uint64(params.PrimeRounds))
	writeUint64(&buf, uint64(params.BlocksPerRound))
	writeUint64(&buf, uint64(params.MockTimeStart))
	writeUint64(&buf, uint64(params.BlockSpacing))

	keys := make([]string, 0, len(params.KeyArgs))
	for key := range params.KeyArgs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	writeUint64(&buf, uint64(len(keys)))
	for _, key := range keys {
		writeString(&buf, key)
		writeString(&buf, params.KeyArgs[key])
	}

	hash := chainhash.HashH(buf.Bytes())
	return Fingerprint(hex.EncodeToString(hash[:])), nil
}
