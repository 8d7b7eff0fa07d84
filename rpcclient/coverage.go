// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// CoverageFilePrefix is the file name prefix of every per-client coverage
// log written into a coverage directory.
const CoverageFilePrefix = "coverage."

// coverageLog appends the name of each method called through a client to a
// file.  A nil coverageLog records nothing.
type coverageLog struct {
	mtx  sync.Mutex
	file *os.File
}

func openCoverageLog(path string) (*coverageLog, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("unable to open coverage file: %w", err)
	}
	return &coverageLog{file: f}, nil
}

func (c *coverageLog) record(method string) {
	if c == nil {
		return
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.file == nil {
		return
	}
	if _, err := fmt.Fprintln(c.file, method); err != nil {
		log.Warnf("Unable to record coverage for %s: %v", method, err)
	}
}

func (c *coverageLog) close() {
	if c == nil {
		return
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.file != nil {
		c.file.Close()
		c.file = nil
	}
}

// ReadCoverage tallies the method names recorded by every coverage file in
// dir.
func ReadCoverage(dir string) (map[string]int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, CoverageFilePrefix+"*"))
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			method := strings.TrimSpace(scanner.Text())
			if method != "" {
				counts[method]++
			}
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// UncoveredMethods returns the sorted subset of methods never seen in counts.
func UncoveredMethods(counts map[string]int, methods []string) []string {
	var missing []string
	for _, method := range methods {
		if counts[method] == 0 {
			missing = append(missing, method)
		}
	}
	sort.Strings(missing)
	return missing
}
