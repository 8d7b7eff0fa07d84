// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// manifestName is the file describing a committed entry.
const manifestName = "manifest.json"

// FileEntry describes one cached file.  Path is relative to the entry root
// and uses forward slashes.
type FileEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"blake2b"`
}

// Manifest describes a committed cache entry.
type Manifest struct {
	Version     int         `json:"version"`
	Fingerprint Fingerprint `json:"fingerprint"`
	NodeCount   int         `json:"nodecount"`
	CreatedAt   time.Time   `json:"createdat"`
	Files       []FileEntry `json:"files"`
}

// TotalSize returns the number of cached bytes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// readManifest loads the manifest of the entry in dir.
func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported entry version %d", m.Version)
	}
	return &m, nil
}

// writeManifest stores m in dir and syncs it to disk.
func writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, manifestName),
		os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// verify checks that the entry in dir holds every file of the manifest with
// the recorded size and digest.
func (m *Manifest) verify(dir string, fp Fingerprint) error {
	if m.Fingerprint != fp {
		return fmt.Errorf("manifest is for %s", m.Fingerprint.Short())
	}
	for i := 0; i < m.NodeCount; i++ {
		fi, err := os.Stat(filepath.Join(dir, nodeDirName(i)))
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", nodeDirName(i))
		}
	}
	for _, f := range m.Files {
		path := filepath.Join(dir, filepath.FromSlash(f.Path))
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if fi.Size() != f.Size {
			return fmt.Errorf("%s: size %d, want %d", f.Path, fi.Size(),
				f.Size)
		}
		digest, err := FileDigest(path)
		if err != nil {
			return err
		}
		if hex.EncodeToString(digest[:]) != f.Digest {
			return fmt.Errorf("%s: digest mismatch", f.Path)
		}
	}
	return nil
}

// nodeDirName returns the entry subdirectory holding the data of a node.
func nodeDirName(index int) string {
	return fmt.Sprintf("node%d", index)
}
