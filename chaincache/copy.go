// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincache

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

// DefaultExcludes are the file name patterns never cached: logs, pid files,
// peer and fee state, credentials and config files, all of which are
// rewritten by the next run.
var DefaultExcludes = []string{
	"debug.log*",
	"*.pid",
	"peers.dat",
	"fee_estimates.dat",
	".cookie",
	"*.conf",
}

// excluded reports whether the base name matches one of the patterns.
func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// copyFile copies src to dst, creating dst with the given mode, and returns
// the number of bytes copied and their blake2b-256 digest.
func copyFile(src, dst string, mode fs.FileMode) (int64, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY,
		mode.Perm())
	if err != nil {
		return 0, "", err
	}

	h, _ := blake2b.New256(nil)
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		out.Close()
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// copyTree copies the regular files below src into dst, skipping names that
// match the patterns, and returns an entry per copied file.  Entry paths are
// prefixed with prefix.
func copyTree(src, dst, prefix string, patterns []string) ([]FileEntry, error) {
	var files []FileEntry
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel != "." && excluded(d.Name(), patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)

		case !info.Mode().IsRegular():
			log.Debugf("Skipping non-regular file %s", p)
			return nil
		}

		size, digest, err := copyFile(p, target, info.Mode())
		if err != nil {
			return err
		}
		files = append(files, FileEntry{
			Path:   path.Join(prefix, filepath.ToSlash(rel)),
			Size:   size,
			Digest: digest,
		})
		return nil
	})
	return files, err
}
