// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/chainharness/internal/lockfile"
	"github.com/btcsuite/chainharness/node"
	"github.com/google/uuid"
)

// stagingPrefix marks the directories captures are assembled in before they
// are committed.
const stagingPrefix = ".staging-"

// Contributor is a stopped node whose data directory is captured.
// *node.Process satisfies it.
type Contributor interface {
	DataDir() string
	State() node.State
}

// Option configures a Manager.
type Option func(*Manager)

// WithExcludes adds file name patterns, in filepath.Match syntax, to the
// files left out of captures.
func WithExcludes(patterns ...string) Option {
	return func(m *Manager) {
		m.excludes = append(m.excludes, patterns...)
	}
}

// Manager stores the data directories of primed nodes, keyed by fingerprint,
// below a root directory.  Entries are committed atomically: a reader either
// sees a complete entry matching its manifest or nothing.
//
// Concurrent harness runs may share a root.  Captures of one fingerprint are
// serialized by an exclusive file lock; restores hold it shared.
type Manager struct {
	root     string
	excludes []string
}

// NewManager returns a manager for the cache below root, creating root if it
// does not exist.
func NewManager(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, errors.New("no cache directory")
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, err
	}
	m := &Manager{
		root:     root,
		excludes: append([]string(nil), DefaultExcludes...),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the cache directory.
func (m *Manager) Root() string {
	return m.root
}

// entryDir returns the directory of the entry for fp.
func (m *Manager) entryDir(fp Fingerprint) string {
	return filepath.Join(m.root, string(fp))
}

// lock takes the lock guarding the entry for fp.
func (m *Manager) lock(fp Fingerprint, exclusive bool) (*lockfile.Lock, error) {
	return lockfile.Acquire(filepath.Join(m.root, string(fp)+".lock"),
		exclusive)
}

// Has reports whether a committed entry exists for fp.  It does not verify
// the entry contents.
func (m *Manager) Has(fp Fingerprint) bool {
	_, err := os.Stat(filepath.Join(m.entryDir(fp), manifestName))
	return err == nil
}

// load reads and verifies the entry for fp.  A missing entry yields
// ErrCacheMiss and a damaged one ErrCacheCorrupt.
func (m *Manager) load(fp Fingerprint) (*Manifest, error) {
	dir := m.entryDir(fp)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, makeError(ErrCacheMiss, fmt.Sprintf("no entry for %s",
			fp.Short()))
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return nil, makeError(ErrCacheCorrupt, fmt.Sprintf("entry %s has "+
			"no readable manifest: %v", fp.Short(), err))
	}
	if err := manifest.verify(dir, fp); err != nil {
		return nil, makeError(ErrCacheCorrupt, fmt.Sprintf("entry %s "+
			"does not match its manifest: %v", fp.Short(), err))
	}
	return manifest, nil
}

// Restore copies the cached data directory of every node into the matching
// destination, dests[i] receiving the data of node i.  Every file is verified
// against the manifest before anything is copied.  A damaged entry is removed
// and reported as ErrCacheCorrupt, which callers treat like a miss.
func (m *Manager) Restore(fp Fingerprint, dests []string) error {
	lock, err := m.lock(fp, false)
	if err != nil {
		return err
	}

	manifest, err := m.load(fp)
	if errors.Is(err, ErrCacheCorrupt) {
		lock.Release()
		log.Warnf("Discarding cache entry: %v", err)
		if perr := m.purgeIfCorrupt(fp); perr != nil {
			log.Errorf("Unable to remove entry %s: %v", fp.Short(), perr)
		}
		return err
	}
	defer lock.Release()
	if err != nil {
		return err
	}

	if len(dests) != manifest.NodeCount {
		return makeError(ErrNodeCountMismatch, fmt.Sprintf("entry %s "+
			"holds %d nodes, %d requested", fp.Short(), manifest.NodeCount,
			len(dests)))
	}

	dir := m.entryDir(fp)
	for i, dest := range dests {
		if err := os.MkdirAll(dest, 0700); err != nil {
			return err
		}
		_, err := copyTree(filepath.Join(dir, nodeDirName(i)), dest, "", nil)
		if err != nil {
			return fmt.Errorf("restore node%d: %w", i, err)
		}
	}

	log.Infof("Restored %d %s from cache entry %s (%d files, %d bytes)",
		len(dests), pickNoun(len(dests), "node", "nodes"), fp.Short(),
		len(manifest.Files), manifest.TotalSize())
	return nil
}

// Capture stores the data directories of the contributors as the entry for
// fp, contributor i becoming node i.  Every contributor must be stopped
// cleanly, otherwise ErrCaptureUnclean is returned and nothing is written.
// Capturing over a valid entry leaves it untouched.
func (m *Manager) Capture(fp Fingerprint, contributors []Contributor) error {
	if len(contributors) == 0 {
		return makeError(ErrNodeCountMismatch, "no contributors")
	}
	for i, c := range contributors {
		if state := c.State(); state != node.Stopped {
			return makeError(ErrCaptureUnclean, fmt.Sprintf("node%d is "+
				"%v, refusing to cache its data", i, state))
		}
	}

	lock, err := m.lock(fp, true)
	if err != nil {
		return err
	}
	defer lock.Release()

	_, err = m.load(fp)
	switch {
	case err == nil:
		log.Infof("Cache entry %s already present", fp.Short())
		return nil

	case errors.Is(err, ErrCacheCorrupt):
		log.Warnf("Replacing cache entry: %v", err)
		if err := os.RemoveAll(m.entryDir(fp)); err != nil {
			return err
		}

	case !errors.Is(err, ErrCacheMiss):
		return err
	}

	staging := filepath.Join(m.root, fmt.Sprintf("%s%s-%s", stagingPrefix,
		fp, uuid.NewString()))
	if err := os.Mkdir(staging, 0700); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	manifest := &Manifest{
		Version:     FormatVersion,
		Fingerprint: fp,
		NodeCount:   len(contributors),
		CreatedAt:   time.Now().UTC(),
	}
	for i, c := range contributors {
		name := nodeDirName(i)
		dst := filepath.Join(staging, name)
		if err := os.Mkdir(dst, 0700); err != nil {
			return err
		}
		files, err := copyTree(c.DataDir(), dst, name, m.excludes)
		if err != nil {
			return fmt.Errorf("capture node%d: %w", i, err)
		}
		manifest.Files = append(manifest.Files, files...)
	}
	if err := writeManifest(staging, manifest); err != nil {
		return err
	}

	if err := os.Rename(staging, m.entryDir(fp)); err != nil {
		return err
	}
	committed = true

	log.Infof("Cached %d %s as entry %s (%d files, %d bytes)",
		len(contributors), pickNoun(len(contributors), "node", "nodes"),
		fp.Short(), len(manifest.Files), manifest.TotalSize())
	return nil
}

// Purge removes the entry for fp.  Removing a missing entry is not an error.
func (m *Manager) Purge(fp Fingerprint) error {
	lock, err := m.lock(fp, true)
	if err != nil {
		return err
	}
	defer lock.Release()

	return os.RemoveAll(m.entryDir(fp))
}

// purgeIfCorrupt removes the entry for fp if it still fails verification
// once the exclusive lock is held.  An entry committed by a concurrent
// capture in between is kept.
func (m *Manager) purgeIfCorrupt(fp Fingerprint) error {
	lock, err := m.lock(fp, true)
	if err != nil {
		return err
	}
	defer lock.Release()

	if _, err := m.load(fp); !errors.Is(err, ErrCacheCorrupt) {
		return nil
	}
	return os.RemoveAll(m.entryDir(fp))
}

// EntryInfo summarizes a committed entry.
type EntryInfo struct {
	Fingerprint Fingerprint
	NodeCount   int
	CreatedAt   time.Time
	Files       int
	Size        int64
}

// Entries lists the committed entries, newest first.  Directories without a
// readable manifest are not listed.
func (m *Manager) Entries() ([]EntryInfo, error) {
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}

	var entries []EntryInfo
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		manifest, err := readManifest(filepath.Join(m.root, d.Name()))
		if err != nil {
			continue
		}
		entries = append(entries, EntryInfo{
			Fingerprint: Fingerprint(d.Name()),
			NodeCount:   manifest.NodeCount,
			CreatedAt:   manifest.CreatedAt,
			Files:       len(manifest.Files),
			Size:        manifest.TotalSize(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Prune keeps the newest keep entries and removes the others, along with
// staging directories left behind by interrupted captures.  It returns the
// number of entries removed.
func (m *Manager) Prune(keep int) (int, error) {
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		return 0, err
	}
	for _, d := range dirents {
		name := d.Name()
		if !d.IsDir() || !strings.HasPrefix(name, stagingPrefix) {
			continue
		}

		// A staging directory is only abandoned when no capture of its
		// fingerprint is running.
		fp, _, ok := strings.Cut(strings.TrimPrefix(name, stagingPrefix), "-")
		if !ok {
			continue
		}
		lock, err := lockfile.TryAcquire(filepath.Join(m.root, fp+".lock"))
		if err != nil {
			continue
		}
		log.Debugf("Removing abandoned staging directory %s", name)
		os.RemoveAll(filepath.Join(m.root, name))
		lock.Release()
	}

	entries, err := m.Entries()
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	removed := 0
	for i := keep; i < len(entries); i++ {
		if err := m.Purge(entries[i].Fingerprint); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
