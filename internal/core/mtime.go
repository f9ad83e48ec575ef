// Package core implements the access-record model and the rerun-or-skip
// decision machinery built on top of it.
package core

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// markNewTime is far enough in the future that a path marked new always
// compares newer than any real output mtime: ten thousand years past the
// epoch, expressed in seconds to stay clear of Duration's int64 range.
var markNewTime = time.Unix(3600*24*365*10*1000, 0)

// MtimeCache memoizes file modification times for the lifetime of a process
// (or test).
//
// Contract:
//   - Once a path has been queried, its timestamp is frozen until explicitly
//     invalidated. Anything that mutates the filesystem outside the record
//     builder's own event folding must call Invalidate itself.
//   - Stat failures are not surfaced; a missing or unreadable file reports
//     ok=false and the negative result is memoized like any other.
//
// The cache is an injected dependency, not a package global, so concurrent
// schedulers and tests can hold isolated instances.
type MtimeCache struct {
	mu sync.Mutex
	// entries maps absolute path to its memoized mtime. ok=false records a
	// memoized "file absent" result.
	entries map[string]mtimeEntry
}

type mtimeEntry struct {
	t  time.Time
	ok bool
}

// NewMtimeCache returns an empty cache.
func NewMtimeCache() *MtimeCache {
	return &MtimeCache{entries: make(map[string]mtimeEntry)}
}

// Mtime returns the memoized modification time of path. ok is false if the
// file could not be stat'ed when first queried (and that answer is now
// frozen too).
func (c *MtimeCache) Mtime(path string) (t time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, seen := c.entries[path]; seen {
		return e.t, e.ok
	}
	e := mtimeEntry{}
	if info, err := os.Stat(path); err == nil {
		e.t = info.ModTime()
		e.ok = true
	}
	c.entries[path] = e
	return e.t, e.ok
}

// MtimeOr returns the memoized mtime of path, or def if the file is absent.
func (c *MtimeCache) MtimeOr(path string, def time.Time) time.Time {
	if t, ok := c.Mtime(path); ok {
		return t
	}
	return def
}

// Invalidate drops the memoized entry for a single path.
func (c *MtimeCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// InvalidateAll drops every memoized entry.
func (c *MtimeCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]mtimeEntry)
}

// MarkNew pins path to a far-future timestamp, so any analysis treats it as
// brand new (the moral equivalent of make's -W).
func (c *MtimeCache) MarkNew(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[abs] = mtimeEntry{t: markNewTime, ok: true}
}

// MarkOld pins path to the epoch, so any analysis treats it as maximally old.
func (c *MtimeCache) MarkOld(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[abs] = mtimeEntry{t: time.Unix(0, 0), ok: true}
}
