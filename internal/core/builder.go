package core

import (
	"os"
	"path/filepath"
)

// RecordBuilder folds the normalized event stream from a trace backend into
// a Record, one command invocation at a time.
//
// Fold rules:
//   - Opens of directories are dropped; directory mtimes are not a useful
//     staleness signal.
//   - A repeated open of the same path with identical outcome is a no-op.
//   - A failed open followed by a successful one replaces the entry
//     entirely.
//   - Two successful opens OR their read/write flags together, merging
//     opens made by different child processes.
//   - A rename transfers the write record from the old path to the new one
//     when the old path had a successful write; this is the write-to-temp-
//     then-rename idiom, and the renamed-to path is the real output. With no
//     recorded write the rename is ambiguous and both paths are dropped,
//     which later forces a rerun because the expected output is absent.
//   - A delete removes the path outright.
//
// Every mutation invalidates the mtime cache entry for the paths it
// touches, since the traced command has just changed them behind the
// cache's back.
type RecordBuilder struct {
	cache *MtimeCache
	rec   *Record
}

// NewRecordBuilder starts a record for one invocation of command.
func NewRecordBuilder(cache *MtimeCache, command string, tBegin, tEnd float64) *RecordBuilder {
	return &RecordBuilder{
		cache: cache,
		rec: &Record{
			Command: command,
			TBegin:  tBegin,
			TEnd:    tEnd,
			Paths:   make(map[string]PathInfo),
		},
	}
}

// AddOpen folds one observed open of path.
func (b *RecordBuilder) AddOpen(path string, ret int, read, write bool) {
	path = absPath(path)
	b.cache.Invalidate(path)

	prev, seen := b.rec.Paths[path]
	if seen {
		switch {
		case prev.Ret == ret && prev.Read == read && prev.Write == write:
			// Same outcome again.
		case prev.Ret < 0 && ret >= 0:
			b.rec.Paths[path] = PathInfo{Ret: ret, Read: read, Write: write}
		case prev.Ret >= 0 && ret >= 0:
			b.rec.Paths[path] = PathInfo{
				Ret:   ret,
				Read:  prev.Read || read,
				Write: prev.Write || write,
			}
		}
		return
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return
	}
	b.rec.Paths[path] = PathInfo{Ret: ret, Read: read, Write: write}
}

// AddRename folds one observed rename.
func (b *RecordBuilder) AddRename(from, to string) {
	from = absPath(from)
	to = absPath(to)
	b.cache.Invalidate(from)
	b.cache.Invalidate(to)

	if prev, seen := b.rec.Paths[from]; seen && prev.Write && prev.Ret >= 0 {
		delete(b.rec.Paths, from)
		b.rec.Paths[to] = prev
		return
	}
	// No recorded write of the source: ambiguous, drop both sides.
	delete(b.rec.Paths, from)
	delete(b.rec.Paths, to)
}

// AddDelete folds one observed unlink. A deleted file cannot serve as a
// staleness signal.
func (b *RecordBuilder) AddDelete(path string) {
	path = absPath(path)
	b.cache.Invalidate(path)
	delete(b.rec.Paths, path)
}

// Record returns the folded record.
func (b *RecordBuilder) Record() *Record {
	return b.rec
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
