// Package tracer observes the file accesses of a command by wrapping it in
// one of two interchangeable backends: a syscall tracer (strace) or an
// LD_PRELOAD interposition shim. Both normalize their raw log output into
// the same stream of open/rename/delete events.
package tracer

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// EventKind discriminates normalized trace events.
type EventKind int

const (
	EventOpen EventKind = iota
	EventRename
	EventDelete
)

// Event is one normalized file access. Events are transient: they are folded
// straight into an access record and never persisted.
type Event struct {
	Kind EventKind

	// Open and Delete.
	Path string

	// Open only.
	Ret   int
	Read  bool
	Write bool

	// Rename only.
	From string
	To   string
}

// Backend wraps a command so its file accesses are logged to a side file,
// then parses that file back into events.
//
// Parse is best-effort: lines it does not recognize are silently skipped. A
// missed event can only bias the analysis toward rerunning, never toward
// incorrectly skipping.
type Backend interface {
	Name() string

	// Wrap returns the shell command that runs command with tracing enabled,
	// logging to logPath.
	Wrap(command, logPath string) (string, error)

	// Parse reads the raw log at logPath and emits normalized events in
	// observation order.
	Parse(logPath string, emit func(Event)) error
}

// ErrUnsupportedPlatform is returned when no trace backend is available for
// the current OS.
var ErrUnsupportedPlatform = errors.New("no trace backend available on this platform")

// Select resolves a backend by name. An empty name or "auto" picks the
// platform default.
func Select(name string) (Backend, error) {
	switch name {
	case "", "auto":
		if runtime.GOOS == "linux" {
			return &StraceBackend{}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	case "trace", "strace":
		return &StraceBackend{}, nil
	case "preload":
		return &PreloadBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown trace backend %q", name)
	}
}

// ignorePrefixes are volatile locations whose mtimes are not meaningful
// build signals: scratch space, kernel virtual filesystems, and the dynamic
// linker's caches (which the loader touches on nearly every exec and which
// the system updates at unpredictable times).
var ignorePrefixes = []string{
	"/tmp/",
	"/sys/",
	"/proc/",
	"/dev/",
	"/etc/ld.so",
	"/var/run/ld.so.hints",
}

// IgnorePath reports whether opens of path should be kept out of access
// records. Applied by every backend before an open event is emitted.
func IgnorePath(path string) bool {
	for _, prefix := range ignorePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// SetIgnorePrefixes replaces the exclusion list and returns the previous one.
// Tests stage their fixtures in scratch space, which the default list would
// filter out; they swap the list and restore it on cleanup.
func SetIgnorePrefixes(prefixes []string) []string {
	old := ignorePrefixes
	ignorePrefixes = prefixes
	return old
}
