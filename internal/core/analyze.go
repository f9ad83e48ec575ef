package core

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stride/internal/tracer"
)

// CommandCompare reports whether two command strings differ significantly.
// A nil comparator means exact string equality. A custom comparator can, for
// example, ignore -W* flags in compiler commands so that warning-flag churn
// does not force recompilation.
type CommandCompare func(current, previous string) bool

// Decision is the outcome of a staleness analysis: whether to rerun, and a
// human-readable reason either way. It is computed fresh on every call and
// never persisted.
type Decision struct {
	Rerun  bool
	Reason string
}

// Analysis reason texts. These show up verbatim in run/skip diagnostics.
const (
	ReasonNoRecord    = "no info available on previous invocation"
	ReasonInterrupted = "previous invocation failed or was interrupted"
	ReasonNewCommand  = "command has changed"
	ReasonNoInputs    = "no input files found"
	ReasonNoOutputs   = "no output files found"
)

// Analyze decides whether command needs to be rerun given the record
// persisted at recordPath. It is called on every invocation, so it streams
// the record in a single pass and bails out as early as possible.
//
// Decision order:
//  1. No record file: rerun, no info available.
//  2. Empty record file: rerun, previous invocation was interrupted (the
//     executor writes this sentinel before running; see RunIfNeeded).
//  3. Command differs from the recorded one: rerun, decided before any
//     timestamp is consulted.
//  4. Otherwise compare the newest current mtime among recorded reads with
//     the oldest current mtime among recorded writes.
//
// Two asymmetries bias the timestamp comparison toward rerunning: a path
// whose read failed last time but which exists now is treated as read "now"
// (the command may succeed where it previously failed), and a recorded
// write that has since vanished counts as maximally stale. Equal timestamps
// are up to date; the newest read and oldest write may be the same file.
func Analyze(cache *MtimeCache, recordPath, command string, compare CommandCompare) Decision {
	f, err := os.Open(recordPath)
	if err != nil {
		return Decision{Rerun: true, Reason: ReasonNoRecord}
	}
	defer f.Close()

	var (
		haveRead        bool
		newestRead      time.Time
		newestReadPath  string
		haveWrite       bool
		oldestWrite     time.Time
		oldestWritePath string
		prevCommand     string
		numLines        int
	)

	now := time.Now()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		numLines++

		if prevCommand == "" && strings.HasPrefix(line, commandPrefix) {
			prevCommand = strings.TrimPrefix(line, commandPrefix)
			differs := prevCommand != command
			if compare != nil {
				differs = compare(command, prevCommand)
			}
			if differs {
				return Decision{Rerun: true, Reason: ReasonNewCommand}
			}
			continue
		}
		if strings.HasPrefix(line, tBeginPrefix) || strings.HasPrefix(line, tEndPrefix) {
			continue
		}

		path, info, ok := parsePathLine(line)
		if !ok {
			continue
		}
		// Records written by older builds may still carry volatile paths;
		// skip them here as well as at normalization time.
		if tracer.IgnorePath(path) {
			continue
		}

		t, exists := cache.Mtime(path)

		if info.Read && !info.Write && info.Ret < 0 && exists {
			// Open for reading failed last time but the file exists now, so
			// the command might now pick it up: pretend it is brand new.
			newestRead = now
			newestReadPath = path
			haveRead = true
		}
		if info.Read && info.Ret >= 0 {
			switch {
			case !exists:
				// Input has been removed.
				newestRead = now
				newestReadPath = path
				haveRead = true
			case !haveRead || t.After(newestRead):
				newestRead = t
				newestReadPath = path
				haveRead = true
			}
		}
		if info.Write && info.Ret >= 0 {
			switch {
			case !exists:
				// Output has been removed: maximally stale.
				oldestWrite = time.Unix(0, 0)
				oldestWritePath = path
				haveWrite = true
			case !haveWrite || t.Before(oldestWrite):
				oldestWrite = t
				oldestWritePath = path
				haveWrite = true
			}
		}
	}

	switch {
	case numLines == 0:
		return Decision{Rerun: true, Reason: ReasonInterrupted}
	case !haveRead:
		return Decision{Rerun: true, Reason: ReasonNoInputs}
	case !haveWrite:
		return Decision{Rerun: true, Reason: ReasonNoOutputs}
	case newestRead.After(oldestWrite):
		return Decision{
			Rerun:  true,
			Reason: fmt.Sprintf("input is new: %q", displayPath(newestReadPath)),
		}
	default:
		return Decision{
			Rerun: false,
			Reason: fmt.Sprintf("newest input %q not newer than oldest output %q",
				displayPath(newestReadPath), displayPath(oldestWritePath)),
		}
	}
}

// displayPath shortens a path relative to the current directory for
// diagnostics only; decisions always use absolute paths.
func displayPath(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
