package tracer

import (
	"bufio"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// The shim source lives in its own subdirectory: a loose .c file next to Go
// sources would be claimed by the cgo build when CGO_ENABLED=1.
//
//go:embed shim/interpose.c
var interposeSource string

const (
	shimSourcePath = "/tmp/stride_interpose.c"
	shimLibPath    = "/tmp/stride_interpose.so"

	// traceOutEnv names the log file for the shim; part of the wire
	// contract with interpose.c.
	traceOutEnv = "STRIDE_TRACE_OUT"
)

// PreloadBackend loads a native interposition shim into the target process
// with LD_PRELOAD. The shim intercepts open/rename/unlink entry points and
// appends one line per operation to the file named by STRIDE_TRACE_OUT; the
// backend here only builds the shim and parses that log.
//
// The shim library is built at most once per process, and rebuilt when the
// embedded source no longer matches what is on disk.
type PreloadBackend struct{}

func (*PreloadBackend) Name() string { return "preload" }

var (
	shimMu       sync.Mutex
	shimUpToDate bool
)

// ensureShim writes the embedded C source out and compiles it if the source
// changed since the library was last built. Returns the library path.
func ensureShim() (string, error) {
	shimMu.Lock()
	defer shimMu.Unlock()

	if shimUpToDate {
		return shimLibPath, nil
	}

	if err := writeIfChanged(shimSourcePath, interposeSource); err != nil {
		return "", fmt.Errorf("writing shim source: %w", err)
	}
	if shimMtime(shimSourcePath).After(shimMtime(shimLibPath)) {
		ldl := ""
		if runtime.GOOS == "linux" {
			ldl = "-ldl"
		}
		build := fmt.Sprintf("gcc -g -W -Wall -shared -fPIC %s -o %s %s", ldl, shimLibPath, shimSourcePath)
		cmd := exec.Command("sh", "-c", build)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("building interposition shim: %w: %s", err, strings.TrimSpace(string(out)))
		}
	}
	shimUpToDate = true
	return shimLibPath, nil
}

// Wrap prefixes command so the shim is preloaded into it and logs to
// logPath. Building the shim can fail, and that failure is immediate and
// fatal rather than deferred.
func (*PreloadBackend) Wrap(command, logPath string) (string, error) {
	lib, err := ensureShim()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LD_PRELOAD=%s %s=%s %s", lib, traceOutEnv, logPath, command), nil
}

// Parse reads the shim's log. Lines are `r <from> <to>` for renames,
// `d <path>` for deletes, and `<ret> <rw> <path>` for opens; anything else
// is skipped.
func (*PreloadBackend) Parse(logPath string, emit func(Event)) error {
	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("opening shim log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "r "):
			parts := strings.Split(line, " ")
			if len(parts) != 3 {
				continue
			}
			emit(Event{Kind: EventRename, From: parts[1], To: parts[2]})
		case strings.HasPrefix(line, "d "):
			emit(Event{Kind: EventDelete, Path: line[2:]})
		default:
			sp := strings.IndexByte(line, ' ')
			if sp < 0 || len(line) < sp+5 || line[sp+3] != ' ' {
				continue
			}
			ret, err := strconv.Atoi(line[:sp])
			if err != nil {
				continue
			}
			path := line[sp+4:]
			if IgnorePath(path) {
				continue
			}
			emit(Event{
				Kind:  EventOpen,
				Path:  path,
				Ret:   ret,
				Read:  line[sp+1] == 'r',
				Write: line[sp+2] == 'w',
			})
		}
	}
	return scanner.Err()
}

// writeIfChanged writes content to path only when the current content
// differs, via a sibling temp file and rename.
func writeIfChanged(path, content string) error {
	if current, err := os.ReadFile(path); err == nil && string(current) == content {
		return nil
	}
	tmp := path + "-"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func shimMtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
