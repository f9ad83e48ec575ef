package tracer

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// StraceBackend traces a command with strace, restricted to file syscalls.
// It is the default on Linux.
//
// The parser recognizes the handful of line shapes strace emits for
// open/openat, rename/renameat/renameat2 and unlink/unlinkat. Everything
// else (unfinished syscalls, signals, exit lines, syscalls we do not care
// about) is skipped.
type StraceBackend struct{}

func (*StraceBackend) Name() string { return "trace" }

// Wrap runs command under strace, following children, logging file syscalls
// to logPath.
func (*StraceBackend) Wrap(command, logPath string) (string, error) {
	return fmt.Sprintf("strace -f -o %s -q -qq -e trace=%%file %s", logPath, command), nil
}

var (
	// 1234  openat(AT_FDCWD, "/usr/include/stdio.h", O_RDONLY|O_CLOEXEC) = 3
	straceOpenat = regexp.MustCompile(`^[0-9]+ +openat\(([A-Z0-9_]+), "([^"]*)", ([^)]+)\) = (-?[0-9]+)`)

	// 1234  open("/usr/include/stdio.h", O_RDONLY) = 3
	straceOpen = regexp.MustCompile(`^[0-9]+ +open\("([^"]*)", ([A-Z|_0-9]+)\) = (-?[0-9]+)`)

	// 1234  rename("b", "c") = 0
	straceRename = regexp.MustCompile(`^[0-9]+ +rename\("([^"]*)", "([^"]*)"\) = (-?[0-9]+)`)

	// 1234  renameat2(AT_FDCWD, "b", AT_FDCWD, "c", RENAME_NOREPLACE) = 0
	straceRenameat = regexp.MustCompile(`^[0-9]+ +renameat2?\([A-Z0-9_]+, "([^"]*)", [A-Z0-9_]+, "([^"]*)"[^)]*\) = (-?[0-9]+)`)

	// 1234  unlink("b") = 0
	straceUnlink = regexp.MustCompile(`^[0-9]+ +unlink\("([^"]*)"\) = (-?[0-9]+)`)

	// 1234  unlinkat(AT_FDCWD, "b", 0) = 0
	straceUnlinkat = regexp.MustCompile(`^[0-9]+ +unlinkat\([A-Z0-9_]+, "([^"]*)"[^)]*\) = (-?[0-9]+)`)
)

// Parse reads the strace log and emits normalized events.
func (*StraceBackend) Parse(logPath string, emit func(Event)) error {
	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("opening strace log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := straceOpenat.FindStringSubmatch(line); m != nil {
			emitOpen(emit, m[2], m[3], m[4])
			continue
		}
		if m := straceOpen.FindStringSubmatch(line); m != nil {
			emitOpen(emit, m[1], m[2], m[3])
			continue
		}
		if m := straceRename.FindStringSubmatch(line); m != nil {
			if ret, _ := strconv.Atoi(m[3]); ret == 0 {
				emit(Event{Kind: EventRename, From: m[1], To: m[2]})
			}
			continue
		}
		if m := straceRenameat.FindStringSubmatch(line); m != nil {
			if ret, _ := strconv.Atoi(m[3]); ret == 0 {
				emit(Event{Kind: EventRename, From: m[1], To: m[2]})
			}
			continue
		}
		if m := straceUnlink.FindStringSubmatch(line); m != nil {
			if ret, _ := strconv.Atoi(m[2]); ret == 0 {
				emit(Event{Kind: EventDelete, Path: m[1]})
			}
			continue
		}
		if m := straceUnlinkat.FindStringSubmatch(line); m != nil {
			if ret, _ := strconv.Atoi(m[2]); ret == 0 {
				emit(Event{Kind: EventDelete, Path: m[1]})
			}
			continue
		}
	}
	return scanner.Err()
}

// emitOpen classifies the open's flags into read/write by access-mode bits
// and emits the event unless the path is a known-volatile location.
func emitOpen(emit func(Event), path, flags, retText string) {
	if IgnorePath(path) {
		return
	}
	ret, err := strconv.Atoi(retText)
	if err != nil {
		return
	}
	read := strings.Contains(flags, "O_RDONLY") || strings.Contains(flags, "O_RDWR")
	write := strings.Contains(flags, "O_WRONLY") || strings.Contains(flags, "O_RDWR")
	emit(Event{Kind: EventOpen, Path: path, Ret: ret, Read: read, Write: write})
}
