package tracer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func parseLog(t *testing.T, backend Backend, content string) []Event {
	t.Helper()
	log := filepath.Join(t.TempDir(), "trace.log")
	require.NoError(t, os.WriteFile(log, []byte(content), 0o644))

	var events []Event
	require.NoError(t, backend.Parse(log, func(ev Event) { events = append(events, ev) }))
	return events
}

func TestStrace_WrapFollowsChildrenAndFiltersFileSyscalls(t *testing.T) {
	b := &StraceBackend{}
	wrapped, err := b.Wrap("cc -c foo.c", "/work/rec-1")
	require.NoError(t, err)
	require.Equal(t, "strace -f -o /work/rec-1 -q -qq -e trace=%file cc -c foo.c", wrapped)
}

func TestStrace_ParseOpenVariants(t *testing.T) {
	events := parseLog(t, &StraceBackend{}, ""+
		`1234  openat(AT_FDCWD, "/work/foo.c", O_RDONLY|O_CLOEXEC) = 3`+"\n"+
		`1234  open("/work/foo.o", O_WRONLY|O_CREAT|O_TRUNC) = 4`+"\n"+
		`1235  openat(AT_FDCWD, "/work/log", O_RDWR) = 5`+"\n"+
		`1235  openat(AT_FDCWD, "/work/missing.h", O_RDONLY) = -1 ENOENT (No such file or directory)`+"\n")

	require.Len(t, events, 4)

	require.Equal(t, Event{Kind: EventOpen, Path: "/work/foo.c", Ret: 3, Read: true}, events[0])
	require.Equal(t, Event{Kind: EventOpen, Path: "/work/foo.o", Ret: 4, Write: true}, events[1])
	require.Equal(t, Event{Kind: EventOpen, Path: "/work/log", Ret: 5, Read: true, Write: true}, events[2])
	require.Equal(t, Event{Kind: EventOpen, Path: "/work/missing.h", Ret: -1, Read: true}, events[3])
}

func TestStrace_ParseRenameVariants(t *testing.T) {
	events := parseLog(t, &StraceBackend{}, ""+
		`1234  rename("/work/b", "/work/c") = 0`+"\n"+
		`1234  renameat2(AT_FDCWD, "/work/d", AT_FDCWD, "/work/e", RENAME_NOREPLACE) = 0`+"\n"+
		`1234  renameat(AT_FDCWD, "/work/f", AT_FDCWD, "/work/g") = 0`+"\n"+
		`1234  rename("/work/x", "/work/y") = -1 ENOENT (No such file or directory)`+"\n")

	require.Len(t, events, 3)
	require.Equal(t, Event{Kind: EventRename, From: "/work/b", To: "/work/c"}, events[0])
	require.Equal(t, Event{Kind: EventRename, From: "/work/d", To: "/work/e"}, events[1])
	require.Equal(t, Event{Kind: EventRename, From: "/work/f", To: "/work/g"}, events[2])
}

func TestStrace_ParseUnlinkVariants(t *testing.T) {
	events := parseLog(t, &StraceBackend{}, ""+
		`1234  unlink("/work/tmp1") = 0`+"\n"+
		`1234  unlinkat(AT_FDCWD, "/work/tmp2", 0) = 0`+"\n"+
		`1234  unlink("/work/gone") = -1 ENOENT (No such file or directory)`+"\n")

	require.Len(t, events, 2)
	require.Equal(t, Event{Kind: EventDelete, Path: "/work/tmp1"}, events[0])
	require.Equal(t, Event{Kind: EventDelete, Path: "/work/tmp2"}, events[1])
}

func TestStrace_ParseSkipsVolatileAndUnrecognizedLines(t *testing.T) {
	events := parseLog(t, &StraceBackend{}, ""+
		`1234  openat(AT_FDCWD, "/tmp/scratch", O_WRONLY|O_CREAT) = 3`+"\n"+
		`1234  openat(AT_FDCWD, "/proc/self/maps", O_RDONLY) = 4`+"\n"+
		`1234  openat(AT_FDCWD, "/etc/ld.so.cache", O_RDONLY|O_CLOEXEC) = 5`+"\n"+
		`1234  execve("/usr/bin/cc", ["cc"], 0x7ffc...) = 0`+"\n"+
		"--- SIGCHLD {si_signo=SIGCHLD} ---\n"+
		`1234  +++ exited with 0 +++`+"\n"+
		`1234  openat(AT_FDCWD, "/work/kept", O_RDONLY) = 6`+"\n")

	require.Len(t, events, 1)
	require.Equal(t, "/work/kept", events[0].Path)
}

func TestSelect_ResolvesBackends(t *testing.T) {
	b, err := Select("trace")
	require.NoError(t, err)
	require.Equal(t, "trace", b.Name())

	b, err = Select("strace")
	require.NoError(t, err)
	require.Equal(t, "trace", b.Name())

	b, err = Select("preload")
	require.NoError(t, err)
	require.Equal(t, "preload", b.Name())

	_, err = Select("dtrace")
	require.Error(t, err)
}

func TestSetIgnorePrefixes_SwapsAndRestores(t *testing.T) {
	old := SetIgnorePrefixes([]string{"/scratch/"})
	defer SetIgnorePrefixes(old)

	require.True(t, IgnorePath("/scratch/x"))
	require.False(t, IgnorePath("/tmp/x"))
}

func TestIgnorePath_VolatilePrefixes(t *testing.T) {
	require.True(t, IgnorePath("/tmp/x"))
	require.True(t, IgnorePath("/proc/self/status"))
	require.True(t, IgnorePath("/sys/kernel/ostype"))
	require.True(t, IgnorePath("/dev/null"))
	require.True(t, IgnorePath("/etc/ld.so.cache"))
	require.False(t, IgnorePath("/etc/hosts"))
	require.False(t, IgnorePath("/home/u/project/main.go"))
}
