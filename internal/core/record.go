package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// PathInfo is what a previous run observed about one path.
type PathInfo struct {
	// Ret is the return code of the open. Negative means the open failed.
	Ret int

	// Read/Write classify the open's access mode. Multiple opens of the
	// same path are merged by ORing these together.
	Read  bool
	Write bool
}

// Record is the persisted summary of one command invocation: the exact
// command string, the wall-clock bounds of the run, and every interesting
// path the command (or its children) opened.
//
// Persisted form, one record file per record site:
//
//	command: <exact command string>
//	t_begin: <float unix time>
//	t_end: <float unix time>
//	<returnCode> <r|-><w|-> <absolute path>
//	...
//
// Path lines are sorted ascending so the file is deterministic. A record
// file of zero length is a deliberate sentinel meaning the previous run was
// interrupted or failed; see Executor.RunIfNeeded.
type Record struct {
	Command string
	TBegin  float64
	TEnd    float64
	Paths   map[string]PathInfo
}

const (
	commandPrefix = "command: "
	tBeginPrefix  = "t_begin: "
	tEndPrefix    = "t_end: "
)

// formatPathLine renders one path entry in the persisted form.
func formatPathLine(path string, info PathInfo) string {
	r := byte('-')
	if info.Read {
		r = 'r'
	}
	w := byte('-')
	if info.Write {
		w = 'w'
	}
	return fmt.Sprintf("%d %c%c %s", info.Ret, r, w, path)
}

// parsePathLine parses one `<ret> <r|-><w|-> <path>` line. ok is false for
// anything that does not look like a path entry.
func parsePathLine(line string) (path string, info PathInfo, ok bool) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 || len(line) < sp+5 {
		return "", PathInfo{}, false
	}
	ret, err := strconv.Atoi(line[:sp])
	if err != nil {
		return "", PathInfo{}, false
	}
	if line[sp+3] != ' ' {
		return "", PathInfo{}, false
	}
	info.Ret = ret
	info.Read = line[sp+1] == 'r'
	info.Write = line[sp+2] == 'w'
	return line[sp+4:], info, true
}

// WriteFile persists the record at path. The write is atomic: the content
// goes to a sibling temp file which is then renamed over the destination, so
// a reader never observes a partially written record even if we crash
// mid-write.
func (r *Record) WriteFile(path string) error {
	var b strings.Builder
	b.WriteString(commandPrefix + r.Command + "\n")
	b.WriteString(tBeginPrefix + formatUnixTime(r.TBegin) + "\n")
	b.WriteString(tEndPrefix + formatUnixTime(r.TEnd) + "\n")

	paths := make([]string, 0, len(r.Paths))
	for p := range r.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		b.WriteString(formatPathLine(p, r.Paths[p]) + "\n")
	}

	if err := ensureParentDir(path); err != nil {
		return err
	}
	tmp := path + "-"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("committing record: %w", err)
	}
	return nil
}

// ParseRecord reads a persisted record back. Malformed path lines are
// skipped rather than reported; a missed entry only biases the analysis
// toward rerunning.
func ParseRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec := &Record{Paths: make(map[string]PathInfo)}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		switch {
		case rec.Command == "" && strings.HasPrefix(line, commandPrefix):
			rec.Command = strings.TrimPrefix(line, commandPrefix)
		case rec.TBegin == 0 && strings.HasPrefix(line, tBeginPrefix):
			rec.TBegin, _ = strconv.ParseFloat(strings.TrimPrefix(line, tBeginPrefix), 64)
		case rec.TEnd == 0 && strings.HasPrefix(line, tEndPrefix):
			rec.TEnd, _ = strconv.ParseFloat(strings.TrimPrefix(line, tEndPrefix), 64)
		default:
			if p, info, ok := parsePathLine(line); ok {
				rec.Paths[p] = info
			}
		}
	}
	return rec, nil
}

func formatUnixTime(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

func ensureParentDir(path string) error {
	parent := filepath.Dir(path)
	if parent == "" || parent == "." {
		return nil
	}
	return os.MkdirAll(parent, 0o755)
}
