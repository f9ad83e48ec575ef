// Package cli parses stride invocations and drives the executor.
package cli

import (
	"fmt"
	"strings"
)

// Exit codes for invocation-level failures. When the wrapped command runs,
// the process exit code is the child's exit status; a skipped command exits 0.
const (
	ExitSuccess           = 0
	ExitTestFailure       = 1
	ExitInvalidInvocation = 2
	ExitInternalError     = 4
)

// Invocation is the canonicalized description of one stride run.
type Invocation struct {
	// RecordPath is the record site; Command is the command tail, joined
	// with single spaces exactly as it will be stored and compared.
	RecordPath string
	Command    string

	// NewPaths are treated as brand new, like make's -W.
	NewPaths []string

	// Force is "" (auto), "0" (never run) or "1" (always run).
	Force string

	// Method selects the trace backend: "", "trace" or "preload".
	Method string

	// Verbose is a flag-character spec applied on top of the defaults.
	Verbose string

	// ConfigPath overrides the default defaults-file location.
	ConfigPath string

	RunSelfTest bool
	ShowHelp    bool

	// TestABC holds the three paths of the hidden --test-abc helper mode:
	// read a, write b, rename b to c.
	TestABC []string
}

// InvocationError carries the exit code a parse failure should produce.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

const usage = `usage: stride [options] <record-path> <command...>

Runs <command> unless the record at <record-path> shows that rerunning it
would not change any output.

options:
  --new <path>   treat <path> as brand new (like make's -W); repeatable
  -f 0|1         0 never run the command, 1 always run it
  -m <backend>   trace backend: trace (strace) or preload (LD_PRELOAD shim)
  -v <flags>     verbosity flag characters (cdfmre, upper-case for skips)
  --config <p>   defaults file (default .stride.yaml if present)
  --test         run the built-in self-test suite
  -h, --help     show this help
`

// Usage returns the help text.
func Usage() string { return usage }

// ParseInvocation scans args into an Invocation. Option parsing stops at the
// first non-option argument, which is the record path; everything after it
// is the command and passes through untouched. The standard flag package is
// not used here because the command tail routinely contains its own dashed
// arguments.
func ParseInvocation(args []string) (Invocation, error) {
	var inv Invocation

	i := 0
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		i++
		switch arg {
		case "--new":
			if i >= len(args) {
				return inv, invalidf("--new requires a path")
			}
			inv.NewPaths = append(inv.NewPaths, args[i])
			i++
		case "-f":
			if i >= len(args) {
				return inv, invalidf("-f requires 0 or 1")
			}
			if args[i] != "0" && args[i] != "1" {
				return inv, invalidf("-f requires 0 or 1, got %q", args[i])
			}
			inv.Force = args[i]
			i++
		case "-m", "--method":
			if i >= len(args) {
				return inv, invalidf("%s requires a backend name", arg)
			}
			inv.Method = args[i]
			i++
		case "-v", "--verbose":
			if i >= len(args) {
				return inv, invalidf("%s requires a flag string", arg)
			}
			inv.Verbose = args[i]
			i++
		case "--config":
			if i >= len(args) {
				return inv, invalidf("--config requires a path")
			}
			inv.ConfigPath = args[i]
			i++
		case "--test":
			inv.RunSelfTest = true
		case "--test-abc":
			if i+3 > len(args) {
				return inv, invalidf("--test-abc requires three paths")
			}
			inv.TestABC = args[i : i+3]
			i += 3
		case "-h", "--help":
			inv.ShowHelp = true
		default:
			return inv, invalidf("unrecognised argument %q", arg)
		}
	}

	if inv.ShowHelp || inv.RunSelfTest || len(inv.TestABC) == 3 {
		return inv, nil
	}

	if i >= len(args) {
		return inv, invalidf("missing record path")
	}
	inv.RecordPath = args[i]
	i++
	if i >= len(args) {
		return inv, invalidf("missing command")
	}
	inv.Command = strings.Join(args[i:], " ")
	return inv, nil
}
