package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"stride/internal/tracer"
)

// Force overrides the analyzer's decision.
type Force int

const (
	// ForceAuto runs the command only when the analyzer says so.
	ForceAuto Force = iota
	// ForceRun always runs the command.
	ForceRun
	// ForceSkip never runs the command.
	ForceSkip
)

// Options configure one RunIfNeeded call. The zero value is usable: default
// verbosity, no force override, exact command comparison, inherited output.
type Options struct {
	// Verbose controls the run/skip diagnostics. Nil means
	// DefaultVerbosity.
	Verbose *Verbosity

	// Force overrides the analyzer (auto/always/never).
	Force Force

	// Description is human-readable text for the description diagnostic,
	// e.g. "Compiling foo.c".
	Description string

	// Compare decides whether the stored command differs from the current
	// one. Nil means exact equality.
	Compare CommandCompare

	// Output is where the child's combined stdout/stderr goes. Nil means
	// InheritOutput.
	Output Output

	// OutputPrefix is prepended to each output line.
	OutputPrefix string

	// OutputBuffer delays all output until the command has terminated,
	// then delivers it in one call.
	OutputBuffer bool
}

// Result is the outcome of RunIfNeeded. Skipped is the explicit "did not
// run" state; when false, ExitCode is the child's exit status.
type Result struct {
	Skipped  bool
	ExitCode int
	Reason   string
}

// Executor runs commands under a trace backend and persists access records.
type Executor struct {
	cache   *MtimeCache
	backend tracer.Backend
	log     *slog.Logger
	diag    io.Writer
}

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// WithLogger sets the structured logger used for debug output.
func WithLogger(l *slog.Logger) ExecOption {
	return func(e *Executor) { e.log = l }
}

// WithDiagWriter redirects the run/skip diagnostic lines (default: stdout).
func WithDiagWriter(w io.Writer) ExecOption {
	return func(e *Executor) { e.diag = w }
}

// NewExecutor creates an Executor using the given mtime cache and trace
// backend.
func NewExecutor(cache *MtimeCache, backend tracer.Backend, opts ...ExecOption) *Executor {
	e := &Executor{
		cache:   cache,
		backend: backend,
		log:     slog.Default(),
		diag:    os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunIfNeeded runs command unless the record persisted at recordPath implies
// that rerunning it would not change any output.
//
// Crash safety: before the command starts, the record file is truncated to
// zero length. If we are killed (or the machine crashes) before the new
// record is written, the next invocation finds the zero-length sentinel and
// reruns unconditionally. The new record is persisted atomically and only
// after a successful exit; on failure the sentinel is left in place.
//
// The raw trace side-file lives at recordPath+"-1" and is removed both
// before and after the run.
func (e *Executor) RunIfNeeded(ctx context.Context, command, recordPath string, opts Options) (*Result, error) {
	verbose := DefaultVerbosity()
	if opts.Verbose != nil {
		verbose = *opts.Verbose
	}

	decision := Analyze(e.cache, recordPath, command, opts.Compare)
	e.log.Debug("analyzed record",
		"record", recordPath, "rerun", decision.Rerun, "reason", decision.Reason)

	doit := decision.Rerun
	switch opts.Force {
	case ForceRun:
		doit = true
	case ForceSkip:
		doit = false
	}
	forced := doit != decision.Rerun

	if !doit {
		if msg := verbose.Diagnostic(command, opts.Description, decision.Reason, forced, true); msg != "" {
			fmt.Fprintln(e.diag, msg)
		}
		return &Result{Skipped: true, Reason: decision.Reason}, nil
	}

	// Zero-length record file first: the crash marker.
	if err := ensureParentDir(recordPath); err != nil {
		return nil, fmt.Errorf("creating record directory: %w", err)
	}
	if err := os.WriteFile(recordPath, nil, 0o644); err != nil {
		return nil, fmt.Errorf("writing record marker: %w", err)
	}

	tracePath := recordPath + "-1"
	_ = os.Remove(tracePath)
	defer os.Remove(tracePath)

	wrapped, err := e.backend.Wrap(command, tracePath)
	if err != nil {
		return nil, err
	}

	if msg := verbose.Diagnostic(command, opts.Description, decision.Reason, forced, false); msg != "" {
		fmt.Fprintln(e.diag, msg)
	}

	tBegin := unixNow()
	exitCode, err := runShell(ctx, wrapped, opts)
	tEnd := unixNow()
	if err != nil {
		return nil, err
	}

	if exitCode != 0 {
		if verbose.Failed && !verbose.Command {
			// The command was not shown above, so show it now.
			fmt.Fprintf(e.diag, "Command failed: %s\n", command)
		}
		// Leave only the zero-length marker; the next invocation is forced
		// to rerun.
		return &Result{ExitCode: exitCode, Reason: decision.Reason}, nil
	}

	builder := NewRecordBuilder(e.cache, command, tBegin, tEnd)
	if err := e.backend.Parse(tracePath, func(ev tracer.Event) {
		switch ev.Kind {
		case tracer.EventOpen:
			builder.AddOpen(ev.Path, ev.Ret, ev.Read, ev.Write)
		case tracer.EventRename:
			builder.AddRename(ev.From, ev.To)
		case tracer.EventDelete:
			builder.AddDelete(ev.Path)
		}
	}); err != nil {
		return nil, fmt.Errorf("normalizing trace output: %w", err)
	}
	if err := builder.Record().WriteFile(recordPath); err != nil {
		return nil, err
	}

	return &Result{ExitCode: 0, Reason: decision.Reason}, nil
}

// Must escalates a nonzero exit status to a CommandError; otherwise it
// behaves exactly like RunIfNeeded.
func (e *Executor) Must(ctx context.Context, command, recordPath string, opts Options) (*Result, error) {
	res, err := e.RunIfNeeded(ctx, command, recordPath, opts)
	if err != nil {
		return nil, err
	}
	if !res.Skipped && res.ExitCode != 0 {
		return res, &CommandError{Command: command, RecordPath: recordPath, ExitStatus: res.ExitCode}
	}
	return res, nil
}

// runShell spawns command via the shell, routing its combined stdout/stderr
// per the options, and returns the exit status. A non-nil error means the
// command could not be run at all.
func runShell(ctx context.Context, command string, opts Options) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	// Own process group, so children share the command's fate.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	_, inherit := opts.Output.(InheritOutput)
	needsPipe := opts.Output != nil && !inherit
	if opts.OutputPrefix != "" || opts.OutputBuffer {
		needsPipe = true
	}

	if !needsPipe {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return 0, fmt.Errorf("starting command: %w", err)
		}
		return waitExit(cmd)
	}

	// stdout and stderr always share one stream.
	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return 0, fmt.Errorf("starting command: %w", err)
	}
	pw.Close()

	write := writerFor(opts.Output)
	var buffered strings.Builder

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		if opts.OutputBuffer {
			buffered.WriteString(line)
		} else {
			write(opts.OutputPrefix + line)
		}
	}
	pr.Close()

	if opts.OutputBuffer {
		text := buffered.String()
		if opts.OutputPrefix != "" && text != "" {
			lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
			for i, l := range lines {
				lines[i] = opts.OutputPrefix + l
			}
			text = strings.Join(lines, "\n") + "\n"
		}
		write(text)
	}

	return waitExit(cmd)
}

// waitExit waits for the child and extracts its exit status.
func waitExit(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("waiting for command: %w", err)
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
