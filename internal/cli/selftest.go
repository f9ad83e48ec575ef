package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"stride/internal/core"
	"stride/internal/sched"
	"stride/internal/tracer"
)

// SelfTest exercises the whole pipeline against a real trace backend: the
// compilation-caching scenario, the rename atomic-publish scenario, and a
// small concurrency scenario. It needs a working cc and the selected
// backend's tracer on PATH, so it is a command, not a go test.
func SelfTest(ctx context.Context, out io.Writer, method string, cfg Config) error {
	backend, err := tracer.Select(method)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "stride-selftest-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	fmt.Fprintf(out, "self-test: backend=%s dir=%s\n", backend.Name(), dir)

	if err := testCompilation(ctx, out, backend, dir); err != nil {
		return fmt.Errorf("compilation scenario: %w", err)
	}
	if err := testRename(ctx, out, backend, dir); err != nil {
		return fmt.Errorf("rename scenario: %w", err)
	}
	if err := testConcurrency(ctx, out, backend, dir, cfg); err != nil {
		return fmt.Errorf("concurrency scenario: %w", err)
	}

	fmt.Fprintln(out, "self-test: all scenarios passed")
	return nil
}

// testCompilation checks run-then-skip-then-rerun around a real cc
// invocation: an unchanged source skips, a touched header reruns.
func testCompilation(ctx context.Context, out io.Writer, backend tracer.Backend, dir string) error {
	src := filepath.Join(dir, "stride_test_foo.c")
	hdr := filepath.Join(dir, "stride_test_foo.h")
	exe := filepath.Join(dir, "stride_test_foo.exe")
	record := exe + ".stride"

	if err := os.WriteFile(src, []byte("#include \"stride_test_foo.h\"\nint main(void){ return 0; }\n"), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(hdr, []byte("\n"), 0o644); err != nil {
		return err
	}

	command := fmt.Sprintf("cc -W -Wall -o %s %s", exe, src)
	verbose, _ := core.ParseVerbosity(core.DefaultVerbosity(), "cderR")
	opts := core.Options{Verbose: &verbose, Output: core.InheritOutput{}}

	cache := core.NewMtimeCache()
	exec := core.NewExecutor(cache, backend, core.WithDiagWriter(out))

	fmt.Fprintln(out, "== initial build")
	res, err := exec.RunIfNeeded(ctx, command, record, opts)
	if err != nil {
		return err
	}
	if res.Skipped || res.ExitCode != 0 {
		return fmt.Errorf("initial build did not run cleanly: %+v", res)
	}
	if _, err := os.Stat(exe); err != nil {
		return fmt.Errorf("executable missing after build: %w", err)
	}

	exeMtime := func() (time.Time, error) {
		info, err := os.Stat(exe)
		if err != nil {
			return time.Time{}, err
		}
		return info.ModTime(), nil
	}
	t0, err := exeMtime()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "== rebuild with no changes")
	time.Sleep(1100 * time.Millisecond) // mtime granularity
	cache.InvalidateAll()
	res, err = exec.RunIfNeeded(ctx, command, record, opts)
	if err != nil {
		return err
	}
	if !res.Skipped {
		return fmt.Errorf("unchanged rebuild was not skipped (reason %q)", res.Reason)
	}
	if t1, err := exeMtime(); err != nil || !t1.Equal(t0) {
		return fmt.Errorf("executable changed on a skipped rebuild")
	}

	fmt.Fprintln(out, "== rebuild with modified header")
	now := time.Now()
	if err := os.Chtimes(hdr, now, now); err != nil {
		return err
	}
	cache.InvalidateAll()
	res, err = exec.RunIfNeeded(ctx, command, record, opts)
	if err != nil {
		return err
	}
	if res.Skipped || res.ExitCode != 0 {
		return fmt.Errorf("touched header did not force a rebuild: %+v", res)
	}
	if t2, err := exeMtime(); err != nil || !t2.After(t0) {
		return fmt.Errorf("executable not refreshed by rebuild")
	}
	return nil
}

// testRename checks the atomic-publish idiom: a command that reads a, writes
// b and renames b to c must be recorded as reading a and writing c, with b
// absent from the record.
func testRename(ctx context.Context, out io.Writer, backend tracer.Backend, dir string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	a := filepath.Join(dir, "stride_test_rename_a")
	b := filepath.Join(dir, "stride_test_rename_b")
	c := filepath.Join(dir, "stride_test_rename_c")
	record := filepath.Join(dir, "stride_test_rename.stride")

	if err := os.WriteFile(a, nil, 0o644); err != nil {
		return err
	}

	command := fmt.Sprintf("%s --test-abc %s %s %s", self, a, b, c)
	verbose, _ := core.ParseVerbosity(core.DefaultVerbosity(), "derR")
	opts := core.Options{Verbose: &verbose, Output: core.InheritOutput{}}

	cache := core.NewMtimeCache()
	exec := core.NewExecutor(cache, backend, core.WithDiagWriter(out))

	fmt.Fprintln(out, "== running rename command for first time")
	res, err := exec.RunIfNeeded(ctx, command, record, opts)
	if err != nil {
		return err
	}
	if res.Skipped || res.ExitCode != 0 {
		return fmt.Errorf("first run did not run cleanly: %+v", res)
	}

	rec, err := core.ParseRecord(record)
	if err != nil {
		return err
	}
	if _, ok := rec.Paths[b]; ok {
		return fmt.Errorf("temp path %s leaked into the record", b)
	}
	if info, ok := rec.Paths[c]; !ok || !info.Write {
		return fmt.Errorf("renamed-to path %s not recorded as written", c)
	}
	if info, ok := rec.Paths[a]; !ok || !info.Read {
		return fmt.Errorf("input path %s not recorded as read", a)
	}

	fmt.Fprintln(out, "== running rename command again")
	time.Sleep(1100 * time.Millisecond)
	cache.InvalidateAll()
	res, err = exec.RunIfNeeded(ctx, command, record, opts)
	if err != nil {
		return err
	}
	if !res.Skipped {
		return fmt.Errorf("unchanged rerun was not skipped (reason %q)", res.Reason)
	}

	fmt.Fprintln(out, "== running rename command after touching input")
	now := time.Now()
	if err := os.Chtimes(a, now, now); err != nil {
		return err
	}
	cache.InvalidateAll()
	res, err = exec.RunIfNeeded(ctx, command, record, opts)
	if err != nil {
		return err
	}
	if res.Skipped || res.ExitCode != 0 {
		return fmt.Errorf("touched input did not force a rerun: %+v", res)
	}
	return nil
}

// testConcurrency submits ten tasks, one of which fails, through a worker
// pool and checks that the failure is aggregated and reported at Join.
func testConcurrency(ctx context.Context, out io.Writer, backend tracer.Backend, dir string, cfg Config) error {
	jobs := cfg.Jobs
	if jobs <= 0 {
		jobs = 3
	}

	cache := core.NewMtimeCache()
	exec := core.NewExecutor(cache, backend, core.WithDiagWriter(out))

	poolOpts := []sched.Option{}
	if cfg.MaxLoadAverage > 0 {
		poolOpts = append(poolOpts, sched.WithMaxLoadAverage(cfg.MaxLoadAverage))
	}
	if cfg.KeepGoing {
		poolOpts = append(poolOpts, sched.WithKeepGoing())
	}
	pool := sched.NewPool(jobs, exec, poolOpts...)
	defer pool.Shutdown()

	fmt.Fprintf(out, "== running 10 tasks on %d workers, one failing\n", jobs)
	for i := 0; i < 10; i++ {
		command := "true"
		if i == 4 {
			command = "false"
		}
		record := filepath.Join(dir, fmt.Sprintf("stride_test_task_%d.stride", i))
		if err := pool.Submit(sched.Task{Command: command, RecordPath: record}); err != nil {
			// Fail-fast submission after the failing task is expected.
			if errors.Is(err, sched.ErrTasksFailed) {
				break
			}
			return err
		}
	}

	joinErr := pool.Join()
	if cfg.KeepGoing {
		if joinErr != nil {
			return fmt.Errorf("keep-going join reported an error: %v", joinErr)
		}
	} else if !errors.Is(joinErr, sched.ErrTasksFailed) {
		return fmt.Errorf("join did not report the failed task (got %v)", joinErr)
	}
	failures := pool.Errors()
	if len(failures) != 1 {
		return fmt.Errorf("expected exactly one failure, got %d", len(failures))
	}
	if failures[0].ExitStatus == 0 {
		return fmt.Errorf("failure carries zero exit status")
	}
	if again := pool.Errors(); len(again) != 0 {
		return fmt.Errorf("drained errors were returned twice")
	}
	return nil
}
