package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"stride/internal/core"
	"stride/internal/tracer"
)

// Run parses args and executes; it is the black-box entrypoint main and the
// tests share. It returns the process exit code.
func Run(ctx context.Context, args []string) (int, error) {
	inv, err := ParseInvocation(args)
	if err != nil {
		return ExitCode(err), err
	}
	return Execute(ctx, inv)
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.ExitCode
	}
	return ExitInternalError
}

// Execute performs one parsed invocation.
func Execute(ctx context.Context, inv Invocation) (int, error) {
	if inv.ShowHelp {
		fmt.Fprint(os.Stdout, Usage())
		return ExitSuccess, nil
	}
	if len(inv.TestABC) == 3 {
		if err := testABC(inv.TestABC[0], inv.TestABC[1], inv.TestABC[2]); err != nil {
			return ExitInternalError, err
		}
		return ExitSuccess, nil
	}

	cfgPath := inv.ConfigPath
	explicit := cfgPath != ""
	if !explicit {
		cfgPath = defaultConfigPath
	}
	cfg, err := LoadConfig(cfgPath, explicit)
	if err != nil {
		return ExitInvalidInvocation, err
	}

	verbose := core.DefaultVerbosity()
	if cfg.Verbose != "" {
		if verbose, err = core.ParseVerbosity(verbose, cfg.Verbose); err != nil {
			return ExitInvalidInvocation, err
		}
	}
	if inv.Verbose != "" {
		if verbose, err = core.ParseVerbosity(verbose, inv.Verbose); err != nil {
			return ExitInvalidInvocation, err
		}
	}

	method := inv.Method
	if method == "" {
		method = cfg.Method
	}

	if inv.RunSelfTest {
		if err := SelfTest(ctx, os.Stdout, method, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "self-test failed: %v\n", err)
			return ExitTestFailure, nil
		}
		return ExitSuccess, nil
	}

	backend, err := tracer.Select(method)
	if err != nil {
		return ExitInternalError, err
	}

	cache := core.NewMtimeCache()
	for _, p := range inv.NewPaths {
		cache.MarkNew(p)
	}

	opts := core.Options{Verbose: &verbose}
	switch inv.Force {
	case "0":
		opts.Force = core.ForceSkip
	case "1":
		opts.Force = core.ForceRun
	}

	exec := core.NewExecutor(cache, backend)
	res, err := exec.RunIfNeeded(ctx, inv.Command, inv.RecordPath, opts)
	if err != nil {
		return ExitInternalError, err
	}
	if res.Skipped {
		return ExitSuccess, nil
	}
	return res.ExitCode, nil
}

// testABC is the hidden helper behind the rename self-test scenario: read a,
// write b, rename b to c, so a traced run of ourselves exhibits the
// atomic-publish idiom.
func testABC(a, b, c string) error {
	fa, err := os.Open(a)
	if err != nil {
		return err
	}
	fa.Close()
	if err := os.WriteFile(b, nil, 0o644); err != nil {
		return err
	}
	return os.Rename(b, c)
}
