package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"stride/internal/cli"
)

// main canonicalizes the invocation before any engine logic runs; every
// failure mode maps to a documented exit code.
func main() {
	inv, err := cli.ParseInvocation(os.Args[1:])
	if err != nil {
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			fmt.Fprintln(os.Stderr, invErr.Message)
			fmt.Fprint(os.Stderr, cli.Usage())
			os.Exit(invErr.ExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInternalError)
	}

	code, execErr := cli.Execute(context.Background(), inv)
	if execErr != nil {
		fmt.Fprintln(os.Stderr, execErr)
	}
	os.Exit(code)
}
