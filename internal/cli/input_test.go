package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInvocation_RecordPathThenCommand(t *testing.T) {
	inv, err := ParseInvocation([]string{"out.rec", "cc", "-c", "foo.c"})
	require.NoError(t, err)
	require.Equal(t, "out.rec", inv.RecordPath)
	require.Equal(t, "cc -c foo.c", inv.Command)
}

func TestParseInvocation_OptionsStopAtRecordPath(t *testing.T) {
	// Dashes after the record path belong to the wrapped command, not to us.
	inv, err := ParseInvocation([]string{"-v", "cr", "out.rec", "grep", "-v", "foo", "input"})
	require.NoError(t, err)
	require.Equal(t, "cr", inv.Verbose)
	require.Equal(t, "out.rec", inv.RecordPath)
	require.Equal(t, "grep -v foo input", inv.Command)
}

func TestParseInvocation_AllOptions(t *testing.T) {
	inv, err := ParseInvocation([]string{
		"--new", "gen.h", "--new", "gen.c",
		"-f", "1",
		"-m", "preload",
		"-v", "cdr",
		"--config", "custom.yaml",
		"out.rec", "make",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"gen.h", "gen.c"}, inv.NewPaths)
	require.Equal(t, "1", inv.Force)
	require.Equal(t, "preload", inv.Method)
	require.Equal(t, "cdr", inv.Verbose)
	require.Equal(t, "custom.yaml", inv.ConfigPath)
	require.Equal(t, "out.rec", inv.RecordPath)
	require.Equal(t, "make", inv.Command)
}

func TestParseInvocation_ForceRejectsOtherValues(t *testing.T) {
	_, err := ParseInvocation([]string{"-f", "2", "out.rec", "true"})
	require.Error(t, err)
	require.Equal(t, ExitInvalidInvocation, ExitCode(err))
}

func TestParseInvocation_MissingRecordPath(t *testing.T) {
	_, err := ParseInvocation([]string{"-v", "cr"})
	require.Error(t, err)
	require.Equal(t, ExitInvalidInvocation, ExitCode(err))
}

func TestParseInvocation_MissingCommand(t *testing.T) {
	_, err := ParseInvocation([]string{"out.rec"})
	require.Error(t, err)
	require.Equal(t, ExitInvalidInvocation, ExitCode(err))
}

func TestParseInvocation_MissingOptionValue(t *testing.T) {
	for _, args := range [][]string{
		{"--new"},
		{"-f"},
		{"-m"},
		{"-v"},
		{"--config"},
	} {
		_, err := ParseInvocation(args)
		require.Error(t, err, "args %v", args)
	}
}

func TestParseInvocation_UnknownOption(t *testing.T) {
	_, err := ParseInvocation([]string{"--frobnicate", "out.rec", "true"})
	require.Error(t, err)
	require.Equal(t, ExitInvalidInvocation, ExitCode(err))
}

func TestParseInvocation_ModesNeedNoRecordPath(t *testing.T) {
	inv, err := ParseInvocation([]string{"--help"})
	require.NoError(t, err)
	require.True(t, inv.ShowHelp)

	inv, err = ParseInvocation([]string{"--test"})
	require.NoError(t, err)
	require.True(t, inv.RunSelfTest)

	inv, err = ParseInvocation([]string{"--test-abc", "a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, inv.TestABC)
}

func TestParseInvocation_TestABCNeedsThreePaths(t *testing.T) {
	_, err := ParseInvocation([]string{"--test-abc", "a", "b"})
	require.Error(t, err)
}

func TestExitCode_MapsErrors(t *testing.T) {
	require.Equal(t, ExitSuccess, ExitCode(nil))
	require.Equal(t, ExitInvalidInvocation, ExitCode(invalidf("bad")))
	require.Equal(t, ExitInternalError, ExitCode(assertableError{}))
}

type assertableError struct{}

func (assertableError) Error() string { return "boom" }
