package core

import (
	"errors"
	"fmt"
)

// ErrCommandFailed wraps a nonzero child exit for callers who asked for an
// error instead of a status (see Must).
var ErrCommandFailed = errors.New("command failed")

// CommandError carries the failing command and its exit status.
type CommandError struct {
	Command    string
	RecordPath string
	ExitStatus int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed with status %d: %s", e.ExitStatus, e.Command)
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }
