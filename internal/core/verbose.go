package core

import (
	"fmt"
	"strings"
)

// Verbosity controls the diagnostics emitted around each run/skip decision.
// Each behavior has an independent pair of booleans: one consulted when the
// command is run, one when it is skipped.
type Verbosity struct {
	// Consulted when the command is run.
	Command     bool // show the command itself
	Description bool // show the human description
	Force       bool // note that the run was forced
	Message     bool // show a generic "running command" message
	Reason      bool // show the reason for running
	Failed      bool // show the command if it fails and Command is off

	// Consulted when the command is skipped.
	SkipCommand     bool
	SkipDescription bool
	SkipForce       bool
	SkipMessage     bool
	SkipReason      bool
}

// DefaultVerbosity shows descriptions of commands that run, and failed
// commands.
func DefaultVerbosity() Verbosity {
	return Verbosity{Description: true, Failed: true}
}

// ParseVerbosity applies a flag-character spec on top of base and returns
// the result. Lower-case characters control the "ran" diagnostics,
// upper-case ones the "skipped" diagnostics:
//
//	c/C  command text
//	d/D  description
//	f/F  forcing notice
//	m/M  generic message
//	r/R  decision reason
//	e    failed-command notice
//
// A '+' switches to adding flags (the initial mode) and a '-' to removing
// them, so "dr-D" adds d and r and removes D. Unknown characters are an
// error.
func ParseVerbosity(base Verbosity, spec string) (Verbosity, error) {
	v := base
	set := true
	for _, ch := range spec {
		switch ch {
		case '+':
			set = true
		case '-':
			set = false
		case 'c':
			v.Command = set
		case 'd':
			v.Description = set
		case 'f':
			v.Force = set
		case 'm':
			v.Message = set
		case 'r':
			v.Reason = set
		case 'e':
			v.Failed = set
		case 'C':
			v.SkipCommand = set
		case 'D':
			v.SkipDescription = set
		case 'F':
			v.SkipForce = set
		case 'M':
			v.SkipMessage = set
		case 'R':
			v.SkipReason = set
		default:
			return v, fmt.Errorf("unknown verbosity flag %q", string(ch))
		}
	}
	return v, nil
}

// Diagnostic assembles the run/skip message, e.g.
//
//	Running command because input is new: "foo.h": cc -c -o foo.o foo.c
//
// skipped selects the Skip* flag set; forced reports that an explicit force
// override reversed the analyzer's decision. An empty return means nothing
// should be printed.
func (v Verbosity) Diagnostic(command, description, reason string, forced, skipped bool) string {
	showCommand := v.Command
	showDescription := v.Description
	showForce := v.Force
	showMessage := v.Message
	showReason := v.Reason
	notText := ""
	if skipped {
		showCommand = v.SkipCommand
		showDescription = v.SkipDescription
		showForce = v.SkipForce
		showMessage = v.SkipMessage
		showReason = v.SkipReason
		notText = " not"
	}

	var tail string
	if showDescription && description != "" {
		tail = "(" + description + ")"
	}
	if showCommand {
		if tail != "" {
			tail += ": "
		}
		tail += command
	}

	var head string
	if showForce && forced {
		head = fmt.Sprintf("forcing%s running of command", notText)
	}
	if showReason {
		if head == "" {
			head = strings.TrimSpace(fmt.Sprintf("%s running command", notText))
		}
		if reason != "" {
			head += " because " + reason
		}
	}
	if showMessage && head == "" {
		head = strings.TrimSpace(fmt.Sprintf("%s running command", notText))
	}
	if head != "" {
		head = strings.ToUpper(head[:1]) + head[1:]
	}

	message := head
	if tail != "" {
		if message != "" {
			message += ": "
		}
		message += tail
	}
	return message
}
